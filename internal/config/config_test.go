package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Storage.Driver != StorageSQLite || cfg.HTTP.Addr != ":8080" || cfg.Dismissals.TTL != 12*time.Hour || cfg.Observability.Metrics != MetricsPrometheus {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestDecodeOverlaysYAML(t *testing.T) {
	cfg := Default()
	doc := `
storage:
  driver: postgres
  postgres_dsn: postgres://db/labcore
blob:
  driver: s3
  s3:
    bucket: evidence
    path_style: true
dismissals:
  driver: redis
  ttl: 30m
observability:
  metrics: expvar
  trace_file: spans.jsonl
log_level: debug
`
	if err := Decode([]byte(doc), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Storage.Driver != StoragePostgres || cfg.Blob.S3.Bucket != "evidence" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Dismissals.TTL != 30*time.Minute || cfg.Dismissals.Redis.Addr != "localhost:6379" {
		t.Fatalf("yaml must overlay, not replace: %+v", cfg.Dismissals)
	}
	if cfg.Observability.Metrics != MetricsExpvar || cfg.Observability.TraceFile != "spans.jsonl" {
		t.Fatalf("unexpected observability %+v", cfg.Observability)
	}
	if cfg.Blob.S3.Region != "us-east-1" || cfg.HTTP.Addr != ":8080" {
		t.Fatalf("untouched defaults lost: %+v", cfg)
	}
	if err := Decode(nil, &cfg); err != nil {
		t.Fatalf("empty document: %v", err)
	}
	if err := Decode([]byte("storage:\n  drvier: memory\n"), &cfg); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, envMap(map[string]string{
		"LABCORE_STORAGE_DRIVER":     "memory",
		"LABCORE_BLOB_DRIVER":        "memory",
		"LABCORE_BLOB_S3_PATH_STYLE": "true",
		"LABCORE_REDIS_DB":           "3",
		"LABCORE_DISMISSAL_TTL":      "90s",
		"LABCORE_HTTP_ADDR":          " 127.0.0.1:9000 ",
		"LABCORE_LOG_LEVEL":          "",
		"LABCORE_METRICS":            "expvar",
		"LABCORE_TRACE_FILE":         "/var/log/labcore/spans.jsonl",
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Storage.Driver != StorageMemory || cfg.Blob.Driver != "memory" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Dismissals.Redis.DB != 3 || cfg.Dismissals.TTL != 90*time.Second || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("blank variables must not override, got %q", cfg.LogLevel)
	}
	if cfg.Observability.Metrics != MetricsExpvar || cfg.Observability.TraceFile != "/var/log/labcore/spans.jsonl" {
		t.Fatalf("unexpected observability %+v", cfg.Observability)
	}

	for key, bad := range map[string]string{"LABCORE_REDIS_DB": "x", "LABCORE_DISMISSAL_TTL": "soon", "LABCORE_BLOB_S3_PATH_STYLE": "maybe"} {
		c := Default()
		if err := ApplyEnv(&c, envMap(map[string]string{key: bad})); err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=%s: expected error naming the key, got %v", key, bad, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"storage", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"postgres dsn", func(c *Config) { c.Storage.Driver = StoragePostgres }},
		{"blob", func(c *Config) { c.Blob.Driver = "tape" }},
		{"s3 bucket", func(c *Config) { c.Blob.Driver = "s3" }},
		{"dismissals", func(c *Config) { c.Dismissals.Driver = "cookie" }},
		{"redis addr", func(c *Config) { c.Dismissals.Driver = DismissalRedis; c.Dismissals.Redis.Addr = "" }},
		{"metrics", func(c *Config) { c.Observability.Metrics = "statsd" }},
		{"metrics blank", func(c *Config) { c.Observability.Metrics = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}
}

func TestLoadReadsFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labcore.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: memory\nhttp:\n  addr: \":7000\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LABCORE_HTTP_ADDR", ":7100")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != StorageMemory || cfg.HTTP.Addr != ":7100" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("explicit missing file must fail")
	}
	t.Setenv("LABCORE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(""); err != nil {
		t.Fatalf("missing LABCORE_CONFIG file should fall back to defaults: %v", err)
	}
}
