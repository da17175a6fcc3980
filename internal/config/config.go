// Package config loads labcore settings: built-in defaults, then an optional
// YAML file, then LABCORE_* environment overrides.
//
//	LABCORE_CONFIG             path to a YAML file (optional)
//	LABCORE_STORAGE_DRIVER     memory|sqlite|postgres (default sqlite)
//	LABCORE_SQLITE_PATH        sqlite file (default ./labcore.db)
//	LABCORE_POSTGRES_DSN       postgres DSN when driver=postgres
//	LABCORE_SEED_FILE          JSON snapshot loaded into an empty store
//	LABCORE_BLOB_DRIVER        fs|s3|memory (default fs)
//	LABCORE_BLOB_FS_ROOT       fs root (default ./blobdata)
//	LABCORE_BLOB_FS_BASE_URL   base URL for fs blob links
//	LABCORE_BLOB_S3_BUCKET, LABCORE_BLOB_S3_REGION, LABCORE_BLOB_S3_ENDPOINT,
//	LABCORE_BLOB_S3_PATH_STYLE S3 / MinIO settings
//	LABCORE_DISMISSAL_DRIVER   memory|redis (default memory)
//	LABCORE_REDIS_ADDR, LABCORE_REDIS_PASSWORD, LABCORE_REDIS_DB
//	LABCORE_DISMISSAL_TTL      Go duration, e.g. 12h
//	LABCORE_HTTP_ADDR          listen address (default :8080)
//	LABCORE_LOG_LEVEL          debug|info|warn|error (default info)
//	LABCORE_INCIDENT_QUEUE     incident dispatcher queue size
//	LABCORE_METRICS            prometheus|expvar exporter on /metrics (default prometheus)
//	LABCORE_TRACE_FILE         append one JSON line per operation span to this file
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Dismissal drivers.
const (
	DismissalMemory = "memory"
	DismissalRedis  = "redis"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SeedFile    string `yaml:"seed_file,omitempty"`
}

// S3Config configures the S3 blob backend.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// BlobConfig selects where evidence media is stored.
type BlobConfig struct {
	Driver    string   `yaml:"driver"`
	FSRoot    string   `yaml:"fs_root"`
	FSBaseURL string   `yaml:"fs_base_url,omitempty"`
	S3        S3Config `yaml:"s3"`
	// PresignExpiry bounds the lifetime of presigned evidence URLs.
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// DismissalConfig selects the reorder dismissal overlay store.
type DismissalConfig struct {
	Driver string        `yaml:"driver"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// Metrics exporters.
const (
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
)

// ObservabilityConfig selects the metrics exporter and the optional span log.
type ObservabilityConfig struct {
	Metrics   string `yaml:"metrics"`
	TraceFile string `yaml:"trace_file,omitempty"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the complete runtime configuration.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Blob          BlobConfig          `yaml:"blob"`
	Dismissals    DismissalConfig     `yaml:"dismissals"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
	IncidentQueue int                 `yaml:"incident_queue"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage:       StorageConfig{Driver: StorageSQLite, SQLitePath: "./labcore.db"},
		Blob:          BlobConfig{Driver: "fs", FSRoot: "./blobdata", S3: S3Config{Region: "us-east-1"}, PresignExpiry: 15 * time.Minute},
		Dismissals:    DismissalConfig{Driver: DismissalMemory, TTL: 12 * time.Hour, Redis: RedisConfig{Addr: "localhost:6379"}},
		HTTP:          HTTPConfig{Addr: ":8080"},
		Observability: ObservabilityConfig{Metrics: MetricsPrometheus},
		LogLevel:      "info",
	}
}

// Load builds the configuration. An empty path falls back to LABCORE_CONFIG;
// a missing file at the fallback path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("LABCORE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Decode(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty document means no overrides
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays LABCORE_* variables read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LABCORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("LABCORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("LABCORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("LABCORE_SEED_FILE", &cfg.Storage.SeedFile)
	str("LABCORE_BLOB_DRIVER", &cfg.Blob.Driver)
	str("LABCORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("LABCORE_BLOB_FS_BASE_URL", &cfg.Blob.FSBaseURL)
	str("LABCORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("LABCORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("LABCORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("LABCORE_DISMISSAL_DRIVER", &cfg.Dismissals.Driver)
	str("LABCORE_REDIS_ADDR", &cfg.Dismissals.Redis.Addr)
	str("LABCORE_REDIS_PASSWORD", &cfg.Dismissals.Redis.Password)
	str("LABCORE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("LABCORE_LOG_LEVEL", &cfg.LogLevel)
	str("LABCORE_METRICS", &cfg.Observability.Metrics)
	str("LABCORE_TRACE_FILE", &cfg.Observability.TraceFile)

	if v, ok := lookup("LABCORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LABCORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		cfg.Blob.S3.PathStyle = b
	}
	ints := map[string]*int{
		"LABCORE_REDIS_DB":       &cfg.Dismissals.Redis.DB,
		"LABCORE_INCIDENT_QUEUE": &cfg.IncidentQueue,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	durations := map[string]*time.Duration{
		"LABCORE_DISMISSAL_TTL":       &cfg.Dismissals.TTL,
		"LABCORE_BLOB_PRESIGN_EXPIRY": &cfg.Blob.PresignExpiry,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage driver postgres requires LABCORE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob driver s3 requires LABCORE_BLOB_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown blob driver %s", c.Blob.Driver)
	}
	switch c.Dismissals.Driver {
	case DismissalMemory:
	case DismissalRedis:
		if c.Dismissals.Redis.Addr == "" {
			return fmt.Errorf("dismissal driver redis requires LABCORE_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown dismissal driver %s", c.Dismissals.Driver)
	}
	switch c.Observability.Metrics {
	case MetricsPrometheus, MetricsExpvar:
	default:
		return fmt.Errorf("unknown metrics exporter %s", c.Observability.Metrics)
	}
	return nil
}
