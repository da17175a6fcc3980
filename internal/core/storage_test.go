package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labcore/internal/config"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/internal/logging"
	"labcore/internal/reorder"
	"labcore/pkg/domain"
)

func writeSeed(t *testing.T, dir string) string {
	t.Helper()
	snap := memory.Snapshot{
		Inventory: map[string]domain.InventoryItem{
			"etoh": {ID: "etoh", LabID: "lab", Name: "EtOH", CurrentQuantity: 5, MinQuantity: 2},
		},
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	path := filepath.Join(dir, "seed.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seed := writeSeed(t, dir)

	cases := []struct {
		name string
		cfg  config.StorageConfig
		want string
	}{
		{"memory", config.StorageConfig{Driver: config.StorageMemory, SeedFile: seed}, "*memory.Store"},
		{"sqlite", config.StorageConfig{Driver: config.StorageSQLite, SQLitePath: filepath.Join(dir, "lab.db"), SeedFile: seed}, "*sqlite.Store"},
		{"empty driver is sqlite", config.StorageConfig{SQLitePath: filepath.Join(dir, "default.db"), SeedFile: seed}, "*sqlite.Store"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := OpenStore(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer func() { _ = st.Close() }()
			switch st.(type) {
			case *memory.Store:
				if tc.want != "*memory.Store" {
					t.Fatalf("got memory store, want %s", tc.want)
				}
			case *sqlite.Store:
				if tc.want != "*sqlite.Store" {
					t.Fatalf("got sqlite store, want %s", tc.want)
				}
			default:
				t.Fatalf("unexpected store %T", st)
			}
			if q := quantityOf(t, st, "etoh"); q != 5 {
				t.Fatalf("seed not applied: %v", q)
			}
		})
	}
}

func TestOpenStoreErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, config.StorageConfig{Driver: "mongo"}); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("unknown driver = %v", err)
	}
	_, err := OpenStore(ctx, config.StorageConfig{Driver: config.StorageMemory, SeedFile: filepath.Join(t.TempDir(), "absent.json")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing seed = %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenStore(ctx, config.StorageConfig{Driver: config.StorageMemory, SeedFile: bad}); err == nil {
		t.Fatalf("malformed seed must fail")
	}
}

func TestOpenDismissals(t *testing.T) {
	ctx := context.Background()
	d, closeFn, err := OpenDismissals(ctx, config.DismissalConfig{Driver: config.DismissalMemory})
	if err != nil {
		t.Fatalf("memory dismissals: %v", err)
	}
	if _, ok := d.(*reorder.MemoryDismissals); !ok {
		t.Fatalf("unexpected dismissals %T", d)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := OpenDismissals(ctx, config.DismissalConfig{Driver: "etcd"}); err == nil {
		t.Fatalf("unknown dismissal driver must fail")
	}
}

func TestOpenMediaSinkAndIncidents(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenMediaSink(ctx, config.BlobConfig{Driver: "fs", FSRoot: t.TempDir()}, logging.Noop())
	if err != nil {
		t.Fatalf("fs sink: %v", err)
	}
	ref, err := sink.Upload(ctx, strings.NewReader("gel image"), "labs/lab", "image/png")
	if err != nil || ref.URL == "" {
		t.Fatalf("upload: %v %+v", err, ref)
	}
	if _, err := OpenMediaSink(ctx, config.BlobConfig{Driver: "tape"}, nil); err == nil {
		t.Fatalf("unknown blob driver must fail")
	}

	d := OpenIncidents(4, logging.Noop())
	d.Report(ctx, domain.Incident{ID: "i1", StepID: "s1"})
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}
}

func TestOpenObservability(t *testing.T) {
	exporter, tracer, closeFn, err := OpenObservability(config.ObservabilityConfig{Metrics: config.MetricsPrometheus})
	if err != nil {
		t.Fatalf("prometheus: %v", err)
	}
	if _, ok := exporter.(*PrometheusMetricsRecorder); !ok {
		t.Fatalf("expected prometheus exporter, got %T", exporter)
	}
	if _, ok := tracer.(noopTracer); !ok || closeFn() != nil {
		t.Fatalf("no trace file should leave tracing off, got %T", tracer)
	}

	path := filepath.Join(t.TempDir(), "spans.jsonl")
	exporter, tracer, closeFn, err = OpenObservability(config.ObservabilityConfig{Metrics: config.MetricsExpvar, TraceFile: path})
	if err != nil {
		t.Fatalf("expvar: %v", err)
	}
	if _, ok := exporter.(*ExpvarMetricsRecorder); !ok {
		t.Fatalf("expected expvar exporter, got %T", exporter)
	}
	svc := NewService(seedLab(t), WithClock(fixedClock()), WithMetricsRecorder(exporter), WithTracer(tracer))
	if _, err := svc.ListInventory(context.Background(), labUser()); err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), `"operation":"`+opListInventory+`"`) {
		t.Fatalf("trace file = %q %v", data, err)
	}

	if _, _, _, err := OpenObservability(config.ObservabilityConfig{Metrics: "statsd"}); err == nil {
		t.Fatalf("expected unknown exporter error")
	}
	if _, _, _, err := OpenObservability(config.ObservabilityConfig{TraceFile: filepath.Join(t.TempDir(), "missing", "spans.jsonl")}); err == nil {
		t.Fatalf("expected trace file error")
	}
}

func TestPreflightErrorMatching(t *testing.T) {
	fail := &PreflightError{Report: domain.GateReport{Overall: domain.VerdictFail, PerResource: []domain.ResourceCheckResult{{Status: domain.StatusUnavailable}, {Status: domain.StatusAvailable}}}}
	warn := &PreflightError{Report: domain.GateReport{Overall: domain.VerdictWarning}}
	if !errors.Is(fail, ErrPreflightBlocked) || errors.Is(fail, ErrPreflightUnacknowledged) {
		t.Fatalf("fail verdict should only match ErrPreflightBlocked")
	}
	if !errors.Is(warn, ErrPreflightUnacknowledged) || errors.Is(warn, ErrPreflightBlocked) {
		t.Fatalf("warning verdict should only match ErrPreflightUnacknowledged")
	}
	if !strings.Contains(fail.Error(), "1 blocking") {
		t.Fatalf("unexpected message %q", fail.Error())
	}
}
