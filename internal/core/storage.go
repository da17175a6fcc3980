package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"labcore/internal/blob"
	"labcore/internal/config"
	"labcore/internal/incident"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/internal/logging"
	"labcore/internal/media"
	"labcore/internal/reorder"
	"labcore/pkg/domain"
)

// Store is the full collaborator surface a persistent backend offers.
type Store interface {
	domain.InventoryStore
	domain.EquipmentCatalog
	domain.BookingStore
	domain.ExecutionStore
	domain.ProtocolCatalog
	domain.ProjectCatalog
	PutInventoryItem(ctx context.Context, item domain.InventoryItem) error
	PutEquipment(ctx context.Context, device domain.EquipmentDevice) error
	PutBooking(ctx context.Context, booking domain.EquipmentBooking) error
	PutProtocol(ctx context.Context, protocol domain.Protocol) error
	PutProject(ctx context.Context, project domain.Project) error
	ListProtocols(ctx context.Context, labID string) ([]domain.Protocol, error)
	ListExecutions(ctx context.Context, labID string) ([]domain.ProtocolExecution, error)
	Seed(ctx context.Context, snapshot memory.Snapshot) error
	Close() error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// OpenStore selects a backend from cfg and loads the seed file when one is
// configured.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case config.StorageMemory:
		store = memory.NewStore()
	case config.StorageSQLite, "":
		store, err = openSQLite(cfg.SQLitePath)
	case config.StoragePostgres:
		store, err = openPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.SeedFile != "" {
		if err := SeedFromFile(ctx, store, cfg.SeedFile); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func openSQLite(path string) (Store, error) {
	s, err := sqlite.NewStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (Store, error) {
	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SeedFromFile decodes a JSON snapshot and writes every record into store.
func SeedFromFile(ctx context.Context, store Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	snap, err := memory.DecodeSnapshot(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return store.Seed(ctx, snap)
}

// OpenMediaSink builds the evidence sink over the configured blob backend.
func OpenMediaSink(ctx context.Context, cfg config.BlobConfig, logger logging.Logger) (*media.Sink, error) {
	store, err := blob.Open(ctx, blob.Config{
		Driver:    blob.Driver(cfg.Driver),
		FSRoot:    cfg.FSRoot,
		FSBaseURL: cfg.FSBaseURL,
		S3: blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return media.NewSink(store, media.WithExpiry(cfg.PresignExpiry), media.WithLogger(logger)), nil
}

// OpenDismissals returns the dismissal overlay named by cfg. The returned
// closer releases the Redis connection and is never nil.
func OpenDismissals(ctx context.Context, cfg config.DismissalConfig) (reorder.Dismissals, func() error, error) {
	switch cfg.Driver {
	case config.DismissalMemory, "":
		return reorder.NewMemoryDismissals(cfg.TTL), func() error { return nil }, nil
	case config.DismissalRedis:
		client, err := reorder.NewRedisClient(ctx, reorder.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return reorder.NewRedisDismissals(client, cfg.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown dismissal driver %s", cfg.Driver)
	}
}

// OpenIncidents logs incidents through an asynchronous dispatcher so
// reporting never blocks a step.
func OpenIncidents(queueSize int, logger logging.Logger) *incident.Dispatcher {
	return incident.NewDispatcher(incident.NewLogSink(logger), queueSize, logger)
}

// Exporter is a metrics recorder that can also serve what it records.
type Exporter interface {
	MetricsRecorder
	Handler() http.Handler
}

// OpenObservability returns the metrics exporter named by cfg and, when a
// trace file is set, a tracer appending spans to it. The closer is never nil.
func OpenObservability(cfg config.ObservabilityConfig) (Exporter, Tracer, func() error, error) {
	var exporter Exporter
	switch cfg.Metrics {
	case config.MetricsPrometheus, "":
		exporter = NewPrometheusMetricsRecorder()
	case config.MetricsExpvar:
		exporter = NewExpvarMetricsRecorder(DefaultExpvarName)
	default:
		return nil, nil, nil, fmt.Errorf("unknown metrics exporter %s", cfg.Metrics)
	}
	if cfg.TraceFile == "" {
		return exporter, noopTracer{}, func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	tracer := NewSpanLogTracer(f)
	closer := func() error {
		return errors.Join(tracer.Sync(), f.Close())
	}
	return exporter, tracer, closer, nil
}
