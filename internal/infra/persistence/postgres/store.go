// Package postgres persists labcore state to PostgreSQL. It mirrors the SQLite
// store: JSONB snapshot buckets for catalogs and executions, and an
// inventory_items table decremented with a single UPDATE ... RETURNING.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var (
	_ domain.InventoryStore = (*Store)(nil)
	_ domain.ExecutionStore = (*Store)(nil)
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/labcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for reads.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN),
// ensures the schema exists, and hydrates state from any existing snapshot.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		lab_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		current_quantity DOUBLE PRECISION NOT NULL CHECK (current_quantity >= 0),
		min_quantity DOUBLE PRECISION NOT NULL,
		last_shortfall DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
}

var postgresBuckets = []string{"equipment", "bookings", "protocols", "projects", "executions"}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		"equipment":  &snapshot.Equipment,
		"bookings":   &snapshot.Bookings,
		"protocols":  &snapshot.Protocols,
		"projects":   &snapshot.Projects,
		"executions": &snapshot.Executions,
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
		var data []byte
		switch bucket {
		case "equipment":
			data, err = json.Marshal(snapshot.Equipment)
		case "bookings":
			data, err = json.Marshal(snapshot.Bookings)
		case "protocols":
			data, err = json.Marshal(snapshot.Protocols)
		case "projects":
			data, err = json.Marshal(snapshot.Projects)
		case "executions":
			data, err = json.Marshal(snapshot.Executions)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) afterMutation(ctx context.Context, op string, err error) error {
	if err != nil {
		return err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return domain.Transient(op, pErr)
	}
	return nil
}

// PutInventoryItem upserts an inventory row.
func (s *Store) PutInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if item.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "inventory item id is required"}
	}
	if item.CurrentQuantity < 0 {
		return &domain.ValidationError{Field: "current_quantity", Reason: "quantity cannot be negative"}
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode inventory item: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO inventory_items(id, lab_id, payload, current_quantity, min_quantity, last_shortfall) VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(id) DO UPDATE SET lab_id=EXCLUDED.lab_id, payload=EXCLUDED.payload, current_quantity=EXCLUDED.current_quantity, min_quantity=EXCLUDED.min_quantity`,
		item.ID, item.LabID, payload, item.CurrentQuantity, item.MinQuantity, 0.0)
	if err != nil {
		return domain.Transient("put inventory item", err)
	}
	return nil
}

// ListInventory reads the lab's items; the quantity column is authoritative.
func (s *Store) ListInventory(ctx context.Context, labID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload, current_quantity FROM inventory_items WHERE $1 = '' OR lab_id = $1 ORDER BY id`, labID)
	if err != nil {
		return nil, domain.Transient("list inventory", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.InventoryItem
	for rows.Next() {
		var payload []byte
		var qty float64
		if err := rows.Scan(&payload, &qty); err != nil {
			return nil, domain.Transient("scan inventory", err)
		}
		var item domain.InventoryItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode inventory item: %w", err)
		}
		item.CurrentQuantity = qty
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient("list inventory", err)
	}
	return out, nil
}

// AtomicDecrement subtracts amount in one UPDATE, clamping at zero and
// recording the shortfall against the pre-update quantity.
func (s *Store) AtomicDecrement(ctx context.Context, itemID string, amount float64) (domain.DecrementResult, error) {
	if amount < 0 {
		return domain.DecrementResult{}, &domain.ValidationError{Field: "amount", Reason: "decrement amount cannot be negative"}
	}
	var qty, minQty, shortfall float64
	err := s.db.QueryRowContext(ctx, `UPDATE inventory_items
		SET last_shortfall = GREATEST($1 - current_quantity, 0), current_quantity = GREATEST(current_quantity - $1, 0)
		WHERE id = $2
		RETURNING current_quantity, min_quantity, last_shortfall`, amount, itemID).Scan(&qty, &minQty, &shortfall)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DecrementResult{}, domain.ErrNotFound{Entity: domain.EntityInventoryItem, ID: itemID}
	}
	if err != nil {
		return domain.DecrementResult{}, domain.Transient("decrement inventory", err)
	}
	return domain.DecrementResult{
		OK:          shortfall == 0,
		NewQuantity: qty,
		NewLevel:    domain.ClassifyLevel(qty, minQty),
		Shortfall:   shortfall,
	}, nil
}

// PutEquipment stores a device and snapshots state.
func (s *Store) PutEquipment(ctx context.Context, device domain.EquipmentDevice) error {
	return s.afterMutation(ctx, "put equipment", s.Store.PutEquipment(ctx, device))
}

// PutBooking stores a booking and snapshots state.
func (s *Store) PutBooking(ctx context.Context, booking domain.EquipmentBooking) error {
	return s.afterMutation(ctx, "put booking", s.Store.PutBooking(ctx, booking))
}

// PutProtocol stores a protocol and snapshots state.
func (s *Store) PutProtocol(ctx context.Context, protocol domain.Protocol) error {
	return s.afterMutation(ctx, "put protocol", s.Store.PutProtocol(ctx, protocol))
}

// PutProject stores a project and snapshots state.
func (s *Store) PutProject(ctx context.Context, project domain.Project) error {
	return s.afterMutation(ctx, "put project", s.Store.PutProject(ctx, project))
}

// CreateExecution stores a new execution and snapshots state.
func (s *Store) CreateExecution(ctx context.Context, exec domain.ProtocolExecution) error {
	return s.afterMutation(ctx, "create execution", s.Store.CreateExecution(ctx, exec))
}

// UpdateExecution merges patch and snapshots state.
func (s *Store) UpdateExecution(ctx context.Context, id string, patch domain.ExecutionPatch) error {
	return s.afterMutation(ctx, "update execution", s.Store.UpdateExecution(ctx, id, patch))
}

// Seed loads a snapshot, writing inventory rows to their table.
func (s *Store) Seed(ctx context.Context, snapshot memory.Snapshot) error {
	for _, item := range snapshot.Inventory {
		if err := s.PutInventoryItem(ctx, item); err != nil {
			return err
		}
	}
	snapshot.Inventory = nil
	return s.afterMutation(ctx, "seed", s.Store.Seed(ctx, snapshot))
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
