// Package sqlite persists labcore state to an embedded SQLite database.
// Catalog and execution state is snapshotted as JSON buckets after every
// mutation; inventory quantities live in their own table so decrements run as
// a single UPDATE statement.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var (
	_ domain.InventoryStore = (*Store)(nil)
	_ domain.ExecutionStore = (*Store)(nil)
)

// Store reuses the in-memory implementation for catalogs and executions and
// keeps inventory in the inventory_items table.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates state from it.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "labcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps the single-file database free of SQLITE_BUSY under concurrent decrements
	db.SetMaxOpenConns(1)
	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		lab_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		current_quantity REAL NOT NULL CHECK (current_quantity >= 0),
		min_quantity REAL NOT NULL,
		last_shortfall REAL NOT NULL DEFAULT 0
	)`,
}

var sqliteBuckets = []string{"equipment", "bookings", "protocols", "projects", "executions"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var target any
		switch bucket {
		case "equipment":
			target = &snapshot.Equipment
		case "bookings":
			target = &snapshot.Bookings
		case "protocols":
			target = &snapshot.Protocols
		case "projects":
			target = &snapshot.Projects
		case "executions":
			target = &snapshot.Executions
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
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
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
}

func (s *Store) afterMutation(ctx context.Context, op string, err error) error {
	if err != nil {
		return err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return domain.Transient(op, fmt.Errorf("persist snapshot: %w", pErr))
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
	_, err = s.db.ExecContext(ctx, `INSERT INTO inventory_items(id, lab_id, payload, current_quantity, min_quantity, last_shortfall) VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET lab_id=excluded.lab_id, payload=excluded.payload, current_quantity=excluded.current_quantity, min_quantity=excluded.min_quantity`,
		item.ID, item.LabID, payload, item.CurrentQuantity, item.MinQuantity, 0.0)
	if err != nil {
		return domain.Transient("put inventory item", err)
	}
	return nil
}

// ListInventory reads the lab's items; the quantity column is authoritative.
func (s *Store) ListInventory(ctx context.Context, labID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload, current_quantity FROM inventory_items WHERE ? = '' OR lab_id = ? ORDER BY id`, labID, labID)
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

// AtomicDecrement subtracts amount in one UPDATE. SET expressions see the
// pre-update row, so the shortfall is computed against the old quantity.
func (s *Store) AtomicDecrement(ctx context.Context, itemID string, amount float64) (domain.DecrementResult, error) {
	if amount < 0 {
		return domain.DecrementResult{}, &domain.ValidationError{Field: "amount", Reason: "decrement amount cannot be negative"}
	}
	var qty, minQty, shortfall float64
	err := s.db.QueryRowContext(ctx, `UPDATE inventory_items
		SET last_shortfall = MAX(? - current_quantity, 0), current_quantity = MAX(current_quantity - ?, 0)
		WHERE id = ?
		RETURNING current_quantity, min_quantity, last_shortfall`, amount, amount, itemID).Scan(&qty, &minQty, &shortfall)
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
