package domain

import (
	"context"
	"io"
	"time"
)

// DecrementResult reports the outcome of an atomic inventory decrement.
// OK is false when the store held less than requested; the quantity is then
// clamped to zero and Shortfall holds the missing amount.
type DecrementResult struct {
	OK          bool       `json:"ok"`
	NewQuantity float64    `json:"new_quantity"`
	NewLevel    StockLevel `json:"new_level"`
	Shortfall   float64    `json:"shortfall,omitempty"`
}

// InventoryStore reads inventory and applies atomic decrements. Decrements
// must be a single operation at the storage boundary, never read-modify-write
// in application memory.
type InventoryStore interface {
	ListInventory(ctx context.Context, labID string) ([]InventoryItem, error)
	AtomicDecrement(ctx context.Context, itemID string, amount float64) (DecrementResult, error)
}

// EquipmentCatalog lists equipment devices.
type EquipmentCatalog interface {
	ListEquipment(ctx context.Context, labID string) ([]EquipmentDevice, error)
}

// BookingStore answers booking conflict queries for a half-open window.
type BookingStore interface {
	FindConflicts(ctx context.Context, equipmentID string, start, end time.Time) ([]EquipmentBooking, error)
}

// ExecutionStore persists protocol executions. Updates are partial merges so
// concurrent field-level writers do not overwrite each other.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec ProtocolExecution) error
	UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error
	GetExecution(ctx context.Context, id string) (ProtocolExecution, error)
	// Subscribe streams the execution after every update until ctx is done.
	Subscribe(ctx context.Context, id string) (<-chan ProtocolExecution, error)
}

// ProtocolCatalog resolves protocols and their pinned versions.
type ProtocolCatalog interface {
	GetProtocol(ctx context.Context, id string) (Protocol, error)
	GetProtocolVersion(ctx context.Context, protocolID, versionID string) (ProtocolVersion, error)
}

// ProjectCatalog lists projects for cost apportionment.
type ProjectCatalog interface {
	ListProjects(ctx context.Context, labID string) ([]Project, error)
}

// IncidentSink receives flagged-step incidents. Report is fire-and-forget.
type IncidentSink interface {
	Report(ctx context.Context, incident Incident)
}

// MediaRef is the stored location of uploaded evidence.
type MediaRef struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// MediaSink uploads evidence blobs; the core only keeps the returned URL.
type MediaSink interface {
	Upload(ctx context.Context, r io.Reader, path, contentType string) (MediaRef, error)
}

// Stores groups the collaborators a full deployment wires together.
type Stores struct {
	Inventory  InventoryStore
	Equipment  EquipmentCatalog
	Bookings   BookingStore
	Executions ExecutionStore
	Protocols  ProtocolCatalog
	Projects   ProjectCatalog
}
