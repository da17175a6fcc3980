// Package domain defines the laboratory entities, derived value types, and
// collaborator contracts used by the labcore resource and execution engine.
package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the kind of record referenced in errors and logs.
type EntityType string

// Supported entity type identifiers.
const (
	EntityInventoryItem EntityType = "inventory_item"
	EntityEquipment     EntityType = "equipment"
	EntityBooking       EntityType = "equipment_booking"
	EntityProtocol      EntityType = "protocol"
	// EntityProtocolVersion identifies a pinned version inside a protocol history.
	EntityProtocolVersion EntityType = "protocol_version"
	EntityExecution       EntityType = "protocol_execution"
	EntityProject         EntityType = "project"
	EntityStep            EntityType = "protocol_step"
	EntityMedia           EntityType = "media"
)

// StockLevel classifies an inventory item against its reorder threshold.
type StockLevel string

// Stock levels are always derived from quantity, never stored.
const (
	LevelOK         StockLevel = "ok"
	LevelLow        StockLevel = "low"
	LevelOutOfStock StockLevel = "out_of_stock"
)

// ClassifyLevel derives the stock level for a quantity and reorder minimum.
func ClassifyLevel(current, minQuantity float64) StockLevel {
	switch {
	case current <= 0:
		return LevelOutOfStock
	case current < minQuantity:
		return LevelLow
	default:
		return LevelOK
	}
}

// InventoryItem is a consumable tracked by quantity.
type InventoryItem struct {
	ID                 string          `json:"id"`
	LabID              string          `json:"lab_id"`
	Name               string          `json:"name"`
	CatalogNumber      string          `json:"catalog_number,omitempty"`
	CurrentQuantity    float64         `json:"current_quantity"`
	MinQuantity        float64         `json:"min_quantity"`
	Unit               string          `json:"unit,omitempty"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Supplier           string          `json:"supplier,omitempty"`
	EquipmentDeviceIDs []string        `json:"equipment_device_ids"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Level recomputes the stock level from the current quantity.
func (i InventoryItem) Level() StockLevel {
	return ClassifyLevel(i.CurrentQuantity, i.MinQuantity)
}

// Supply links a device to the inventory item it consumes. Quantity and price
// are always resolved from the referenced item.
type Supply struct {
	InventoryItemID string  `json:"inventory_item_id"`
	MinQty          float64 `json:"min_qty"`
	BurnPerWeek     float64 `json:"burn_per_week"`
}

// EquipmentDevice is a piece of lab equipment with maintenance metadata.
type EquipmentDevice struct {
	ID                      string    `json:"id"`
	LabID                   string    `json:"lab_id"`
	Name                    string    `json:"name"`
	MaintenanceIntervalDays int       `json:"maintenance_interval_days"`
	LastMaintained          time.Time `json:"last_maintained"`
	// Threshold is the health percentage below which maintenance is due.
	Threshold float64  `json:"threshold"`
	Supplies  []Supply `json:"supplies"`
}

// EquipmentBooking reserves a device for a half-open interval [StartTime, EndTime).
type EquipmentBooking struct {
	ID          string    `json:"id"`
	EquipmentID string    `json:"equipment_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	BookedBy    string    `json:"booked_by"`
}

// Overlaps reports whether the booking intersects [start, end).
func (b EquipmentBooking) Overlaps(start, end time.Time) bool {
	return start.Before(b.EndTime) && end.After(b.StartTime)
}

// ConflictsWith reports whether two bookings for the same equipment overlap.
func (b EquipmentBooking) ConflictsWith(other EquipmentBooking) bool {
	return b.EquipmentID == other.EquipmentID && b.Overlaps(other.StartTime, other.EndTime)
}

// TimeWindow is a half-open interval used for booking conflict queries.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether no window was supplied.
func (w TimeWindow) IsZero() bool { return w.Start.IsZero() && w.End.IsZero() }

// StepReagent is a reagent declared by a protocol step. Quantity is kept as
// authored ("5", "2.5 mL") and parsed with ParseQuantity.
type StepReagent struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
}

// StepEquipment is an equipment reference declared by a protocol step.
type StepEquipment struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ProtocolStep is one immutable instruction within a protocol version.
type ProtocolStep struct {
	ID                string          `json:"id"`
	Order             int             `json:"order"`
	Instruction       string          `json:"instruction"`
	RequiredReagents  []StepReagent   `json:"required_reagents"`
	RequiredEquipment []StepEquipment `json:"required_equipment"`
	ExpectedDuration  time.Duration   `json:"expected_duration"`
	SafetyNotes       string          `json:"safety_notes,omitempty"`
}

// ProtocolVersion is an entry in a protocol's append-only version history.
type ProtocolVersion struct {
	ID        string         `json:"id"`
	Number    int            `json:"number"`
	CreatedAt time.Time      `json:"created_at"`
	Steps     []ProtocolStep `json:"steps"`
}

// OrderedSteps returns the steps sorted by their declared order.
func (v ProtocolVersion) OrderedSteps() []ProtocolStep {
	out := append([]ProtocolStep(nil), v.Steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Protocol is a named procedure with a version history.
type Protocol struct {
	ID              string            `json:"id"`
	LabID           string            `json:"lab_id"`
	Name            string            `json:"name"`
	ActiveVersionID string            `json:"active_version_id"`
	Versions        []ProtocolVersion `json:"versions"`
}

// Version returns the version with the given id.
func (p Protocol) Version(id string) (ProtocolVersion, bool) {
	for _, v := range p.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return ProtocolVersion{}, false
}

// ActiveVersion returns the version currently pointed to by ActiveVersionID.
func (p Protocol) ActiveVersion() (ProtocolVersion, bool) {
	return p.Version(p.ActiveVersionID)
}

// ProjectStatus describes whether a project currently consumes resources.
type ProjectStatus string

// Project statuses.
const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
)

// Project is a funded body of work that uses lab equipment.
type Project struct {
	ID           string        `json:"id"`
	LabID        string        `json:"lab_id"`
	Name         string        `json:"name"`
	Account      string        `json:"account"`
	Status       ProjectStatus `json:"status"`
	EquipmentIDs []string      `json:"equipment_ids"`
}

// IsActive reports whether the project's work currently consumes supplies.
func (p Project) IsActive() bool { return p.Status == ProjectActive }

// Principal carries the explicit actor, tenant, and timestamp for an operation.
type Principal struct {
	ActorID string    `json:"actor_id"`
	LabID   string    `json:"lab_id"`
	At      time.Time `json:"at"`
}

// Incident is raised when a step is flagged as problematic.
type Incident struct {
	ID          string    `json:"id"`
	LabID       string    `json:"lab_id"`
	ExecutionID string    `json:"execution_id"`
	ProtocolID  string    `json:"protocol_id"`
	StepID      string    `json:"step_id"`
	ReportedBy  string    `json:"reported_by"`
	Message     string    `json:"message"`
	ReportedAt  time.Time `json:"reported_at"`
}

// NormalizeName folds a resource name for the weak, name-based match phase.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
