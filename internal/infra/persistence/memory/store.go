// Package memory provides an in-memory implementation of the labcore
// collaborator stores used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"labcore/pkg/domain"
)

// Compile-time contract assertions ensuring Store satisfies every collaborator interface.
var (
	_ domain.InventoryStore   = (*Store)(nil)
	_ domain.EquipmentCatalog = (*Store)(nil)
	_ domain.BookingStore     = (*Store)(nil)
	_ domain.ExecutionStore   = (*Store)(nil)
	_ domain.ProtocolCatalog  = (*Store)(nil)
	_ domain.ProjectCatalog   = (*Store)(nil)
)

type memoryState struct {
	inventory  map[string]domain.InventoryItem
	equipment  map[string]domain.EquipmentDevice
	bookings   map[string]domain.EquipmentBooking
	protocols  map[string]domain.Protocol
	projects   map[string]domain.Project
	executions map[string]domain.ProtocolExecution
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Inventory  map[string]domain.InventoryItem     `json:"inventory"`
	Equipment  map[string]domain.EquipmentDevice   `json:"equipment"`
	Bookings   map[string]domain.EquipmentBooking  `json:"bookings"`
	Protocols  map[string]domain.Protocol          `json:"protocols"`
	Projects   map[string]domain.Project           `json:"projects"`
	Executions map[string]domain.ProtocolExecution `json:"executions"`
}

func newMemoryState() memoryState {
	return memoryState{
		inventory:  make(map[string]domain.InventoryItem),
		equipment:  make(map[string]domain.EquipmentDevice),
		bookings:   make(map[string]domain.EquipmentBooking),
		protocols:  make(map[string]domain.Protocol),
		projects:   make(map[string]domain.Project),
		executions: make(map[string]domain.ProtocolExecution),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Inventory:  make(map[string]domain.InventoryItem, len(state.inventory)),
		Equipment:  make(map[string]domain.EquipmentDevice, len(state.equipment)),
		Bookings:   make(map[string]domain.EquipmentBooking, len(state.bookings)),
		Protocols:  make(map[string]domain.Protocol, len(state.protocols)),
		Projects:   make(map[string]domain.Project, len(state.projects)),
		Executions: make(map[string]domain.ProtocolExecution, len(state.executions)),
	}
	for k, v := range state.inventory {
		s.Inventory[k] = cloneItem(v)
	}
	for k, v := range state.equipment {
		s.Equipment[k] = cloneDevice(v)
	}
	for k, v := range state.bookings {
		s.Bookings[k] = v
	}
	for k, v := range state.protocols {
		s.Protocols[k] = cloneProtocol(v)
	}
	for k, v := range state.projects {
		s.Projects[k] = cloneProject(v)
	}
	for k, v := range state.executions {
		s.Executions[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Inventory {
		state.inventory[k] = cloneItem(v)
	}
	for k, v := range s.Equipment {
		state.equipment[k] = cloneDevice(v)
	}
	for k, v := range s.Bookings {
		state.bookings[k] = v
	}
	for k, v := range s.Protocols {
		state.protocols[k] = cloneProtocol(v)
	}
	for k, v := range s.Projects {
		state.projects[k] = cloneProject(v)
	}
	for k, v := range s.Executions {
		state.executions[k] = v.Clone()
	}
	return state
}

func cloneItem(i domain.InventoryItem) domain.InventoryItem {
	cp := i
	cp.EquipmentDeviceIDs = append([]string(nil), i.EquipmentDeviceIDs...)
	return cp
}

func cloneDevice(d domain.EquipmentDevice) domain.EquipmentDevice {
	cp := d
	cp.Supplies = append([]domain.Supply(nil), d.Supplies...)
	return cp
}

func cloneProtocol(p domain.Protocol) domain.Protocol {
	cp := p
	cp.Versions = make([]domain.ProtocolVersion, len(p.Versions))
	for i, v := range p.Versions {
		vc := v
		vc.Steps = make([]domain.ProtocolStep, len(v.Steps))
		for j, s := range v.Steps {
			sc := s
			sc.RequiredReagents = append([]domain.StepReagent(nil), s.RequiredReagents...)
			sc.RequiredEquipment = append([]domain.StepEquipment(nil), s.RequiredEquipment...)
			vc.Steps[j] = sc
		}
		cp.Versions[i] = vc
	}
	return cp
}

func cloneProject(p domain.Project) domain.Project {
	cp := p
	cp.EquipmentIDs = append([]string(nil), p.EquipmentIDs...)
	return cp
}

// Store provides a mutex-guarded in-memory implementation of the collaborator stores.
type Store struct {
	mu          sync.RWMutex
	state       memoryState
	nowFn       func() time.Time
	subscribers map[string]map[int]chan domain.ProtocolExecution
	nextSub     int
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		state:       newMemoryState(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		subscribers: make(map[string]map[int]chan domain.ProtocolExecution),
	}
}

// SetNowFunc overrides the clock used to stamp inventory updates.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

func labMatches(labID, candidate string) bool {
	return labID == "" || labID == candidate
}

// PutInventoryItem inserts or replaces an inventory item.
func (s *Store) PutInventoryItem(_ context.Context, item domain.InventoryItem) error {
	if item.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "inventory item id is required"}
	}
	if item.CurrentQuantity < 0 {
		return &domain.ValidationError{Field: "current_quantity", Reason: "quantity cannot be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.nowFn()
	}
	s.state.inventory[item.ID] = cloneItem(item)
	return nil
}

// ListInventory returns the lab's items ordered by id. An empty labID lists every lab.
func (s *Store) ListInventory(_ context.Context, labID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryItem, 0, len(s.state.inventory))
	for _, it := range s.state.inventory {
		if labMatches(labID, it.LabID) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AtomicDecrement subtracts amount under the store mutex, clamping at zero.
func (s *Store) AtomicDecrement(_ context.Context, itemID string, amount float64) (domain.DecrementResult, error) {
	if amount < 0 {
		return domain.DecrementResult{}, &domain.ValidationError{Field: "amount", Reason: "decrement amount cannot be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.state.inventory[itemID]
	if !ok {
		return domain.DecrementResult{}, domain.ErrNotFound{Entity: domain.EntityInventoryItem, ID: itemID}
	}
	res := ApplyDecrement(item.CurrentQuantity, item.MinQuantity, amount)
	item.CurrentQuantity = res.NewQuantity
	item.UpdatedAt = s.nowFn()
	s.state.inventory[itemID] = item
	return res, nil
}

// ApplyDecrement computes the clamped outcome of removing amount from current.
func ApplyDecrement(current, minQuantity, amount float64) domain.DecrementResult {
	next := current - amount
	shortfall := 0.0
	if next < 0 {
		shortfall = -next
		next = 0
	}
	return domain.DecrementResult{
		OK:          shortfall == 0,
		NewQuantity: next,
		NewLevel:    domain.ClassifyLevel(next, minQuantity),
		Shortfall:   shortfall,
	}
}

// PutEquipment inserts or replaces an equipment device.
func (s *Store) PutEquipment(_ context.Context, device domain.EquipmentDevice) error {
	if device.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "equipment id is required"}
	}
	for _, sup := range device.Supplies {
		if sup.BurnPerWeek < 0 {
			return &domain.ValidationError{Field: "burn_per_week", Reason: fmt.Sprintf("supply %s has a negative burn rate", sup.InventoryItemID)}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.equipment[device.ID] = cloneDevice(device)
	return nil
}

// ListEquipment returns the lab's devices ordered by id.
func (s *Store) ListEquipment(_ context.Context, labID string) ([]domain.EquipmentDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EquipmentDevice, 0, len(s.state.equipment))
	for _, d := range s.state.equipment {
		if labMatches(labID, d.LabID) {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutBooking records a booking, rejecting inverted intervals and overlaps
// with existing bookings for the same device.
func (s *Store) PutBooking(_ context.Context, booking domain.EquipmentBooking) error {
	if booking.ID == "" || booking.EquipmentID == "" {
		return &domain.ValidationError{Field: "id", Reason: "booking id and equipment id are required"}
	}
	if !booking.EndTime.After(booking.StartTime) {
		return &domain.ValidationError{Field: "end_time", Reason: "booking must end after it starts"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.state.bookings {
		if id != booking.ID && existing.ConflictsWith(booking) {
			return &domain.ValidationError{Field: "start_time", Reason: fmt.Sprintf("overlaps booking %s", id)}
		}
	}
	s.state.bookings[booking.ID] = booking
	return nil
}

// FindConflicts returns bookings for equipmentID overlapping [start, end), ordered by start.
func (s *Store) FindConflicts(_ context.Context, equipmentID string, start, end time.Time) ([]domain.EquipmentBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EquipmentBooking
	for _, b := range s.state.bookings {
		if b.EquipmentID == equipmentID && b.Overlaps(start, end) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// PutProtocol inserts or replaces a protocol and its version history.
func (s *Store) PutProtocol(_ context.Context, protocol domain.Protocol) error {
	if protocol.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "protocol id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.protocols[protocol.ID] = cloneProtocol(protocol)
	return nil
}

// ListProtocols returns the lab's protocols ordered by id.
func (s *Store) ListProtocols(_ context.Context, labID string) ([]domain.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Protocol, 0, len(s.state.protocols))
	for _, p := range s.state.protocols {
		if labMatches(labID, p.LabID) {
			out = append(out, cloneProtocol(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetProtocol returns a protocol by id.
func (s *Store) GetProtocol(_ context.Context, id string) (domain.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.protocols[id]
	if !ok {
		return domain.Protocol{}, domain.ErrNotFound{Entity: domain.EntityProtocol, ID: id}
	}
	return cloneProtocol(p), nil
}

// GetProtocolVersion returns one pinned version of a protocol.
func (s *Store) GetProtocolVersion(ctx context.Context, protocolID, versionID string) (domain.ProtocolVersion, error) {
	p, err := s.GetProtocol(ctx, protocolID)
	if err != nil {
		return domain.ProtocolVersion{}, err
	}
	v, ok := p.Version(versionID)
	if !ok {
		return domain.ProtocolVersion{}, domain.ErrNotFound{Entity: domain.EntityProtocolVersion, ID: versionID}
	}
	return v, nil
}

// PutProject inserts or replaces a project.
func (s *Store) PutProject(_ context.Context, project domain.Project) error {
	if project.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "project id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.projects[project.ID] = cloneProject(project)
	return nil
}

// ListProjects returns the lab's projects ordered by id.
func (s *Store) ListProjects(_ context.Context, labID string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.state.projects))
	for _, p := range s.state.projects {
		if labMatches(labID, p.LabID) {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op; the store holds no external resources.
func (s *Store) Close() error { return nil }
