// Package resolver determines the availability of a single resource
// requirement against live inventory, equipment, and booking state.
//
// Store failures never escape as errors: they surface as StatusUnknown so the
// pre-flight gate can decide how to treat them. The only error Check returns
// is a *domain.ValidationError for malformed input.
package resolver

import (
	"context"
	"fmt"
	"time"

	"labcore/internal/health"
	"labcore/internal/logging"
	"labcore/pkg/domain"
)

// Resolver answers availability questions. It holds no state between calls.
type Resolver struct {
	inventory domain.InventoryStore
	equipment domain.EquipmentCatalog
	bookings  domain.BookingStore
	logger    logging.Logger
	now       func() time.Time
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for weak matches and store failures.
func WithLogger(l logging.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNoop(l) }
}

// WithClock overrides the time source used when a principal carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a resolver over the supplied collaborators.
func New(inventory domain.InventoryStore, equipment domain.EquipmentCatalog, bookings domain.BookingStore, opts ...Option) *Resolver {
	r := &Resolver{
		inventory: inventory,
		equipment: equipment,
		bookings:  bookings,
		logger:    logging.Noop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot is one consistent read of a lab's inventory and equipment. A
// snapshot is meant for a single gate evaluation and is never reused.
type Snapshot struct {
	resolver   *Resolver
	labID      string
	at         time.Time
	items      []domain.InventoryItem
	itemsErr   error
	devices    []domain.EquipmentDevice
	devicesErr error
}

// Snapshot loads inventory and equipment for the principal's lab.
func (r *Resolver) Snapshot(ctx context.Context, principal domain.Principal) *Snapshot {
	at := principal.At
	if at.IsZero() {
		at = r.now()
	}
	s := &Snapshot{resolver: r, labID: principal.LabID, at: at}
	s.items, s.itemsErr = r.inventory.ListInventory(ctx, principal.LabID)
	if s.itemsErr != nil {
		r.logger.Error("list inventory failed", "lab", principal.LabID, "error", s.itemsErr)
	}
	s.devices, s.devicesErr = r.equipment.ListEquipment(ctx, principal.LabID)
	if s.devicesErr != nil {
		r.logger.Error("list equipment failed", "lab", principal.LabID, "error", s.devicesErr)
	}
	return s
}

// Check resolves one requirement against a fresh snapshot.
func (r *Resolver) Check(ctx context.Context, principal domain.Principal, req domain.ResourceRequirement, window domain.TimeWindow) (domain.ResourceCheckResult, error) {
	if err := req.Validate(); err != nil {
		return domain.ResourceCheckResult{}, err
	}
	return r.Snapshot(ctx, principal).Check(ctx, req, window)
}

// Check resolves one requirement against the snapshot.
func (s *Snapshot) Check(ctx context.Context, req domain.ResourceRequirement, window domain.TimeWindow) (domain.ResourceCheckResult, error) {
	if err := req.Validate(); err != nil {
		return domain.ResourceCheckResult{}, err
	}
	if req.Type == domain.ResourceEquipment {
		return s.checkEquipment(ctx, req, window), nil
	}
	return s.checkStock(req), nil
}

func (s *Snapshot) checkEquipment(ctx context.Context, req domain.ResourceRequirement, window domain.TimeWindow) domain.ResourceCheckResult {
	res := domain.ResourceCheckResult{Requirement: req, Match: domain.MatchNone}
	if s.devicesErr != nil {
		res.Status = domain.StatusUnknown
		res.Message = fmt.Sprintf("Could not load equipment: %v", s.devicesErr)
		return res
	}
	device, kind := MatchDevice(s.devices, req.ID, req.Name)
	res.Match = kind
	if kind == domain.MatchNone {
		res.Status = domain.StatusUnavailable
		res.Message = fmt.Sprintf("Equipment %q not found", req.Label())
		return res
	}
	s.logWeak(kind, req, device.ID)
	res.ResourceID = device.ID

	maint := health.MaintenanceHealth(device.LastMaintained, device.MaintenanceIntervalDays, s.at)
	if maint <= 0 {
		res.Status = domain.StatusUnavailable
		res.Message = "Maintenance Overdue"
		return res
	}
	if !window.IsZero() {
		conflicts, err := s.resolver.bookings.FindConflicts(ctx, device.ID, window.Start, window.End)
		if err != nil {
			s.resolver.logger.Error("find booking conflicts failed", "equipment", device.ID, "error", err)
			res.Status = domain.StatusUnknown
			res.Message = fmt.Sprintf("Could not check bookings: %v", err)
			return res
		}
		if len(conflicts) > 0 {
			res.Status = domain.StatusBooked
			res.Conflicts = conflicts
			res.Message = fmt.Sprintf("Booked during the requested window (%d conflicting booking(s))", len(conflicts))
			return res
		}
	}
	res.Status = domain.StatusAvailable
	res.Available = 1
	res.Message = "Available"
	if maint < device.Threshold {
		res.Message = fmt.Sprintf("Available; maintenance due soon (health %.0f%%)", maint)
	}
	return res
}

func (s *Snapshot) checkStock(req domain.ResourceRequirement) domain.ResourceCheckResult {
	res := domain.ResourceCheckResult{Requirement: req, Match: domain.MatchNone}
	if s.itemsErr != nil {
		res.Status = domain.StatusUnknown
		res.Message = fmt.Sprintf("Could not load inventory: %v", s.itemsErr)
		return res
	}
	item, kind := MatchInventory(s.items, req.ID, req.Name)
	res.Match = kind
	if kind == domain.MatchNone {
		res.Status = domain.StatusUnavailable
		res.Message = fmt.Sprintf("%q not found in inventory", req.Label())
		return res
	}
	s.logWeak(kind, req, item.ID)
	res.ResourceID = item.ID
	res.Available = item.CurrentQuantity
	switch {
	case item.CurrentQuantity < req.QuantityNeeded:
		res.Status = domain.StatusUnavailable
		res.Message = fmt.Sprintf("Insufficient stock: %g %s available, %g needed", item.CurrentQuantity, item.Unit, req.QuantityNeeded)
	case item.CurrentQuantity < item.MinQuantity:
		res.Status = domain.StatusLow
		res.Message = fmt.Sprintf("Low stock: %g %s remaining (minimum %g)", item.CurrentQuantity, item.Unit, item.MinQuantity)
	default:
		res.Status = domain.StatusAvailable
		res.Message = "Available"
	}
	return res
}

func (s *Snapshot) logWeak(kind domain.MatchKind, req domain.ResourceRequirement, boundID string) {
	if kind != domain.MatchWeak {
		return
	}
	s.resolver.logger.Warn("requirement matched by name", "lab", s.labID, "requirement", req.Label(), "requested_id", req.ID, "bound_id", boundID)
}
