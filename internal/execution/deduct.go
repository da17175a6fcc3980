package execution

import (
	"context"

	"labcore/internal/resolver"
	"labcore/pkg/domain"
)

// deduct removes each reagent independently. Failures become warnings.
func (s *Session) deduct(ctx context.Context, execID string, e DeductEffect) {
	defer s.inflight.Done()
	if s.deps.Inventory == nil {
		return
	}
	items, err := s.deps.Inventory.ListInventory(ctx, e.LabID)
	if err != nil {
		for _, rg := range e.Reagents {
			s.warn(Warning{ExecutionID: execID, StepID: e.StepID, Reagent: rg.Name, Class: domain.ClassTransientIO, Err: domain.Transient("list inventory", err)})
		}
		return
	}
	for _, rg := range e.Reagents {
		s.deductOne(ctx, execID, e, items, rg)
	}
}

func (s *Session) deductOne(ctx context.Context, execID string, e DeductEffect, items []domain.InventoryItem, rg domain.StepReagent) {
	base := Warning{ExecutionID: execID, StepID: e.StepID, Reagent: rg.Name}
	qty, err := domain.ParseQuantity(rg.Quantity)
	if err != nil {
		base.Class, base.Err = domain.ClassValidation, err
		s.warn(base)
		return
	}
	if qty == 0 {
		return
	}
	item, kind := resolver.MatchInventory(items, rg.ID, rg.Name)
	switch kind {
	case domain.MatchNone:
		label := rg.ID
		if label == "" {
			label = rg.Name
		}
		base.Class, base.Err = domain.ClassNotFound, domain.ErrNotFound{Entity: domain.EntityInventoryItem, ID: label}
		s.warn(base)
		return
	case domain.MatchWeak:
		s.logger.Warn("reagent matched by name", "execution", execID, "reagent", rg.Name, "item", item.ID)
	}
	base.ItemID = item.ID

	res, err := s.deps.Inventory.AtomicDecrement(ctx, item.ID, qty)
	if err != nil {
		base.Class, base.Err = domain.Classify(err), domain.Transient("decrement inventory", err)
		s.warn(base)
		return
	}
	if !res.OK {
		base.Class = domain.ClassConcurrencyConflict
		base.Level = res.NewLevel
		base.Err = &domain.InsufficientStockError{ItemID: item.ID, Requested: qty, Shortfall: res.Shortfall}
		s.warn(base)
		return
	}
	s.logger.Info("reagent deducted", "execution", execID, "step", e.StepID, "item", item.ID, "amount", qty, "remaining", res.NewQuantity, "level", string(res.NewLevel))
}
