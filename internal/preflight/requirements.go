package preflight

import (
	"fmt"
	"time"

	"labcore/pkg/domain"
)

// RequirementsForVersion aggregates the reagents and equipment declared by
// every step of a version. Reagents are merged by id, falling back to the
// normalized name, with quantities summed. Equipment is listed once.
func RequirementsForVersion(version domain.ProtocolVersion) ([]domain.ResourceRequirement, error) {
	var (
		reagents  []domain.ResourceRequirement
		equipment []domain.ResourceRequirement
		reagentAt = map[string]int{}
		seenEquip = map[string]bool{}
	)
	for _, step := range version.OrderedSteps() {
		for _, rg := range step.RequiredReagents {
			qty, err := domain.ParseQuantity(rg.Quantity)
			if err != nil {
				return nil, fmt.Errorf("step %s reagent %s: %w", step.ID, rg.Name, err)
			}
			key := identity(rg.ID, rg.Name)
			if idx, ok := reagentAt[key]; ok {
				reagents[idx].QuantityNeeded += qty
				continue
			}
			reagentAt[key] = len(reagents)
			reagents = append(reagents, domain.ResourceRequirement{
				Type:           domain.ResourceReagent,
				ID:             rg.ID,
				Name:           rg.Name,
				QuantityNeeded: qty,
				Unit:           rg.Unit,
			})
		}
		for _, eq := range step.RequiredEquipment {
			key := identity(eq.ID, eq.Name)
			if seenEquip[key] {
				continue
			}
			seenEquip[key] = true
			equipment = append(equipment, domain.ResourceRequirement{
				Type:           domain.ResourceEquipment,
				ID:             eq.ID,
				Name:           eq.Name,
				QuantityNeeded: 1,
			})
		}
	}
	return append(reagents, equipment...), nil
}

// WindowForVersion returns [start, start + total expected duration).
func WindowForVersion(start time.Time, version domain.ProtocolVersion) domain.TimeWindow {
	var total time.Duration
	for _, s := range version.Steps {
		total += s.ExpectedDuration
	}
	return domain.TimeWindow{Start: start, End: start.Add(total)}
}

func identity(id, name string) string {
	if id != "" {
		return "id:" + id
	}
	return "name:" + domain.NormalizeName(name)
}
