package preflight

import (
	"testing"
	"time"

	"labcore/pkg/domain"
)

func version() domain.ProtocolVersion {
	return domain.ProtocolVersion{
		ID:     "v2",
		Number: 2,
		Steps: []domain.ProtocolStep{
			{
				ID: "wash", Order: 2, ExpectedDuration: 20 * time.Minute,
				RequiredReagents:  []domain.StepReagent{{Name: "EtOH", Quantity: "3 mL"}},
				RequiredEquipment: []domain.StepEquipment{{ID: "cent", Name: "Centrifuge"}},
			},
			{
				ID: "prep", Order: 1, ExpectedDuration: 10 * time.Minute,
				RequiredReagents: []domain.StepReagent{
					{Name: " etoh ", Quantity: "2"},
					{ID: "tae", Name: "TAE Buffer", Quantity: "1.5"},
				},
				RequiredEquipment: []domain.StepEquipment{{ID: "cent", Name: "Centrifuge"}, {Name: "Vortex"}},
			},
		},
	}
}

func TestRequirementsForVersionAggregates(t *testing.T) {
	reqs, err := RequirementsForVersion(version())
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	want := []domain.ResourceRequirement{
		{Type: domain.ResourceReagent, Name: " etoh ", QuantityNeeded: 5},
		{Type: domain.ResourceReagent, ID: "tae", Name: "TAE Buffer", QuantityNeeded: 1.5},
		{Type: domain.ResourceEquipment, ID: "cent", Name: "Centrifuge", QuantityNeeded: 1},
		{Type: domain.ResourceEquipment, Name: "Vortex", QuantityNeeded: 1},
	}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requirements: %+v", len(reqs), reqs)
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Errorf("requirement %d = %+v, want %+v", i, reqs[i], want[i])
		}
	}
}

func TestRequirementsForVersionRejectsBadQuantity(t *testing.T) {
	v := version()
	v.Steps[0].RequiredReagents[0].Quantity = "some"
	if _, err := RequirementsForVersion(v); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWindowForVersion(t *testing.T) {
	w := WindowForVersion(now, version())
	if !w.Start.Equal(now) || w.End.Sub(w.Start) != 30*time.Minute {
		t.Fatalf("unexpected window %+v", w)
	}
	empty := WindowForVersion(now, domain.ProtocolVersion{})
	if !empty.End.Equal(empty.Start) {
		t.Fatalf("version without durations yields an empty window")
	}
}
