package preflight

import (
	"context"
	"strings"
	"testing"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/resolver"
	"labcore/pkg/domain"
)

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func seededGate(t *testing.T) (*Gate, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()
	items := []domain.InventoryItem{
		{ID: "etoh", LabID: "lab", Name: "EtOH", CurrentQuantity: 50, MinQuantity: 10},
		{ID: "buffer", LabID: "lab", Name: "TAE Buffer", CurrentQuantity: 6, MinQuantity: 10},
	}
	for _, it := range items {
		if err := st.PutInventoryItem(ctx, it); err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}
	devices := []domain.EquipmentDevice{
		{ID: "cent", LabID: "lab", Name: "Centrifuge", MaintenanceIntervalDays: 30, LastMaintained: now.Add(-45 * day), Threshold: 20},
		{ID: "pcr", LabID: "lab", Name: "PCR Machine", MaintenanceIntervalDays: 30, LastMaintained: now.Add(-3 * day), Threshold: 20},
	}
	for _, d := range devices {
		if err := st.PutEquipment(ctx, d); err != nil {
			t.Fatalf("seed device: %v", err)
		}
	}
	if err := st.PutBooking(ctx, domain.EquipmentBooking{ID: "b1", EquipmentID: "pcr", StartTime: now.Add(2 * time.Hour), EndTime: now.Add(4 * time.Hour), BookedBy: "u2"}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return NewGate(resolver.New(st, st, st)), st
}

func principal() domain.Principal { return domain.Principal{ActorID: "u1", LabID: "lab", At: now} }

func TestOverdueEquipmentFailsGate(t *testing.T) {
	g, _ := seededGate(t)
	report, err := g.Check(context.Background(), principal(), []domain.ResourceRequirement{
		{Type: domain.ResourceReagent, Name: "EtOH", QuantityNeeded: 5},
		{Type: domain.ResourceEquipment, ID: "cent", Name: "Centrifuge"},
	}, domain.TimeWindow{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Overall != domain.VerdictFail {
		t.Fatalf("verdict = %s, want fail", report.Overall)
	}
	cent := report.PerResource[1]
	if cent.Status != domain.StatusUnavailable || !strings.Contains(cent.Message, "Maintenance Overdue") {
		t.Fatalf("unexpected centrifuge result %+v", cent)
	}
	if report.PerResource[0].Requirement.Name != "EtOH" || !report.CheckedAt.Equal(now) {
		t.Fatalf("report must keep input order and the principal timestamp")
	}
}

func TestVerdictMatrix(t *testing.T) {
	g, _ := seededGate(t)
	window := domain.TimeWindow{Start: now.Add(3 * time.Hour), End: now.Add(5 * time.Hour)}
	cases := []struct {
		name string
		reqs []domain.ResourceRequirement
		win  domain.TimeWindow
		want domain.Verdict
	}{
		{"empty", nil, domain.TimeWindow{}, domain.VerdictPass},
		{"all available", []domain.ResourceRequirement{
			{Type: domain.ResourceReagent, ID: "etoh", QuantityNeeded: 10},
			{Type: domain.ResourceEquipment, ID: "pcr"},
		}, domain.TimeWindow{}, domain.VerdictPass},
		{"low stock warns", []domain.ResourceRequirement{
			{Type: domain.ResourceReagent, Name: "tae buffer", QuantityNeeded: 2},
		}, domain.TimeWindow{}, domain.VerdictWarning},
		{"booked fails", []domain.ResourceRequirement{
			{Type: domain.ResourceEquipment, ID: "pcr"},
		}, window, domain.VerdictFail},
		{"insufficient fails", []domain.ResourceRequirement{
			{Type: domain.ResourceReagent, ID: "etoh", QuantityNeeded: 51},
		}, domain.TimeWindow{}, domain.VerdictFail},
		{"missing fails", []domain.ResourceRequirement{
			{Type: domain.ResourceConsumable, Name: "cuvettes", QuantityNeeded: 1},
		}, domain.TimeWindow{}, domain.VerdictFail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := g.Check(context.Background(), principal(), tc.reqs, tc.win)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if report.Overall != tc.want {
				t.Fatalf("verdict = %s, want %s (%+v)", report.Overall, tc.want, report.PerResource)
			}
			if len(report.PerResource) != len(tc.reqs) {
				t.Fatalf("got %d results for %d requirements", len(report.PerResource), len(tc.reqs))
			}
		})
	}
}

func TestVerdictFoldsStatuses(t *testing.T) {
	res := func(statuses ...domain.ResourceStatus) []domain.ResourceCheckResult {
		out := make([]domain.ResourceCheckResult, len(statuses))
		for i, s := range statuses {
			out[i] = domain.ResourceCheckResult{Status: s}
		}
		return out
	}
	cases := []struct {
		in   []domain.ResourceCheckResult
		want domain.Verdict
	}{
		{res(), domain.VerdictPass},
		{res(domain.StatusAvailable, domain.StatusAvailable), domain.VerdictPass},
		{res(domain.StatusAvailable, domain.StatusUnknown), domain.VerdictWarning},
		{res(domain.StatusLow, domain.StatusBooked), domain.VerdictFail},
		{res(domain.StatusUnavailable, domain.StatusLow), domain.VerdictFail},
	}
	for _, tc := range cases {
		if got := Verdict(tc.in); got != tc.want {
			t.Errorf("Verdict(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestGateRejectsInvalidRequirementsUpFront(t *testing.T) {
	g, _ := seededGate(t)
	_, err := g.Check(context.Background(), principal(), []domain.ResourceRequirement{
		{Type: domain.ResourceReagent, ID: "etoh", QuantityNeeded: 1},
		{Type: domain.ResourceReagent, Name: "EtOH", QuantityNeeded: -1},
	}, domain.TimeWindow{})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGateSeesLiveState(t *testing.T) {
	g, st := seededGate(t)
	reqs := []domain.ResourceRequirement{{Type: domain.ResourceReagent, ID: "etoh", QuantityNeeded: 20}}
	first, _ := g.Check(context.Background(), principal(), reqs, domain.TimeWindow{})
	if first.Overall != domain.VerdictPass {
		t.Fatalf("first verdict = %s", first.Overall)
	}
	if _, err := st.AtomicDecrement(context.Background(), "etoh", 40); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	second, _ := g.Check(context.Background(), principal(), reqs, domain.TimeWindow{})
	if second.Overall != domain.VerdictFail {
		t.Fatalf("gate must re-read inventory, got %s", second.Overall)
	}
}

func TestGateDefaultsCheckedAtFromClock(t *testing.T) {
	st := memory.NewStore()
	fixed := now.Add(time.Minute)
	g := NewGate(resolver.New(st, st, st), WithClock(func() time.Time { return fixed }))
	report, err := g.Check(context.Background(), domain.Principal{LabID: "lab"}, nil, domain.TimeWindow{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.CheckedAt.Equal(fixed) {
		t.Fatalf("CheckedAt = %v", report.CheckedAt)
	}
}
