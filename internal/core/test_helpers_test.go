package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func fixedClock() Clock { return ClockFunc(func() time.Time { return fixedNow }) }

func labUser() domain.Principal {
	return domain.Principal{ActorID: "u1", LabID: "lab"}
}

// seedLab fills a memory store with one lab: a healthy PCR machine feeding
// on pipette tips, an overdue centrifuge, and protocols that pass, warn and
// fail pre-flight.
func seedLab(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()
	st.SetNowFunc(func() time.Time { return fixedNow })
	items := []domain.InventoryItem{
		{ID: "etoh", LabID: "lab", Name: "EtOH", CurrentQuantity: 20, MinQuantity: 10, UnitPrice: decimal.RequireFromString("2.50")},
		{ID: "tips", LabID: "lab", Name: "Pipette Tips", CurrentQuantity: 3, MinQuantity: 10, UnitPrice: decimal.RequireFromString("3.33")},
		{ID: "buffer", LabID: "lab", Name: "TAE Buffer", CurrentQuantity: 6, MinQuantity: 10, UnitPrice: decimal.RequireFromString("1.00")},
		{ID: "other-etoh", LabID: "other", Name: "EtOH", CurrentQuantity: 100, MinQuantity: 1},
	}
	for _, it := range items {
		if err := st.PutInventoryItem(ctx, it); err != nil {
			t.Fatalf("seed item %s: %v", it.ID, err)
		}
	}
	devices := []domain.EquipmentDevice{
		{ID: "pcr", LabID: "lab", Name: "PCR Machine", MaintenanceIntervalDays: 30, LastMaintained: fixedNow.Add(-3 * day), Threshold: 20,
			Supplies: []domain.Supply{{InventoryItemID: "tips", MinQty: 10, BurnPerWeek: 2}}},
		{ID: "cent", LabID: "lab", Name: "Centrifuge", MaintenanceIntervalDays: 30, LastMaintained: fixedNow.Add(-45 * day), Threshold: 20},
	}
	for _, d := range devices {
		if err := st.PutEquipment(ctx, d); err != nil {
			t.Fatalf("seed device %s: %v", d.ID, err)
		}
	}
	if err := st.PutProject(ctx, domain.Project{ID: "p1", LabID: "lab", Name: "Genomics", Account: "GRANT", Status: domain.ProjectActive, EquipmentIDs: []string{"pcr"}}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	protocols := []domain.Protocol{
		protocol("dna", "lab",
			domain.ProtocolStep{ID: "s1", Order: 1, Instruction: "Wash", RequiredReagents: []domain.StepReagent{{Name: "EtOH", Quantity: "5"}}, RequiredEquipment: []domain.StepEquipment{{ID: "pcr", Name: "PCR Machine"}}},
			domain.ProtocolStep{ID: "s2", Order: 2, Instruction: "Dry"},
		),
		protocol("spin", "lab",
			domain.ProtocolStep{ID: "s1", Order: 1, Instruction: "Spin down", RequiredEquipment: []domain.StepEquipment{{ID: "cent"}}},
		),
		protocol("gel", "lab",
			domain.ProtocolStep{ID: "s1", Order: 1, Instruction: "Pour gel", RequiredReagents: []domain.StepReagent{{Name: "TAE Buffer", Quantity: "2 mL"}}},
		),
		protocol("ghost", "lab",
			domain.ProtocolStep{ID: "s1", Order: 1, Instruction: "Add", RequiredReagents: []domain.StepReagent{{Name: "Unobtainium", Quantity: "1"}}},
		),
		protocol("foreign", "other",
			domain.ProtocolStep{ID: "s1", Order: 1, Instruction: "Elsewhere"},
		),
	}
	for _, p := range protocols {
		if err := st.PutProtocol(ctx, p); err != nil {
			t.Fatalf("seed protocol %s: %v", p.ID, err)
		}
	}
	return st
}

func protocol(id, lab string, steps ...domain.ProtocolStep) domain.Protocol {
	return domain.Protocol{
		ID:              id,
		LabID:           lab,
		Name:            id,
		ActiveVersionID: "v1",
		Versions:        []domain.ProtocolVersion{{ID: "v1", Number: 1, CreatedAt: fixedNow.Add(-day), Steps: steps}},
	}
}

func quantityOf(t *testing.T, st Store, itemID string) float64 {
	t.Helper()
	items, err := st.ListInventory(context.Background(), "")
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	for _, it := range items {
		if it.ID == itemID {
			return it.CurrentQuantity
		}
	}
	t.Fatalf("item %s not found", itemID)
	return 0
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type warningCounter struct {
	noopMetricsRecorder
	mu      sync.Mutex
	classes []domain.ErrorClass
}

func (w *warningCounter) DeductionWarning(class domain.ErrorClass) {
	w.mu.Lock()
	w.classes = append(w.classes, class)
	w.mu.Unlock()
}

func (w *warningCounter) seen() []domain.ErrorClass {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.ErrorClass(nil), w.classes...)
}
