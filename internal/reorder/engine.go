// Package reorder forecasts stock exhaustion and ranks restock suggestions
// with their cost split across the funding accounts that consume each item.
package reorder

import (
	"sort"

	"github.com/shopspring/decimal"

	"labcore/internal/health"
	"labcore/internal/logging"
	"labcore/pkg/domain"
)

// Engine computes suggestions from consistent snapshots. It holds no state
// between calls.
type Engine struct {
	logger logging.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNoop(l) }
}

// NewEngine returns an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: logging.Noop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PriorityFor bands weeks until empty into a reorder priority.
func PriorityFor(weeks float64) domain.Priority {
	switch {
	case weeks < 1:
		return domain.PriorityUrgent
	case weeks < 2:
		return domain.PriorityHigh
	case weeks < 4:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// consumer is one device drawing on an item.
type consumer struct {
	deviceID string
	burn     float64
}

// Compute returns a suggestion for every item below its reorder threshold or
// without full headroom, most urgent first.
func (e *Engine) Compute(inventory []domain.InventoryItem, devices []domain.EquipmentDevice, projects []domain.Project) []domain.ReorderSuggestion {
	consumers := make(map[string][]consumer)
	supplyMin := make(map[string]float64)
	for _, d := range devices {
		for _, s := range d.Supplies {
			if s.MinQty > supplyMin[s.InventoryItemID] {
				supplyMin[s.InventoryItemID] = s.MinQty
			}
			burn := s.BurnPerWeek
			if burn < 0 {
				burn = 0
			}
			consumers[s.InventoryItemID] = append(consumers[s.InventoryItemID], consumer{deviceID: d.ID, burn: burn})
		}
	}
	projectsByDevice := make(map[string][]domain.Project)
	for _, p := range projects {
		if !p.IsActive() {
			continue
		}
		for _, id := range uniqueSorted(p.EquipmentIDs) {
			projectsByDevice[id] = append(projectsByDevice[id], p)
		}
	}

	out := make([]domain.ReorderSuggestion, 0)
	for _, item := range inventory {
		minQty := EffectiveMin(item, supplyMin[item.ID])
		level := domain.ClassifyLevel(item.CurrentQuantity, minQty)
		if level == domain.LevelOK && health.StockPercentage(item.CurrentQuantity, minQty) >= 100 {
			continue
		}
		edges := mergeLinkedDevices(consumers[item.ID], item.EquipmentDeviceIDs)
		var burn float64
		for _, c := range edges {
			burn += c.burn
		}
		weeks := health.WeeksRemaining(item.CurrentQuantity, burn)
		qty := health.NeededQuantity(item.CurrentQuantity, minQty)
		cost := decimal.NewFromInt(int64(qty)).Mul(item.UnitPrice).Round(2)

		sug := domain.ReorderSuggestion{
			InventoryItemID:   item.ID,
			Name:              item.Name,
			CurrentQty:        item.CurrentQuantity,
			MinQty:            minQty,
			Level:             level,
			TotalBurnRate:     burn,
			WeeksTillEmpty:    weeks,
			Priority:          PriorityFor(weeks),
			SuggestedOrderQty: qty,
			EstimatedCost:     cost,
			ChargeToAccounts:  Apportion(cost, shares(edges, projectsByDevice, burn)),
			AffectedEquipment: deviceIDs(edges),
			AffectedProjects:  affectedProjects(edges, projectsByDevice),
		}
		e.logger.Debug("reorder suggestion", "item", item.ID, "priority", sug.Priority, "weeks", weeks, "qty", qty, "cost", cost.StringFixed(2))
		out = append(out, sug)
	}
	SortSuggestions(out)
	return out
}

// EffectiveMin is the reorder threshold of item: the larger of its own
// minimum and the highest minimum any device supply declares for it.
func EffectiveMin(item domain.InventoryItem, supplyMin float64) float64 {
	if supplyMin > item.MinQuantity {
		return supplyMin
	}
	return item.MinQuantity
}

// SortSuggestions orders by priority, then weeks until empty, then item id.
func SortSuggestions(s []domain.ReorderSuggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		ri, rj := s[i].Priority.Rank(), s[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		if s[i].WeeksTillEmpty != s[j].WeeksTillEmpty {
			return s[i].WeeksTillEmpty < s[j].WeeksTillEmpty
		}
		return s[i].InventoryItemID < s[j].InventoryItemID
	})
}

// mergeLinkedDevices adds devices listed on the item that have no supply
// edge; they consume nothing but still count as affected.
func mergeLinkedDevices(edges []consumer, linked []string) []consumer {
	out := append([]consumer(nil), edges...)
	seen := make(map[string]bool, len(out))
	for _, c := range out {
		seen[c.deviceID] = true
	}
	for _, id := range linked {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, consumer{deviceID: id})
		}
	}
	return out
}

func deviceIDs(edges []consumer) []string {
	ids := make([]string, 0, len(edges))
	for _, c := range edges {
		ids = append(ids, c.deviceID)
	}
	return uniqueSorted(ids)
}

func affectedProjects(edges []consumer, byDevice map[string][]domain.Project) []string {
	var ids []string
	for _, c := range edges {
		for _, p := range byDevice[c.deviceID] {
			ids = append(ids, p.ID)
		}
	}
	out := uniqueSorted(ids)
	if out == nil {
		out = []string{}
	}
	return out
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
