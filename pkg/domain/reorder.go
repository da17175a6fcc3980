package domain

import "github.com/shopspring/decimal"

// Priority ranks reorder urgency by time to exhaustion.
type Priority string

// Reorder priorities from most to least urgent.
const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities; lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// UnallocatedAccount receives cost that no active project consumes.
const UnallocatedAccount = "unallocated"

// AccountCharge is the share of a reorder's cost billed to one funding account.
type AccountCharge struct {
	Account    string          `json:"account"`
	ProjectIDs []string        `json:"project_ids"`
	Amount     decimal.Decimal `json:"amount"`
}

// ReorderSuggestion is a derived, never-persisted restock recommendation.
type ReorderSuggestion struct {
	InventoryItemID   string          `json:"inventory_item_id"`
	Name              string          `json:"name"`
	CurrentQty        float64         `json:"current_qty"`
	MinQty            float64         `json:"min_qty"`
	Level             StockLevel      `json:"level"`
	TotalBurnRate     float64         `json:"total_burn_rate"`
	WeeksTillEmpty    float64         `json:"weeks_till_empty"`
	Priority          Priority        `json:"priority"`
	SuggestedOrderQty int             `json:"suggested_order_qty"`
	EstimatedCost     decimal.Decimal `json:"estimated_cost"`
	ChargeToAccounts  []AccountCharge `json:"charge_to_accounts"`
	AffectedEquipment []string        `json:"affected_equipment"`
	AffectedProjects  []string        `json:"affected_projects"`
}
