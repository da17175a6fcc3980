package reorder

import (
	"github.com/shopspring/decimal"

	"labcore/pkg/domain"
)

// Summary is the dashboard header for a suggestion list.
type Summary struct {
	Total          int                     `json:"total"`
	ByPriority     map[domain.Priority]int `json:"by_priority"`
	EstimatedSpend decimal.Decimal         `json:"estimated_spend"`
}

// Summarize counts suggestions per priority and totals their cost.
func Summarize(suggestions []domain.ReorderSuggestion) Summary {
	sum := Summary{
		ByPriority: map[domain.Priority]int{
			domain.PriorityUrgent: 0,
			domain.PriorityHigh:   0,
			domain.PriorityMedium: 0,
			domain.PriorityLow:    0,
		},
		EstimatedSpend: decimal.Zero,
	}
	for _, s := range suggestions {
		sum.Total++
		sum.ByPriority[s.Priority]++
		sum.EstimatedSpend = sum.EstimatedSpend.Add(s.EstimatedCost)
	}
	return sum
}
