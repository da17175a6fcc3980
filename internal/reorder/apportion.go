package reorder

import (
	"sort"

	"github.com/shopspring/decimal"

	"labcore/pkg/domain"
)

// Share is one account's weight in a cost split.
type Share struct {
	Account    string
	ProjectIDs []string
	Weight     decimal.Decimal
}

// shares splits each device's burn equally among the active projects using
// it. Burn of devices without an active project goes to the unallocated
// account. When nothing is burning every device-project edge weighs one.
func shares(edges []consumer, byDevice map[string][]domain.Project, totalBurn float64) []Share {
	weights := make(map[string]decimal.Decimal)
	projectIDs := make(map[string][]string)
	add := func(account, projectID string, w decimal.Decimal) {
		weights[account] = weights[account].Add(w)
		if projectID != "" {
			projectIDs[account] = append(projectIDs[account], projectID)
		}
	}
	for _, c := range edges {
		w := decimal.NewFromFloat(c.burn)
		if totalBurn <= 0 {
			w = decimal.NewFromInt(1)
		}
		if w.IsZero() {
			continue
		}
		ps := byDevice[c.deviceID]
		if len(ps) == 0 {
			add(domain.UnallocatedAccount, "", w)
			continue
		}
		each := w
		if totalBurn > 0 {
			each = w.Div(decimal.NewFromInt(int64(len(ps))))
		}
		for _, p := range ps {
			add(accountFor(p), p.ID, each)
		}
	}
	out := make([]Share, 0, len(weights))
	for account, w := range weights {
		ids := uniqueSorted(projectIDs[account])
		if ids == nil {
			ids = []string{}
		}
		out = append(out, Share{Account: account, ProjectIDs: ids, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func accountFor(p domain.Project) string {
	if p.Account != "" {
		return p.Account
	}
	return p.ID
}

// Apportion splits cost across shares in proportion to their weights,
// rounded to cents with the largest-remainder rule so the charges always sum
// to cost. Without any positive weight the whole cost is unallocated.
func Apportion(cost decimal.Decimal, shares []Share) []domain.AccountCharge {
	cost = cost.Round(2)
	total := decimal.Zero
	var live []Share
	for _, s := range shares {
		if s.Weight.IsPositive() {
			total = total.Add(s.Weight)
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return []domain.AccountCharge{{Account: domain.UnallocatedAccount, ProjectIDs: []string{}, Amount: cost}}
	}

	totalCents := cost.Shift(2).IntPart()
	type part struct {
		idx       int
		cents     int64
		remainder decimal.Decimal
	}
	parts := make([]part, len(live))
	var assigned int64
	for i, s := range live {
		exact := decimal.NewFromInt(totalCents).Mul(s.Weight).Div(total)
		floor := exact.Floor()
		parts[i] = part{idx: i, cents: floor.IntPart(), remainder: exact.Sub(floor)}
		assigned += parts[i].cents
	}
	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := parts[order[a]], parts[order[b]]
		if c := pa.remainder.Cmp(pb.remainder); c != 0 {
			return c > 0
		}
		return live[pa.idx].Account < live[pb.idx].Account
	})
	for k := int64(0); k < totalCents-assigned; k++ {
		parts[order[int(k)%len(order)]].cents++
	}

	charges := make([]domain.AccountCharge, len(live))
	for i, s := range live {
		charges[i] = domain.AccountCharge{
			Account:    s.Account,
			ProjectIDs: append([]string{}, s.ProjectIDs...),
			Amount:     decimal.New(parts[i].cents, -2),
		}
	}
	return charges
}
