// Package health converts raw dates and quantities into health percentages,
// time-to-exhaustion estimates, and severity bands. Every function is pure and
// total over finite numeric input.
package health

import (
	"math"
	"time"

	"labcore/pkg/domain"
)

// InfiniteWeeks is returned by WeeksRemaining when nothing is being consumed.
const InfiniteWeeks = 999.0

// Severity thresholds are fixed; callers cannot tune them per call.
const (
	CriticalThreshold = 25.0
	WarningThreshold  = 50.0
)

// Severity is the banded form of a health percentage.
type Severity string

// Severity bands.
const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const day = 24 * time.Hour

// MaintenanceHealth decays linearly from 100 at lastMaintained to 0 at
// lastMaintained+intervalDays and stays at 0 afterwards.
func MaintenanceHealth(lastMaintained time.Time, intervalDays int, now time.Time) float64 {
	elapsed := now.Sub(lastMaintained)
	if elapsed <= 0 {
		return 100
	}
	if intervalDays <= 0 {
		return 0
	}
	interval := time.Duration(intervalDays) * day
	return clampPercent(100 - float64(elapsed)/float64(interval)*100)
}

// MaintenanceOverdue reports whether the due date has been reached.
func MaintenanceOverdue(lastMaintained time.Time, intervalDays int, now time.Time) bool {
	return MaintenanceHealth(lastMaintained, intervalDays, now) <= 0
}

// MaintenanceDue reports whether device health has fallen below its threshold.
func MaintenanceDue(device domain.EquipmentDevice, now time.Time) bool {
	return MaintenanceHealth(device.LastMaintained, device.MaintenanceIntervalDays, now) < device.Threshold
}

// StockPercentage measures headroom against double the reorder threshold.
func StockPercentage(current, minQuantity float64) float64 {
	if minQuantity <= 0 {
		return 100
	}
	return clampPercent(current / (minQuantity * 2) * 100)
}

// SupplyLevel pairs a live item quantity with a device's per-supply minimum.
type SupplyLevel struct {
	Current float64
	MinQty  float64
}

// SuppliesHealth returns the worst per-supply health. A device with no
// supplies is fully healthy.
func SuppliesHealth(levels []SupplyLevel) float64 {
	worst := 100.0
	for _, l := range levels {
		if h := StockPercentage(l.Current, l.MinQty); h < worst {
			worst = h
		}
	}
	return worst
}

// WeeksRemaining estimates weeks until exhaustion at burnPerWeek.
func WeeksRemaining(current, burnPerWeek float64) float64 {
	if burnPerWeek <= 0 {
		return InfiniteWeeks
	}
	if current <= 0 {
		return 0
	}
	return current / burnPerWeek
}

// NeededQuantity is the whole number of units required to reach minQuantity.
func NeededQuantity(current, minQuantity float64) int {
	gap := minQuantity - current
	if gap <= 0 {
		return 0
	}
	return int(math.Ceil(gap))
}

// Band maps a health percentage onto a severity.
func Band(health float64) Severity {
	switch {
	case health <= CriticalThreshold:
		return SeverityCritical
	case health <= WarningThreshold:
		return SeverityWarning
	default:
		return SeverityOK
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
