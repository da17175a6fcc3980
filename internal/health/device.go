package health

import (
	"math"
	"time"

	"labcore/pkg/domain"
)

// DeviceHealth summarises a device for the equipment dashboard.
type DeviceHealth struct {
	DeviceID          string   `json:"device_id"`
	Name              string   `json:"name"`
	MaintenanceHealth float64  `json:"maintenance_health"`
	SuppliesHealth    float64  `json:"supplies_health"`
	Overall           float64  `json:"overall"`
	Severity          Severity `json:"severity"`
	MaintenanceDue    bool     `json:"maintenance_due"`
	MaintenanceOver   bool     `json:"maintenance_overdue"`
	// MissingSupplies lists supply links whose inventory item no longer exists.
	MissingSupplies []string `json:"missing_supplies,omitempty"`
}

// DeviceStatus resolves every supply link against items and combines
// maintenance and supply health. A dangling supply link counts as empty stock.
func DeviceStatus(device domain.EquipmentDevice, items map[string]domain.InventoryItem, now time.Time) DeviceHealth {
	levels := make([]SupplyLevel, 0, len(device.Supplies))
	var missing []string
	for _, s := range device.Supplies {
		item, ok := items[s.InventoryItemID]
		if !ok {
			missing = append(missing, s.InventoryItemID)
			levels = append(levels, SupplyLevel{Current: 0, MinQty: s.MinQty})
			continue
		}
		levels = append(levels, SupplyLevel{Current: item.CurrentQuantity, MinQty: s.MinQty})
	}
	maint := MaintenanceHealth(device.LastMaintained, device.MaintenanceIntervalDays, now)
	supplies := SuppliesHealth(levels)
	overall := math.Min(maint, supplies)
	return DeviceHealth{
		DeviceID:          device.ID,
		Name:              device.Name,
		MaintenanceHealth: maint,
		SuppliesHealth:    supplies,
		Overall:           overall,
		Severity:          Band(overall),
		MaintenanceDue:    maint < device.Threshold,
		MaintenanceOver:   maint <= 0,
		MissingSupplies:   missing,
	}
}

// IndexItems keys inventory items by id.
func IndexItems(items []domain.InventoryItem) map[string]domain.InventoryItem {
	out := make(map[string]domain.InventoryItem, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}
