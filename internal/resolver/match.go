package resolver

import "labcore/pkg/domain"

// MatchInventory binds a requirement to an inventory item. An id match is
// strong; a case-insensitive, trimmed exact name match is weak. Anything else
// is MatchNone and the zero item is returned.
func MatchInventory(items []domain.InventoryItem, id, name string) (domain.InventoryItem, domain.MatchKind) {
	if id != "" {
		for _, it := range items {
			if it.ID == id {
				return it, domain.MatchStrong
			}
		}
	}
	if key := domain.NormalizeName(name); key != "" {
		for _, it := range items {
			if domain.NormalizeName(it.Name) == key {
				return it, domain.MatchWeak
			}
		}
	}
	return domain.InventoryItem{}, domain.MatchNone
}

// MatchDevice applies the same two-phase match to equipment.
func MatchDevice(devices []domain.EquipmentDevice, id, name string) (domain.EquipmentDevice, domain.MatchKind) {
	if id != "" {
		for _, d := range devices {
			if d.ID == id {
				return d, domain.MatchStrong
			}
		}
	}
	if key := domain.NormalizeName(name); key != "" {
		for _, d := range devices {
			if domain.NormalizeName(d.Name) == key {
				return d, domain.MatchWeak
			}
		}
	}
	return domain.EquipmentDevice{}, domain.MatchNone
}
