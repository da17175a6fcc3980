package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// DecodeSnapshot reads a JSON snapshot such as a seed fixture.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Seed validates and stores every record in the snapshot. Existing records
// with the same ids are replaced; executions are overwritten as-is.
func (s *Store) Seed(ctx context.Context, snap Snapshot) error {
	for _, id := range sortedKeys(snap.Inventory) {
		if err := s.PutInventoryItem(ctx, snap.Inventory[id]); err != nil {
			return fmt.Errorf("seed inventory %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(snap.Equipment) {
		if err := s.PutEquipment(ctx, snap.Equipment[id]); err != nil {
			return fmt.Errorf("seed equipment %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(snap.Bookings) {
		if err := s.PutBooking(ctx, snap.Bookings[id]); err != nil {
			return fmt.Errorf("seed booking %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(snap.Protocols) {
		if err := s.PutProtocol(ctx, snap.Protocols[id]); err != nil {
			return fmt.Errorf("seed protocol %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(snap.Projects) {
		if err := s.PutProject(ctx, snap.Projects[id]); err != nil {
			return fmt.Errorf("seed project %s: %w", id, err)
		}
	}
	s.mu.Lock()
	for id, exec := range snap.Executions {
		s.state.executions[id] = exec.Clone()
	}
	s.mu.Unlock()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
