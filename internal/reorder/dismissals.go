package reorder

import (
	"context"
	"sync"
	"time"

	"labcore/pkg/domain"
)

// Dismissals is a per-session overlay of suggestions the user has hidden.
// It never changes inventory; a new session sees every suggestion again.
type Dismissals interface {
	Dismiss(ctx context.Context, session, itemID string) error
	Dismissed(ctx context.Context, session string) (map[string]bool, error)
	Clear(ctx context.Context, session string) error
}

// Filter drops dismissed suggestions, keeping order.
func Filter(suggestions []domain.ReorderSuggestion, dismissed map[string]bool) []domain.ReorderSuggestion {
	out := make([]domain.ReorderSuggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if !dismissed[s.InventoryItemID] {
			out = append(out, s)
		}
	}
	return out
}

type memorySession struct {
	ids     map[string]bool
	expires time.Time
}

// MemoryDismissals keeps overlays in process. Sessions expire ttl after their
// last dismissal; a zero ttl never expires.
type MemoryDismissals struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

// NewMemoryDismissals returns an in-process overlay store.
func NewMemoryDismissals(ttl time.Duration) *MemoryDismissals {
	return &MemoryDismissals{ttl: ttl, now: time.Now, sessions: make(map[string]*memorySession)}
}

// SetNowFunc overrides the expiry clock.
func (m *MemoryDismissals) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn != nil {
		m.now = fn
	}
}

func validSession(session, itemID string) error {
	if session == "" {
		return &domain.ValidationError{Field: "session", Reason: "session id is required"}
	}
	if itemID == "" {
		return &domain.ValidationError{Field: "inventory_item_id", Reason: "item id is required"}
	}
	return nil
}

// Dismiss implements Dismissals.
func (m *MemoryDismissals) Dismiss(_ context.Context, session, itemID string) error {
	if err := validSession(session, itemID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.liveLocked(session)
	if sess == nil {
		sess = &memorySession{ids: make(map[string]bool)}
		m.sessions[session] = sess
	}
	sess.ids[itemID] = true
	if m.ttl > 0 {
		sess.expires = m.now().Add(m.ttl)
	}
	return nil
}

// Dismissed implements Dismissals.
func (m *MemoryDismissals) Dismissed(_ context.Context, session string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	if sess := m.liveLocked(session); sess != nil {
		for id := range sess.ids {
			out[id] = true
		}
	}
	return out, nil
}

// Clear implements Dismissals.
func (m *MemoryDismissals) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
	return nil
}

func (m *MemoryDismissals) liveLocked(session string) *memorySession {
	sess, ok := m.sessions[session]
	if !ok {
		return nil
	}
	if !sess.expires.IsZero() && !m.now().Before(sess.expires) {
		delete(m.sessions, session)
		return nil
	}
	return sess
}
