package memory

import (
	"context"

	"labcore/pkg/domain"
)

// subscriberBuffer bounds per-subscriber backlog; slow readers only see the latest state.
const subscriberBuffer = 1

// CreateExecution stores a new execution.
func (s *Store) CreateExecution(_ context.Context, exec domain.ProtocolExecution) error {
	if exec.ID == "" {
		return &domain.ValidationError{Field: "id", Reason: "execution id is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.executions[exec.ID]; exists {
		return &domain.ValidationError{Field: "id", Reason: "execution " + exec.ID + " already exists"}
	}
	s.state.executions[exec.ID] = exec.Clone()
	s.publishLocked(exec.ID)
	return nil
}

// UpdateExecution merges patch into the stored execution.
func (s *Store) UpdateExecution(_ context.Context, id string, patch domain.ExecutionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.executions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityExecution, ID: id}
	}
	s.state.executions[id] = patch.Apply(current)
	s.publishLocked(id)
	return nil
}

// GetExecution returns an execution by id.
func (s *Store) GetExecution(_ context.Context, id string) (domain.ProtocolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.state.executions[id]
	if !ok {
		return domain.ProtocolExecution{}, domain.ErrNotFound{Entity: domain.EntityExecution, ID: id}
	}
	return exec.Clone(), nil
}

// ListExecutions returns the lab's executions. An empty labID lists every lab.
func (s *Store) ListExecutions(_ context.Context, labID string) ([]domain.ProtocolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ProtocolExecution, 0, len(s.state.executions))
	for _, e := range s.state.executions {
		if labMatches(labID, e.LabID) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// Subscribe delivers the current execution immediately and again after each
// update. The channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan domain.ProtocolExecution, error) {
	s.mu.Lock()
	exec, ok := s.state.executions[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound{Entity: domain.EntityExecution, ID: id}
	}
	ch := make(chan domain.ProtocolExecution, subscriberBuffer)
	subID := s.nextSub
	s.nextSub++
	if s.subscribers[id] == nil {
		s.subscribers[id] = make(map[int]chan domain.ProtocolExecution)
	}
	s.subscribers[id][subID] = ch
	ch <- exec.Clone()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers[id], subID)
		if len(s.subscribers[id]) == 0 {
			delete(s.subscribers, id)
		}
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *Store) publishLocked(id string) {
	subs := s.subscribers[id]
	if len(subs) == 0 {
		return
	}
	exec := s.state.executions[id]
	for _, ch := range subs {
		select {
		case ch <- exec.Clone():
		default:
			// drop the stale value so the reader sees the newest state
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- exec.Clone():
			default:
			}
		}
	}
}
