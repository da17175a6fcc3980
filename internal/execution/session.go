package execution

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"labcore/internal/logging"
	"labcore/internal/media"
	"labcore/pkg/domain"
)

// Deps are the collaborators a Session executes effects against. Incidents
// and Media are optional.
type Deps struct {
	Executions domain.ExecutionStore
	Inventory  domain.InventoryStore
	Incidents  domain.IncidentSink
	Media      domain.MediaSink
}

// Warning reports bookkeeping trouble that did not interrupt the run.
type Warning struct {
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Reagent     string            `json:"reagent"`
	ItemID      string            `json:"item_id,omitempty"`
	Class       domain.ErrorClass `json:"class"`
	Err         error             `json:"-"`
	Message     string            `json:"message"`
	At          time.Time         `json:"at"`
	Level       domain.StockLevel `json:"level,omitempty"`
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = logging.OrNoop(l) }
}

// WithClock stamps commands whose principal has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDFunc replaces the incident ID generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithWarningHandler registers a callback invoked for every warning. It runs
// on the deduction goroutine.
func WithWarningHandler(fn func(Warning)) Option {
	return func(s *Session) { s.onWarning = fn }
}

// Session is the effect executor for one run. A single caller drives it;
// the lock only guards state shared with deduction goroutines.
type Session struct {
	deps      Deps
	steps     []domain.ProtocolStep
	logger    logging.Logger
	now       func() time.Time
	newID     func() string
	onWarning func(Warning)

	mu       sync.Mutex
	exec     domain.ProtocolExecution
	warnings []Warning
	inflight sync.WaitGroup
}

func newSession(exec domain.ProtocolExecution, version domain.ProtocolVersion, deps Deps, opts []Option) *Session {
	s := &Session{
		deps:   deps,
		steps:  version.OrderedSteps(),
		exec:   exec.Clone(),
		logger: logging.Noop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin persists the first record of a new run and returns its session.
// There is no session when the create fails.
func Begin(ctx context.Context, id string, protocol domain.Protocol, version domain.ProtocolVersion, by domain.Principal, deps Deps, opts ...Option) (*Session, error) {
	s := newSession(domain.ProtocolExecution{}, version, deps, opts)
	if by.At.IsZero() {
		by.At = s.now()
	}
	if id == "" {
		id = s.newID()
	}
	exec := NewExecution(id, protocol, version, by)
	if err := deps.Executions.CreateExecution(ctx, exec); err != nil {
		return nil, domain.Transient("create execution", err)
	}
	s.exec = exec
	s.logger.Info("execution started", "execution", exec.ID, "protocol", exec.ProtocolID, "version", exec.ProtocolVersionID, "lab", exec.LabID, "actor", by.ActorID)
	return s, nil
}

// Resume wraps an execution loaded from the store.
func Resume(exec domain.ProtocolExecution, version domain.ProtocolVersion, deps Deps, opts ...Option) (*Session, error) {
	if exec.ProtocolVersionID != version.ID {
		return nil, &domain.ValidationError{Field: "protocol_version_id", Reason: fmt.Sprintf("execution is pinned to version %s, got %s", exec.ProtocolVersionID, version.ID)}
	}
	return newSession(exec, version, deps, opts), nil
}

// Execution returns the optimistic local state.
func (s *Session) Execution() domain.ProtocolExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec.Clone()
}

// Steps returns the pinned version's steps in order.
func (s *Session) Steps() []domain.ProtocolStep {
	return append([]domain.ProtocolStep(nil), s.steps...)
}

// Apply runs cmd through Transition, keeps the result locally, and executes
// its effects. Validation failures leave the state untouched. A failed
// persist returns the new local state together with a TransientError.
// Deductions run in the background and never delay the return.
func (s *Session) Apply(ctx context.Context, cmd Command) (domain.ProtocolExecution, error) {
	if cmd == nil {
		return s.Execution(), &domain.ValidationError{Field: "command", Reason: "command is required"}
	}
	by := cmd.principal()
	if by.At.IsZero() {
		by.At = s.now()
		cmd = cmd.withPrincipal(by)
	}

	s.mu.Lock()
	next, effects, err := Transition(s.exec, s.steps, cmd)
	if err != nil {
		cur := s.exec.Clone()
		s.mu.Unlock()
		return cur, err
	}
	s.exec = next
	s.mu.Unlock()

	var persistErr error
	for _, eff := range effects {
		switch e := eff.(type) {
		case PersistEffect:
			if err := s.deps.Executions.UpdateExecution(ctx, next.ID, e.Patch); err != nil && persistErr == nil {
				s.logger.Error("persist execution failed", "execution", next.ID, "error", err)
				persistErr = domain.Transient("update execution", err)
			}
		case DeductEffect:
			s.inflight.Add(1)
			go s.deduct(context.WithoutCancel(ctx), next.ID, e)
		case IncidentEffect:
			s.report(ctx, e.Incident)
		}
	}
	return next.Clone(), persistErr
}

func (s *Session) report(ctx context.Context, in domain.Incident) {
	if in.ID == "" {
		in.ID = s.newID()
	}
	s.logger.Warn("step flagged", "execution", in.ExecutionID, "step", in.StepID, "incident", in.ID)
	if s.deps.Incidents != nil {
		s.deps.Incidents.Report(ctx, in)
	}
}

// AttachEvidence uploads r through the media sink and records the returned
// URL on the step. Nothing is uploaded for a closed run or an unknown step.
func (s *Session) AttachEvidence(ctx context.Context, by domain.Principal, stepID string, r io.Reader, contentType string) (domain.ProtocolExecution, error) {
	cur := s.Execution()
	if cur.Status.Terminal() {
		return cur, domain.ErrExecutionClosed
	}
	if _, _, err := lookup(cur, s.steps, stepID); err != nil {
		return cur, err
	}
	if s.deps.Media == nil {
		return cur, &domain.ValidationError{Field: "media", Reason: "no media sink configured"}
	}
	ref, err := s.deps.Media.Upload(ctx, r, media.StepPath(cur.LabID, cur.ID, stepID), contentType)
	if err != nil {
		return cur, domain.Transient("upload evidence", err)
	}
	return s.Apply(ctx, AttachMedia{By: by, StepID: stepID, URL: ref.URL})
}

// Watch streams the stored execution after every update until ctx is done.
func (s *Session) Watch(ctx context.Context) (<-chan domain.ProtocolExecution, error) {
	return s.deps.Executions.Subscribe(ctx, s.Execution().ID)
}

// Wait blocks until every in-flight deduction has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Warnings returns the warnings recorded so far.
func (s *Session) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Warning(nil), s.warnings...)
}

func (s *Session) warn(w Warning) {
	if w.At.IsZero() {
		w.At = s.now()
	}
	if w.Message == "" && w.Err != nil {
		w.Message = w.Err.Error()
	}
	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	s.mu.Unlock()
	s.logger.Warn("reagent deduction failed", "execution", w.ExecutionID, "step", w.StepID, "reagent", w.Reagent, "class", string(w.Class), "error", w.Err)
	if s.onWarning != nil {
		s.onWarning(w)
	}
}
