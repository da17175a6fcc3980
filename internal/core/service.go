// Package core composes the resolver, gate, execution sessions and reorder
// engine into the service the CLI and HTTP adapter drive. Every operation is
// traced, timed and audited.
package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"labcore/internal/blob"
	"labcore/internal/execution"
	"labcore/internal/health"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/logging"
	"labcore/internal/media"
	"labcore/internal/preflight"
	"labcore/internal/reorder"
	"labcore/internal/resolver"
	"labcore/pkg/domain"
)

// Service exposes the lab operations over a single store.
type Service struct {
	store      Store
	gate       *preflight.Gate
	engine     *reorder.Engine
	dismissals reorder.Dismissals
	incidents  domain.IncidentSink
	media      domain.MediaSink
	newID      func() string

	clock   Clock
	logger  logging.Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store Store, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	now := o.clock.Now
	res := resolver.New(store, store, store, resolver.WithLogger(o.logger), resolver.WithClock(now))
	svc := &Service{
		store:      store,
		gate:       preflight.NewGate(res, preflight.WithLogger(o.logger), preflight.WithClock(now)),
		engine:     reorder.NewEngine(reorder.WithLogger(o.logger)),
		dismissals: o.dismissal,
		incidents:  o.incidents,
		media:      o.media,
		newID:      o.newID,
		clock:      o.clock,
		logger:     o.logger,
		audit:      o.audit,
		metrics:    o.metrics,
		tracer:     o.tracer,
	}
	if svc.dismissals == nil {
		svc.dismissals = reorder.NewMemoryDismissals(reorder.DefaultDismissalTTL)
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() Store {
	return s.store
}

// StartOptions tune how a run is started.
type StartOptions struct {
	// VersionID pins a version; empty uses the protocol's active version.
	VersionID string
	// ExecutionID is generated when empty.
	ExecutionID string
	// ScheduledStart anchors the booking window; zero means the principal's time.
	ScheduledStart time.Time
	// SkipPreflight starts without checking resources.
	SkipPreflight bool
	// AcknowledgeWarnings allows a warning verdict to proceed.
	AcknowledgeWarnings bool
}

// InventoryStatus is an inventory item with its derived levels.
type InventoryStatus struct {
	Item            domain.InventoryItem `json:"item"`
	Level           domain.StockLevel    `json:"level"`
	StockPercentage float64              `json:"stock_percentage"`
}

// ReorderReport is a filtered suggestion list with its summary.
type ReorderReport struct {
	Suggestions []domain.ReorderSuggestion `json:"suggestions"`
	Summary     reorder.Summary            `json:"summary"`
}

// Preflight checks the requirements of a protocol version against live
// state. An empty versionID uses the active version.
func (s *Service) Preflight(ctx context.Context, by domain.Principal, protocolID, versionID string, start time.Time) (domain.GateReport, error) {
	by = s.stamp(by)
	var report domain.GateReport
	err := s.run(ctx, opPreflight, by, &protocolID, func(ctx context.Context) error {
		_, version, err := s.resolveVersion(ctx, by, protocolID, versionID)
		if err != nil {
			return err
		}
		report, err = s.checkVersion(ctx, by, version, start)
		return err
	})
	return report, err
}

// CheckRequirements runs the gate over an ad-hoc requirement list.
func (s *Service) CheckRequirements(ctx context.Context, by domain.Principal, reqs []domain.ResourceRequirement, window domain.TimeWindow) (domain.GateReport, error) {
	by = s.stamp(by)
	var (
		report   domain.GateReport
		entityID string
	)
	err := s.run(ctx, opPreflight, by, &entityID, func(ctx context.Context) error {
		var err error
		report, err = s.gate.Check(ctx, by, reqs, window)
		return err
	})
	return report, err
}

// StartExecution runs pre-flight unless skipped and begins a run. A fail
// verdict, or a warning without acknowledgement, returns a *PreflightError
// matching ErrPreflightBlocked or ErrPreflightUnacknowledged.
func (s *Service) StartExecution(ctx context.Context, by domain.Principal, protocolID string, opts StartOptions) (*execution.Session, domain.GateReport, error) {
	by = s.stamp(by)
	var (
		session *execution.Session
		report  domain.GateReport
	)
	entityID := opts.ExecutionID
	err := s.run(ctx, opStartExecution, by, &entityID, func(ctx context.Context) error {
		protocol, version, err := s.resolveVersion(ctx, by, protocolID, opts.VersionID)
		if err != nil {
			return err
		}
		if !opts.SkipPreflight {
			report, err = s.checkVersion(ctx, by, version, opts.ScheduledStart)
			if err != nil {
				return err
			}
			switch {
			case report.Overall == domain.VerdictFail:
				return &PreflightError{Report: report}
			case report.Overall == domain.VerdictWarning && !opts.AcknowledgeWarnings:
				return &PreflightError{Report: report}
			}
		}
		id := opts.ExecutionID
		if id == "" {
			id = s.newID()
		}
		session, err = execution.Begin(ctx, id, protocol, version, by, s.deps(), s.sessionOptions()...)
		if err != nil {
			return err
		}
		entityID = session.Execution().ID
		return nil
	})
	return session, report, err
}

// OpenExecution resumes a stored run. Runs belonging to another lab read as
// not found.
func (s *Service) OpenExecution(ctx context.Context, by domain.Principal, executionID string) (*execution.Session, error) {
	by = s.stamp(by)
	var session *execution.Session
	err := s.run(ctx, opOpenExecution, by, &executionID, func(ctx context.Context) error {
		var err error
		session, err = s.open(ctx, by, executionID)
		return err
	})
	return session, err
}

// ApplyCommand opens a run, applies one command and returns the resulting
// state. Deductions the command triggers continue after it returns.
func (s *Service) ApplyCommand(ctx context.Context, executionID string, cmd execution.Command) (domain.ProtocolExecution, error) {
	by := s.stamp(execution.PrincipalOf(cmd))
	var out domain.ProtocolExecution
	err := s.run(ctx, opApplyCommand, by, &executionID, func(ctx context.Context) error {
		session, err := s.open(ctx, by, executionID)
		if err != nil {
			return err
		}
		out, err = session.Apply(ctx, cmd)
		return err
	})
	return out, err
}

// AttachEvidence uploads a file for a step and records its URL on the run.
func (s *Service) AttachEvidence(ctx context.Context, by domain.Principal, executionID, stepID string, r io.Reader, contentType string) (domain.ProtocolExecution, error) {
	by = s.stamp(by)
	var out domain.ProtocolExecution
	err := s.run(ctx, opAttachEvidence, by, &executionID, func(ctx context.Context) error {
		if s.media == nil {
			return ErrMediaUnavailable
		}
		session, err := s.open(ctx, by, executionID)
		if err != nil {
			return err
		}
		out, err = session.AttachEvidence(ctx, by, stepID, r, contentType)
		return err
	})
	return out, err
}

// Evidence is a stored evidence object opened for reading. Callers close Body.
type Evidence struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// EvidenceReader is implemented by media sinks that can stream uploads back.
type EvidenceReader interface {
	Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error)
}

// OpenEvidence streams an uploaded evidence object. Keys outside the
// principal's lab are reported as missing.
func (s *Service) OpenEvidence(ctx context.Context, by domain.Principal, key string) (Evidence, error) {
	by = s.stamp(by)
	var out Evidence
	err := s.run(ctx, opOpenEvidence, by, &key, func(ctx context.Context) error {
		reader, ok := s.media.(EvidenceReader)
		if !ok {
			return ErrMediaUnavailable
		}
		if !media.InLab(by.LabID, key) {
			return domain.ErrNotFound{Entity: domain.EntityMedia, ID: key}
		}
		info, body, err := reader.Open(ctx, key)
		if err != nil {
			return err
		}
		out = Evidence{Key: key, ContentType: info.ContentType, Size: info.Size, Body: body}
		return nil
	})
	return out, err
}

// WatchExecution streams a run after every stored update until ctx is done.
func (s *Service) WatchExecution(ctx context.Context, by domain.Principal, executionID string) (<-chan domain.ProtocolExecution, error) {
	by = s.stamp(by)
	if _, err := s.open(ctx, by, executionID); err != nil {
		return nil, err
	}
	return s.store.Subscribe(ctx, executionID)
}

// ListExecutions returns the runs of the principal's lab.
func (s *Service) ListExecutions(ctx context.Context, by domain.Principal) ([]domain.ProtocolExecution, error) {
	if err := requireLab(by); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(ctx, by.LabID)
}

// ReorderSuggestions computes suggestions for the principal's lab and hides
// those dismissed in session. An empty session shows everything.
func (s *Service) ReorderSuggestions(ctx context.Context, by domain.Principal, session string) (ReorderReport, error) {
	by = s.stamp(by)
	var report ReorderReport
	err := s.run(ctx, opReorderSuggestions, by, &by.LabID, func(ctx context.Context) error {
		inv, err := s.store.ListInventory(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list inventory", err)
		}
		devices, err := s.store.ListEquipment(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list equipment", err)
		}
		projects, err := s.store.ListProjects(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list projects", err)
		}
		suggestions := s.engine.Compute(inv, devices, projects)
		if rec, ok := s.metrics.(SuggestionRecorder); ok {
			rec.Suggestions(by.LabID, reorder.Summarize(suggestions).ByPriority)
		}
		if session != "" {
			dismissed, err := s.dismissals.Dismissed(ctx, session)
			if err != nil {
				return err
			}
			suggestions = reorder.Filter(suggestions, dismissed)
		}
		report = ReorderReport{Suggestions: suggestions, Summary: reorder.Summarize(suggestions)}
		return nil
	})
	return report, err
}

// DismissSuggestion hides one item's suggestion for the rest of session.
func (s *Service) DismissSuggestion(ctx context.Context, by domain.Principal, session, itemID string) error {
	by = s.stamp(by)
	return s.run(ctx, opDismissSuggestion, by, &itemID, func(ctx context.Context) error {
		return s.dismissals.Dismiss(ctx, session, itemID)
	})
}

// ClearDismissals restores every suggestion for session.
func (s *Service) ClearDismissals(ctx context.Context, by domain.Principal, session string) error {
	by = s.stamp(by)
	return s.run(ctx, opClearDismissals, by, &session, func(ctx context.Context) error {
		return s.dismissals.Clear(ctx, session)
	})
}

// DeviceHealth reports maintenance and supply health for every device in
// the principal's lab, worst first.
func (s *Service) DeviceHealth(ctx context.Context, by domain.Principal) ([]health.DeviceHealth, error) {
	by = s.stamp(by)
	var out []health.DeviceHealth
	err := s.run(ctx, opDeviceHealth, by, &by.LabID, func(ctx context.Context) error {
		devices, err := s.store.ListEquipment(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list equipment", err)
		}
		inv, err := s.store.ListInventory(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list inventory", err)
		}
		items := health.IndexItems(inv)
		out = make([]health.DeviceHealth, 0, len(devices))
		for _, d := range devices {
			out = append(out, health.DeviceStatus(d, items, by.At))
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Overall != out[j].Overall {
				return out[i].Overall < out[j].Overall
			}
			return out[i].DeviceID < out[j].DeviceID
		})
		return nil
	})
	return out, err
}

// ListInventory returns the lab's inventory with derived stock levels.
func (s *Service) ListInventory(ctx context.Context, by domain.Principal) ([]InventoryStatus, error) {
	by = s.stamp(by)
	var out []InventoryStatus
	err := s.run(ctx, opListInventory, by, &by.LabID, func(ctx context.Context) error {
		inv, err := s.store.ListInventory(ctx, by.LabID)
		if err != nil {
			return domain.Transient("list inventory", err)
		}
		out = make([]InventoryStatus, 0, len(inv))
		for _, it := range inv {
			out = append(out, InventoryStatus{
				Item:            it,
				Level:           it.Level(),
				StockPercentage: health.StockPercentage(it.CurrentQuantity, it.MinQuantity),
			})
		}
		return nil
	})
	return out, err
}

func (s *Service) resolveVersion(ctx context.Context, by domain.Principal, protocolID, versionID string) (domain.Protocol, domain.ProtocolVersion, error) {
	if protocolID == "" {
		return domain.Protocol{}, domain.ProtocolVersion{}, &domain.ValidationError{Field: "protocol_id", Reason: "protocol id is required"}
	}
	protocol, err := s.store.GetProtocol(ctx, protocolID)
	if err != nil {
		return domain.Protocol{}, domain.ProtocolVersion{}, err
	}
	if !sameLab(by.LabID, protocol.LabID) {
		return domain.Protocol{}, domain.ProtocolVersion{}, domain.ErrNotFound{Entity: domain.EntityProtocol, ID: protocolID}
	}
	if versionID == "" {
		versionID = protocol.ActiveVersionID
	}
	version, err := s.store.GetProtocolVersion(ctx, protocolID, versionID)
	if err != nil {
		return domain.Protocol{}, domain.ProtocolVersion{}, err
	}
	return protocol, version, nil
}

func (s *Service) checkVersion(ctx context.Context, by domain.Principal, version domain.ProtocolVersion, start time.Time) (domain.GateReport, error) {
	reqs, err := preflight.RequirementsForVersion(version)
	if err != nil {
		return domain.GateReport{}, err
	}
	if start.IsZero() {
		start = by.At
	}
	return s.gate.Check(ctx, by, reqs, preflight.WindowForVersion(start, version))
}

func (s *Service) open(ctx context.Context, by domain.Principal, executionID string) (*execution.Session, error) {
	if err := requireLab(by); err != nil {
		return nil, err
	}
	if executionID == "" {
		return nil, &domain.ValidationError{Field: "execution_id", Reason: "execution id is required"}
	}
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !sameLab(by.LabID, exec.LabID) {
		return nil, domain.ErrNotFound{Entity: domain.EntityExecution, ID: executionID}
	}
	version, err := s.store.GetProtocolVersion(ctx, exec.ProtocolID, exec.ProtocolVersionID)
	if err != nil {
		return nil, err
	}
	return execution.Resume(exec, version, s.deps(), s.sessionOptions()...)
}

func (s *Service) deps() execution.Deps {
	return execution.Deps{
		Executions: s.store,
		Inventory:  s.store,
		Incidents:  s.incidents,
		Media:      s.media,
	}
}

func (s *Service) sessionOptions() []execution.Option {
	return []execution.Option{
		execution.WithLogger(s.logger),
		execution.WithClock(s.clock.Now),
		execution.WithWarningHandler(s.onWarning),
	}
}

func (s *Service) onWarning(w execution.Warning) {
	if rec, ok := s.metrics.(DeductionWarningRecorder); ok {
		rec.DeductionWarning(w.Class)
	}
}

func (s *Service) stamp(by domain.Principal) domain.Principal {
	if by.At.IsZero() {
		by.At = s.clock.Now()
	}
	return by
}

// requireLab rejects principals without a lab; an empty lab would match
// every tenant in the stores.
func requireLab(by domain.Principal) error {
	if strings.TrimSpace(by.LabID) == "" {
		return &domain.ValidationError{Field: "lab_id", Reason: "lab id is required"}
	}
	return nil
}

func sameLab(principalLab, recordLab string) bool {
	return principalLab != "" && principalLab == recordLab
}

// run wraps fn with a span, a metrics observation, an audit entry and a log line.
// entityID is read after fn returns so operations can report ids they create.
func (s *Service) run(ctx context.Context, op string, by domain.Principal, entityID *string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	err := requireLab(by)
	if err == nil {
		err = fn(ctx)
	}
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, by, *entityID, duration, err)
	switch {
	case err == nil:
		s.logger.Debug("operation completed", "op", op, "lab", by.LabID, "actor", by.ActorID, "duration", duration)
	case errors.Is(err, ErrPreflightBlocked), errors.Is(err, ErrPreflightUnacknowledged):
		s.logger.Info("operation stopped by preflight", "op", op, "lab", by.LabID, "actor", by.ActorID, "error", err)
	case domain.Classify(err) == domain.ClassTransientIO:
		s.logger.Error("operation failed", "op", op, "lab", by.LabID, "actor", by.ActorID, "error", err)
	default:
		s.logger.Warn("operation rejected", "op", op, "lab", by.LabID, "actor", by.ActorID, "class", string(domain.Classify(err)), "error", err)
	}
	return err
}

// recordAudit emits an entry for op. Operations without an audit target are
// ignored.
func (s *Service) recordAudit(ctx context.Context, op string, by domain.Principal, entityID string, duration time.Duration, err error) {
	target, ok := auditTargets[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  entityID,
		ActorID:   by.ActorID,
		LabID:     by.LabID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}
