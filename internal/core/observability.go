package core

import (
	"context"
	"time"

	"labcore/internal/logging"
	"labcore/internal/reorder"
	"labcore/pkg/domain"
)

// Clock supplies the time used to stamp principals and audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditAction is the kind of change an operation made.
type AuditAction string

// Audit actions.
const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionRead   AuditAction = "read"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    AuditAction
	EntityID  string
	ActorID   string
	LabID     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for completed operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer opens a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// auditTarget maps an operation to the entity and action it touches.
type auditTarget struct {
	entity domain.EntityType
	action AuditAction
}

var auditTargets = map[string]auditTarget{
	opPreflight:          {domain.EntityProtocolVersion, ActionRead},
	opStartExecution:     {domain.EntityExecution, ActionCreate},
	opOpenExecution:      {domain.EntityExecution, ActionRead},
	opApplyCommand:       {domain.EntityExecution, ActionUpdate},
	opAttachEvidence:     {domain.EntityMedia, ActionCreate},
	opOpenEvidence:       {domain.EntityMedia, ActionRead},
	opReorderSuggestions: {domain.EntityInventoryItem, ActionRead},
	opDismissSuggestion:  {domain.EntityInventoryItem, ActionUpdate},
	opClearDismissals:    {domain.EntityInventoryItem, ActionUpdate},
	opDeviceHealth:       {domain.EntityEquipment, ActionRead},
	opListInventory:      {domain.EntityInventoryItem, ActionRead},
}

// Service operation names used for logs, metrics, traces and audit entries.
const (
	opPreflight          = "preflight"
	opStartExecution     = "start_execution"
	opOpenExecution      = "open_execution"
	opApplyCommand       = "apply_command"
	opAttachEvidence     = "attach_evidence"
	opOpenEvidence       = "open_evidence"
	opReorderSuggestions = "reorder_suggestions"
	opDismissSuggestion  = "dismiss_suggestion"
	opClearDismissals    = "clear_dismissals"
	opDeviceHealth       = "device_health"
	opListInventory      = "list_inventory"
)

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock     Clock
	logger    logging.Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	incidents domain.IncidentSink
	media     domain.MediaSink
	dismissal reorder.Dismissals
	newID     func() string
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   systemClock{},
		logger:  logging.Noop(),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger shared with every component the service builds.
func WithLogger(logger logging.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logging.OrNoop(logger) }
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink. Recorders that also implement
// DeductionWarningRecorder or SuggestionRecorder receive those signals too.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithIncidentSink routes flagged-step incidents.
func WithIncidentSink(sink domain.IncidentSink) ServiceOption {
	return func(o *serviceOptions) { o.incidents = sink }
}

// WithMediaSink enables evidence uploads.
func WithMediaSink(sink domain.MediaSink) ServiceOption {
	return func(o *serviceOptions) { o.media = sink }
}

// WithDismissals replaces the in-memory dismissal overlay.
func WithDismissals(d reorder.Dismissals) ServiceOption {
	return func(o *serviceOptions) { o.dismissal = d }
}

// WithIDFunc replaces the execution id generator.
func WithIDFunc(fn func() string) ServiceOption {
	return func(o *serviceOptions) { o.newID = fn }
}

// DeductionWarningRecorder counts bookkeeping warnings by error class.
type DeductionWarningRecorder interface {
	DeductionWarning(class domain.ErrorClass)
}

// SuggestionRecorder publishes the current reorder suggestion count per priority.
type SuggestionRecorder interface {
	Suggestions(lab string, byPriority map[domain.Priority]int)
}
