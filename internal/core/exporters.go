package core

import (
	"context"
	"expvar"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"labcore/pkg/domain"
)

// DefaultExpvarName is the expvar key used when none is given.
const DefaultExpvarName = "labcore"

// ExpvarMetricsRecorder keeps service counters in one expvar.Map. Keys are
// "<operation>.success", "<operation>.error", "<operation>.seconds",
// "deduction_warnings.<class>" and "suggestions.<lab>.<priority>".
type ExpvarMetricsRecorder struct {
	vars *expvar.Map
}

// NewExpvarMetricsRecorder publishes a map under name. A name that is already
// published as a map is reused, so a process can rebuild its service.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = DefaultExpvarName
	}
	if m, ok := expvar.Get(name).(*expvar.Map); ok {
		return &ExpvarMetricsRecorder{vars: m}
	}
	return &ExpvarMetricsRecorder{vars: expvar.NewMap(name)}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.vars.Add(operation+"."+status, 1)
	r.vars.AddFloat(operation+".seconds", duration.Seconds())
}

// DeductionWarning implements DeductionWarningRecorder.
func (r *ExpvarMetricsRecorder) DeductionWarning(class domain.ErrorClass) {
	if class == domain.ClassNone {
		class = "unknown"
	}
	r.vars.Add("deduction_warnings."+string(class), 1)
}

// Suggestions implements SuggestionRecorder.
func (r *ExpvarMetricsRecorder) Suggestions(lab string, byPriority map[domain.Priority]int) {
	for priority, n := range byPriority {
		v := new(expvar.Int)
		v.Set(int64(n))
		r.vars.Set("suggestions."+lab+"."+string(priority), v)
	}
}

// Get returns the value stored under key, or nil.
func (r *ExpvarMetricsRecorder) Get(key string) expvar.Var {
	return r.vars.Get(key)
}

// Handler serves every published expvar, this recorder included, as JSON.
func (r *ExpvarMetricsRecorder) Handler() http.Handler {
	return expvar.Handler()
}

// SpanLogTracer writes one JSON line per finished span.
type SpanLogTracer struct {
	log *zap.Logger
}

// NewSpanLogTracer returns a tracer appending spans to w.
func NewSpanLogTracer(w io.Writer) *SpanLogTracer {
	enc := zap.NewProductionEncoderConfig()
	enc.LevelKey = zapcore.OmitKey
	enc.MessageKey = "operation"
	enc.TimeKey = "ended_at"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	sink := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return &SpanLogTracer{log: zap.New(sink)}
}

// Start implements Tracer.
func (t *SpanLogTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, logSpan{log: t.log, operation: operation, started: time.Now()}
}

// Sync flushes buffered spans.
func (t *SpanLogTracer) Sync() error {
	return t.log.Sync()
}

type logSpan struct {
	log       *zap.Logger
	operation string
	started   time.Time
}

func (s logSpan) End(err error) {
	fields := []zap.Field{
		zap.Time("started_at", s.started.UTC()),
		zap.Duration("duration", time.Since(s.started)),
		zap.String("status", "success"),
	}
	if err != nil {
		fields[2] = zap.String("status", "error")
		fields = append(fields, zap.String("class", string(domain.Classify(err))), zap.Error(err))
	}
	s.log.Info(s.operation, fields...)
}
