// Package incident delivers flagged-step incidents. Reporting never blocks
// the caller and never fails the run that raised the incident.
package incident

import (
	"context"
	"sync"

	"labcore/internal/logging"
	"labcore/pkg/domain"
)

// LogSink writes incidents to a logger at warn level.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink returns a sink writing to l.
func NewLogSink(l logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrNoop(l)}
}

// Report implements domain.IncidentSink.
func (s *LogSink) Report(_ context.Context, in domain.Incident) {
	s.logger.Warn("step incident reported",
		"incident_id", in.ID,
		"lab_id", in.LabID,
		"execution_id", in.ExecutionID,
		"protocol_id", in.ProtocolID,
		"step_id", in.StepID,
		"reported_by", in.ReportedBy,
		"message", in.Message,
		"reported_at", in.ReportedAt,
	)
}

// Recorder keeps incidents in memory for inspection.
type Recorder struct {
	mu        sync.Mutex
	incidents []domain.Incident
}

// Report implements domain.IncidentSink.
func (r *Recorder) Report(_ context.Context, in domain.Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, in)
}

// Incidents returns a copy of everything reported so far.
func (r *Recorder) Incidents() []domain.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Incident(nil), r.incidents...)
}

// Fanout forwards each incident to every sink in order.
type Fanout []domain.IncidentSink

// Report implements domain.IncidentSink.
func (f Fanout) Report(ctx context.Context, in domain.Incident) {
	for _, s := range f {
		if s != nil {
			s.Report(ctx, in)
		}
	}
}

var (
	_ domain.IncidentSink = (*LogSink)(nil)
	_ domain.IncidentSink = (*Recorder)(nil)
	_ domain.IncidentSink = Fanout(nil)
	_ domain.IncidentSink = (*Dispatcher)(nil)
)
