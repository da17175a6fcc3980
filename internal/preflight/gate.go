// Package preflight evaluates a protocol's resource requirements before a run
// starts and folds the per-resource results into a pass/warning/fail verdict.
package preflight

import (
	"context"
	"time"

	"labcore/internal/logging"
	"labcore/internal/resolver"
	"labcore/pkg/domain"
)

// Gate checks requirement lists against live state. It is stateless; each
// call reads a fresh snapshot.
type Gate struct {
	resolver *resolver.Resolver
	logger   logging.Logger
	now      func() time.Time
}

// Option customises a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Gate) { g.logger = logging.OrNoop(l) }
}

// WithClock overrides the CheckedAt source when the principal has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate constructs a gate over a resolver.
func NewGate(r *resolver.Resolver, opts ...Option) *Gate {
	g := &Gate{resolver: r, logger: logging.Noop(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check resolves every requirement in input order and computes the verdict.
// All requirements are validated before any store is read.
func (g *Gate) Check(ctx context.Context, principal domain.Principal, reqs []domain.ResourceRequirement, window domain.TimeWindow) (domain.GateReport, error) {
	at := principal.At
	if at.IsZero() {
		at = g.now()
		principal.At = at
	}
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return domain.GateReport{}, err
		}
	}
	report := domain.GateReport{PerResource: make([]domain.ResourceCheckResult, 0, len(reqs)), CheckedAt: at}
	if len(reqs) > 0 {
		snap := g.resolver.Snapshot(ctx, principal)
		for _, req := range reqs {
			res, err := snap.Check(ctx, req, window)
			if err != nil {
				return domain.GateReport{}, err
			}
			report.PerResource = append(report.PerResource, res)
		}
	}
	report.Overall = Verdict(report.PerResource)
	g.logger.Info("preflight evaluated", "lab", principal.LabID, "actor", principal.ActorID, "requirements", len(reqs), "verdict", report.Overall)
	return report, nil
}

// Verdict folds results: any blocking status fails, any low or unknown
// status warns, otherwise the run may start.
func Verdict(results []domain.ResourceCheckResult) domain.Verdict {
	verdict := domain.VerdictPass
	for _, r := range results {
		switch {
		case r.Status.Blocking():
			return domain.VerdictFail
		case r.Status == domain.StatusLow || r.Status == domain.StatusUnknown:
			verdict = domain.VerdictWarning
		}
	}
	return verdict
}
