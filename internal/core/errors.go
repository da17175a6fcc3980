package core

import (
	"errors"
	"fmt"

	"labcore/pkg/domain"
)

var (
	// ErrPreflightBlocked is matched by a PreflightError whose verdict is fail.
	ErrPreflightBlocked = errors.New("preflight failed")
	// ErrPreflightUnacknowledged is matched when warnings were not acknowledged.
	ErrPreflightUnacknowledged = errors.New("preflight warnings not acknowledged")
	// ErrMediaUnavailable is returned by evidence operations when no media sink is configured.
	ErrMediaUnavailable = errors.New("media sink not configured")
)

// PreflightError stops a run from starting and carries the report that
// stopped it.
type PreflightError struct {
	Report domain.GateReport
}

func (e *PreflightError) Error() string {
	blocking := 0
	for _, r := range e.Report.PerResource {
		if r.Status.Blocking() {
			blocking++
		}
	}
	if e.Report.Overall == domain.VerdictFail {
		return fmt.Sprintf("%s: %d blocking resource(s)", ErrPreflightBlocked, blocking)
	}
	return ErrPreflightUnacknowledged.Error()
}

// Is lets errors.Is match the sentinel that fits the verdict.
func (e *PreflightError) Is(target error) bool {
	switch target {
	case ErrPreflightBlocked:
		return e.Report.Overall == domain.VerdictFail
	case ErrPreflightUnacknowledged:
		return e.Report.Overall == domain.VerdictWarning
	}
	return false
}
