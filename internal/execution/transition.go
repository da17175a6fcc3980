package execution

import (
	"fmt"
	"strings"
	"time"

	"labcore/pkg/domain"
)

// NewExecution builds the first record of a run: running, at step 0, with a
// pending entry for every step of the pinned version.
func NewExecution(id string, protocol domain.Protocol, version domain.ProtocolVersion, by domain.Principal) domain.ProtocolExecution {
	steps := version.OrderedSteps()
	records := make([]domain.StepExecution, 0, len(steps))
	for _, st := range steps {
		records = append(records, domain.StepExecution{
			StepID:    st.ID,
			Status:    domain.StepPending,
			Notes:     []domain.StepNote{},
			MediaURLs: []string{},
		})
	}
	labID := by.LabID
	if labID == "" {
		labID = protocol.LabID
	}
	return domain.ProtocolExecution{
		ID:                id,
		LabID:             labID,
		ProtocolID:        protocol.ID,
		ProtocolVersionID: version.ID,
		Status:            domain.ExecutionRunning,
		Steps:             domain.NewStepLog(records...),
		StartedAt:         by.At,
		StartedBy:         by.ActorID,
		UpdatedAt:         by.At,
		UpdatedBy:         by.ActorID,
	}
}

// Transition computes the next execution state and the effects needed to
// realise it. steps must be the pinned version's steps in order. Only
// validation-class errors are returned; exec is never modified.
func Transition(exec domain.ProtocolExecution, steps []domain.ProtocolStep, cmd Command) (domain.ProtocolExecution, []Effect, error) {
	if cmd == nil {
		return exec, nil, &domain.ValidationError{Field: "command", Reason: "command is required"}
	}
	by := cmd.principal()
	if exec.Status.Terminal() {
		switch cmd.(type) {
		case Finish, Abort:
			return exec.Clone(), nil, nil
		default:
			return exec, nil, domain.ErrExecutionClosed
		}
	}

	patch := domain.ExecutionPatch{UpdatedAt: by.At, UpdatedBy: by.ActorID}
	var effects []Effect

	switch c := cmd.(type) {
	case Advance:
		if !navigate(exec, steps, exec.CurrentStepIndex+1, &patch) {
			return exec.Clone(), nil, nil
		}
	case Retreat:
		if !navigate(exec, steps, exec.CurrentStepIndex-1, &patch) {
			return exec.Clone(), nil, nil
		}
	case GoTo:
		if !navigate(exec, steps, c.Index, &patch) {
			return exec.Clone(), nil, nil
		}
	case ToggleStep:
		step, rec, err := lookup(exec, steps, c.StepID)
		if err != nil {
			return exec, nil, err
		}
		if rec.Status == domain.StepCompleted {
			rec.Status = domain.StepPending
			rec.CompletedAt = nil
			rec.CompletedBy = ""
		} else {
			at := by.At
			rec.Status = domain.StepCompleted
			rec.CompletedAt = &at
			rec.CompletedBy = by.ActorID
			if len(step.RequiredReagents) > 0 {
				effects = append(effects, DeductEffect{
					StepID:   step.ID,
					LabID:    exec.LabID,
					By:       by,
					Reagents: append([]domain.StepReagent(nil), step.RequiredReagents...),
				})
			}
		}
		patch.Steps = []domain.StepExecution{rec}
	case AddNote:
		text := strings.TrimSpace(c.Text)
		if text == "" {
			return exec, nil, &domain.ValidationError{Field: "text", Reason: "note text is empty"}
		}
		_, rec, err := lookup(exec, steps, c.StepID)
		if err != nil {
			return exec, nil, err
		}
		rec.Notes = append(rec.Notes, domain.StepNote{Text: text, Author: by.ActorID, At: by.At})
		patch.Steps = []domain.StepExecution{rec}
	case AttachMedia:
		if strings.TrimSpace(c.URL) == "" {
			return exec, nil, &domain.ValidationError{Field: "url", Reason: "media url is empty"}
		}
		_, rec, err := lookup(exec, steps, c.StepID)
		if err != nil {
			return exec, nil, err
		}
		rec.MediaURLs = append(rec.MediaURLs, c.URL)
		patch.Steps = []domain.StepExecution{rec}
	case ReportIssue:
		msg := strings.TrimSpace(c.Message)
		if msg == "" {
			return exec, nil, &domain.ValidationError{Field: "message", Reason: "issue description is empty"}
		}
		_, rec, err := lookup(exec, steps, c.StepID)
		if err != nil {
			return exec, nil, err
		}
		rec.Notes = append(rec.Notes, domain.StepNote{Text: msg, Author: by.ActorID, At: by.At, Issue: true})
		rec.Flagged = true
		patch.Steps = []domain.StepExecution{rec}
		effects = append(effects, IncidentEffect{Incident: domain.Incident{
			LabID:       exec.LabID,
			ExecutionID: exec.ID,
			ProtocolID:  exec.ProtocolID,
			StepID:      rec.StepID,
			ReportedBy:  by.ActorID,
			Message:     msg,
			ReportedAt:  by.At,
		}})
	case Finish:
		if !c.Confirmed {
			return exec, nil, domain.ErrConfirmationRequired
		}
		if c.DurationSeconds <= 0 {
			return exec, nil, &domain.ValidationError{Field: "duration_seconds", Reason: "a finished run needs its elapsed time"}
		}
		finishPatch(domain.ExecutionCompleted, by.At, c.DurationSeconds, &patch)
	case Abort:
		if !c.Confirmed {
			return exec, nil, domain.ErrConfirmationRequired
		}
		if c.DurationSeconds < 0 {
			return exec, nil, &domain.ValidationError{Field: "duration_seconds", Reason: "elapsed time cannot be negative"}
		}
		finishPatch(domain.ExecutionAborted, by.At, c.DurationSeconds, &patch)
	default:
		return exec, nil, &domain.ValidationError{Field: "command", Reason: fmt.Sprintf("unsupported command %T", cmd)}
	}

	next := patch.Apply(exec)
	return next, append([]Effect{PersistEffect{Patch: patch}}, effects...), nil
}

// navigate writes the clamped index into patch and reports whether it moved.
func navigate(exec domain.ProtocolExecution, steps []domain.ProtocolStep, target int, patch *domain.ExecutionPatch) bool {
	idx := clampIndex(target, len(steps))
	if idx == exec.CurrentStepIndex {
		return false
	}
	patch.CurrentStepIndex = &idx
	return true
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func lookup(exec domain.ProtocolExecution, steps []domain.ProtocolStep, stepID string) (domain.ProtocolStep, domain.StepExecution, error) {
	for _, st := range steps {
		if st.ID != stepID {
			continue
		}
		rec, ok := exec.Steps.Get(stepID)
		if !ok {
			rec = domain.StepExecution{StepID: stepID, Status: domain.StepPending}
		}
		return st, rec, nil
	}
	return domain.ProtocolStep{}, domain.StepExecution{}, &domain.ValidationError{Field: "step_id", Reason: fmt.Sprintf("step %q is not part of this protocol version", stepID)}
}

// finishPatch closes the run. seconds is the client's elapsed time; wall-clock
// timestamps are not used because the client may have been offline.
func finishPatch(status domain.ExecutionStatus, at time.Time, seconds int64, patch *domain.ExecutionPatch) {
	finished := at
	patch.Status = &status
	patch.FinishedAt = &finished
	patch.DurationSeconds = &seconds
}
