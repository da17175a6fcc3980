package domain

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of a protocol run.
type ExecutionStatus string

// Execution states. Completed and aborted are terminal.
const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionAborted
}

// StepStatus is the completion state of one step within a run.
type StepStatus string

// Step statuses.
const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// StepNote is a piece of evidence text attached to a step.
type StepNote struct {
	Text   string    `json:"text"`
	Author string    `json:"author"`
	At     time.Time `json:"at"`
	Issue  bool      `json:"issue,omitempty"`
}

// StepExecution records what happened to one step during a run.
type StepExecution struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	Notes       []StepNote `json:"notes"`
	MediaURLs   []string   `json:"media_urls"`
	Flagged     bool       `json:"flagged,omitempty"`
}

func (s StepExecution) clone() StepExecution {
	cp := s
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		cp.CompletedAt = &at
	}
	cp.Notes = append([]StepNote(nil), s.Notes...)
	cp.MediaURLs = append([]string(nil), s.MediaURLs...)
	return cp
}

// StepLog is an append-only log of step records keyed by step id with
// last-write-wins per key. A log never holds two entries for one step.
// Put returns a new log; existing values are never mutated.
type StepLog struct {
	entries []StepExecution
}

// NewStepLog builds a log from records; later records win for repeated ids.
func NewStepLog(records ...StepExecution) StepLog {
	var log StepLog
	for _, r := range records {
		log = log.Put(r)
	}
	return log
}

// Len returns the number of distinct steps recorded.
func (l StepLog) Len() int { return len(l.entries) }

// Get returns the record for stepID.
func (l StepLog) Get(stepID string) (StepExecution, bool) {
	for _, e := range l.entries {
		if e.StepID == stepID {
			return e.clone(), true
		}
	}
	return StepExecution{}, false
}

// Put records rec, replacing any earlier record for the same step.
func (l StepLog) Put(rec StepExecution) StepLog {
	out := make([]StepExecution, 0, len(l.entries)+1)
	replaced := false
	for _, e := range l.entries {
		if e.StepID == rec.StepID {
			out = append(out, rec.clone())
			replaced = true
			continue
		}
		out = append(out, e.clone())
	}
	if !replaced {
		out = append(out, rec.clone())
	}
	return StepLog{entries: out}
}

// Entries returns a copy of the records in first-recorded order.
func (l StepLog) Entries() []StepExecution {
	out := make([]StepExecution, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// MarshalJSON encodes the log as an array of step records.
func (l StepLog) MarshalJSON() ([]byte, error) {
	entries := l.entries
	if entries == nil {
		entries = []StepExecution{}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes an array, collapsing duplicate step ids.
func (l *StepLog) UnmarshalJSON(data []byte) error {
	var records []StepExecution
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	*l = NewStepLog(records...)
	return nil
}

// ProtocolExecution is one timed, stateful run of a pinned protocol version.
type ProtocolExecution struct {
	ID                string          `json:"id"`
	LabID             string          `json:"lab_id"`
	ProtocolID        string          `json:"protocol_id"`
	ProtocolVersionID string          `json:"protocol_version_id"`
	Status            ExecutionStatus `json:"status"`
	CurrentStepIndex  int             `json:"current_step_index"`
	Steps             StepLog         `json:"steps"`
	DurationSeconds   int64           `json:"duration_seconds"`
	StartedAt         time.Time       `json:"started_at"`
	StartedBy         string          `json:"started_by"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
	UpdatedBy         string          `json:"updated_by,omitempty"`
}

// Clone returns a deep copy of the execution.
func (e ProtocolExecution) Clone() ProtocolExecution {
	cp := e
	cp.Steps = NewStepLog(e.Steps.Entries()...)
	if e.FinishedAt != nil {
		at := *e.FinishedAt
		cp.FinishedAt = &at
	}
	return cp
}

// ExecutionPatch is a partial update; nil fields are left untouched and step
// records are upserted by id.
type ExecutionPatch struct {
	Status           *ExecutionStatus `json:"status,omitempty"`
	CurrentStepIndex *int             `json:"current_step_index,omitempty"`
	DurationSeconds  *int64           `json:"duration_seconds,omitempty"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
	Steps            []StepExecution  `json:"steps,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
	UpdatedBy        string           `json:"updated_by,omitempty"`
}

// Empty reports whether the patch carries no field changes.
func (p ExecutionPatch) Empty() bool {
	return p.Status == nil && p.CurrentStepIndex == nil && p.DurationSeconds == nil &&
		p.FinishedAt == nil && len(p.Steps) == 0
}

// Apply merges the patch into exec.
func (p ExecutionPatch) Apply(exec ProtocolExecution) ProtocolExecution {
	out := exec.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.CurrentStepIndex != nil {
		out.CurrentStepIndex = *p.CurrentStepIndex
	}
	if p.DurationSeconds != nil {
		out.DurationSeconds = *p.DurationSeconds
	}
	if p.FinishedAt != nil {
		at := *p.FinishedAt
		out.FinishedAt = &at
	}
	for _, s := range p.Steps {
		out.Steps = out.Steps.Put(s)
	}
	if !p.UpdatedAt.IsZero() {
		out.UpdatedAt = p.UpdatedAt
	}
	if p.UpdatedBy != "" {
		out.UpdatedBy = p.UpdatedBy
	}
	return out
}
