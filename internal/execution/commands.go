// Package execution drives a protocol run. Transition is a pure function from
// (execution, command) to (execution, effects); Session applies transitions
// locally and executes the resulting effects against the collaborators.
package execution

import "labcore/pkg/domain"

// Command is an instruction issued by the person driving a run. Every
// command carries the acting principal.
type Command interface {
	principal() domain.Principal
	withPrincipal(domain.Principal) Command
}

// Advance moves to the next step; it clamps at the last step.
type Advance struct {
	By domain.Principal
}

// Retreat moves to the previous step; it clamps at the first step.
type Retreat struct {
	By domain.Principal
}

// GoTo jumps to Index, clamped into range.
type GoTo struct {
	By    domain.Principal
	Index int
}

// ToggleStep flips a step between pending and completed.
type ToggleStep struct {
	By     domain.Principal
	StepID string
}

// AddNote appends a free-text note to a step.
type AddNote struct {
	By     domain.Principal
	StepID string
	Text   string
}

// AttachMedia appends the URL of uploaded evidence to a step.
type AttachMedia struct {
	By     domain.Principal
	StepID string
	URL    string
}

// ReportIssue flags a step and raises an incident.
type ReportIssue struct {
	By      domain.Principal
	StepID  string
	Message string
}

// Finish completes the run. DurationSeconds is the elapsed time reported by
// the client and must be positive.
type Finish struct {
	By              domain.Principal
	Confirmed       bool
	DurationSeconds int64
}

// Abort stops the run without completing it. DurationSeconds is optional.
type Abort struct {
	By              domain.Principal
	Confirmed       bool
	DurationSeconds int64
}

// PrincipalOf returns the principal a command was issued by. A nil command
// yields the zero principal.
func PrincipalOf(cmd Command) domain.Principal {
	if cmd == nil {
		return domain.Principal{}
	}
	return cmd.principal()
}

func (c Advance) principal() domain.Principal     { return c.By }
func (c Retreat) principal() domain.Principal     { return c.By }
func (c GoTo) principal() domain.Principal        { return c.By }
func (c ToggleStep) principal() domain.Principal  { return c.By }
func (c AddNote) principal() domain.Principal     { return c.By }
func (c AttachMedia) principal() domain.Principal { return c.By }
func (c ReportIssue) principal() domain.Principal { return c.By }
func (c Finish) principal() domain.Principal      { return c.By }
func (c Abort) principal() domain.Principal       { return c.By }

func (c Advance) withPrincipal(p domain.Principal) Command     { c.By = p; return c }
func (c Retreat) withPrincipal(p domain.Principal) Command     { c.By = p; return c }
func (c GoTo) withPrincipal(p domain.Principal) Command        { c.By = p; return c }
func (c ToggleStep) withPrincipal(p domain.Principal) Command  { c.By = p; return c }
func (c AddNote) withPrincipal(p domain.Principal) Command     { c.By = p; return c }
func (c AttachMedia) withPrincipal(p domain.Principal) Command { c.By = p; return c }
func (c ReportIssue) withPrincipal(p domain.Principal) Command { c.By = p; return c }
func (c Finish) withPrincipal(p domain.Principal) Command      { c.By = p; return c }
func (c Abort) withPrincipal(p domain.Principal) Command       { c.By = p; return c }

// Effect is work requested by a transition.
type Effect interface {
	effect()
}

// PersistEffect writes a partial update to the execution store.
type PersistEffect struct {
	Patch domain.ExecutionPatch
}

// DeductEffect removes a completed step's reagents from inventory.
type DeductEffect struct {
	StepID   string
	LabID    string
	By       domain.Principal
	Reagents []domain.StepReagent
}

// IncidentEffect reports a flagged step. The incident ID is assigned by the
// executor.
type IncidentEffect struct {
	Incident domain.Incident
}

func (PersistEffect) effect()  {}
func (DeductEffect) effect()   {}
func (IncidentEffect) effect() {}
