package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ResourceType enumerates the kinds of requirement a protocol may declare.
type ResourceType string

// Supported resource requirement types.
const (
	ResourceReagent    ResourceType = "reagent"
	ResourceEquipment  ResourceType = "equipment"
	ResourceSample     ResourceType = "sample"
	ResourceConsumable ResourceType = "consumable"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceReagent, ResourceEquipment, ResourceSample, ResourceConsumable:
		return true
	}
	return false
}

// ResourceRequirement names a resource needed before a run can start.
type ResourceRequirement struct {
	Type           ResourceType `json:"type"`
	ID             string       `json:"id,omitempty"`
	Name           string       `json:"name"`
	QuantityNeeded float64      `json:"quantity_needed"`
	Unit           string       `json:"unit,omitempty"`
}

// Validate rejects malformed requirements at the resolver input boundary.
func (r ResourceRequirement) Validate() error {
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown resource type %q", r.Type)}
	}
	if strings.TrimSpace(r.ID) == "" && strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "requirement needs an id or a name"}
	}
	if r.QuantityNeeded < 0 {
		return &ValidationError{Field: "quantity_needed", Reason: fmt.Sprintf("quantity %v is negative", r.QuantityNeeded)}
	}
	return nil
}

// Label returns a human readable identifier for messages.
func (r ResourceRequirement) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// ResourceStatus is the availability classification of one requirement.
type ResourceStatus string

// Resource availability statuses.
const (
	StatusAvailable   ResourceStatus = "available"
	StatusLow         ResourceStatus = "low"
	StatusUnavailable ResourceStatus = "unavailable"
	StatusBooked      ResourceStatus = "booked"
	StatusUnknown     ResourceStatus = "unknown"
)

// Blocking reports whether the status prevents a run from starting.
func (s ResourceStatus) Blocking() bool {
	return s == StatusUnavailable || s == StatusBooked
}

// MatchKind records how a requirement was bound to a catalog record.
type MatchKind string

// Match strengths; MatchNone is the first-class not-found variant.
const (
	MatchStrong MatchKind = "id"
	MatchWeak   MatchKind = "name"
	MatchNone   MatchKind = "none"
)

// ResourceCheckResult is the resolved availability of one requirement.
type ResourceCheckResult struct {
	Requirement ResourceRequirement `json:"requirement"`
	ResourceID  string              `json:"resource_id,omitempty"`
	Status      ResourceStatus      `json:"status"`
	Available   float64             `json:"available"`
	Conflicts   []EquipmentBooking  `json:"conflicts,omitempty"`
	Message     string              `json:"message"`
	Match       MatchKind           `json:"match"`
}

// Verdict is the overall pre-flight outcome.
type Verdict string

// Pre-flight verdicts.
const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
)

// GateReport aggregates per-resource results into a verdict.
type GateReport struct {
	PerResource []ResourceCheckResult `json:"per_resource"`
	Overall     Verdict               `json:"overall"`
	CheckedAt   time.Time             `json:"checked_at"`
}

// ParseQuantity reads the leading number of an authored quantity such as
// "5", "2.5 mL", "10ul" or "1e3 uL". Whatever follows the number must start
// with a unit, so "1.2.3 mL" and "5 6" are rejected.
func ParseQuantity(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, &ValidationError{Field: "quantity", Reason: "quantity is empty"}
	}
	end := numberPrefix(s)
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("cannot parse %q", raw)}
	}
	if unit := strings.TrimLeftFunc(s[end:], unicode.IsSpace); unit != "" {
		r, _ := utf8.DecodeRuneInString(unit)
		if !unicode.IsLetter(r) && r != '%' {
			return 0, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("unexpected %q after the number in %q", unit, raw)}
		}
	}
	if v < 0 {
		return 0, &ValidationError{Field: "quantity", Reason: fmt.Sprintf("quantity %q is negative", raw)}
	}
	return v, nil
}

// numberPrefix returns the length of the decimal number at the start of s,
// including an exponent only when digits follow it.
func numberPrefix(s string) int {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && (isDigit(s[end]) || s[end] == '.') {
		end++
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '-' || s[exp] == '+') {
			exp++
		}
		if exp < len(s) && isDigit(s[exp]) {
			for exp < len(s) && isDigit(s[exp]) {
				exp++
			}
			end = exp
		}
	}
	return end
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
