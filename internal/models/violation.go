package models

import "fmt"

type ViolationKind string

const (
	InsufficientLeadTime    ViolationKind = "InsufficientLeadTime"
	DailyLimitExceeded      ViolationKind = "DailyLimitExceeded"
	AdjacentSessionConflict ViolationKind = "AdjacentSessionConflict"
	WeeklyLimitExceeded     ViolationKind = "WeeklyLimitExceeded"
	SlotUnavailable         ViolationKind = "SlotUnavailable"
)

var violationMessages = map[ViolationKind]string{
	InsufficientLeadTime:    "Sessions must be booked at least one day in advance.",
	DailyLimitExceeded:      "You can book at most two sessions per day.",
	AdjacentSessionConflict: "You cannot book back-to-back sessions.",
	WeeklyLimitExceeded:     "You can book at most three sessions per week.",
	SlotUnavailable:         "This session is full or no longer available.",
}

// Message returns the user-facing text for a violation kind.
func (k ViolationKind) Message() string {
	if msg, ok := violationMessages[k]; ok {
		return msg
	}
	return "Booking is not allowed."
}

// RuleViolation is an expected business outcome, not a failure. It implements
// error so the orchestrator can return it, callers match it with errors.As.
type RuleViolation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

func NewViolation(kind ViolationKind, format string, args ...any) *RuleViolation {
	return &RuleViolation{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (v *RuleViolation) Error() string {
	if v.Detail == "" {
		return string(v.Kind)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

func (v *RuleViolation) Message() string {
	return v.Kind.Message()
}

// Decision is the engine's verdict for a (user, slot) pair.
type Decision struct {
	Eligible  bool           `json:"eligible"`
	Violation *RuleViolation `json:"violation,omitempty"`
}
