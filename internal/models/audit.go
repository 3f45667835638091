package models

import (
	"fmt"
	"time"
)

type AuditAction string

const (
	AuditLogin            AuditAction = "login"
	AuditLogout           AuditAction = "logout"
	AuditBookingCreated   AuditAction = "booking_created"
	AuditBookingCancelled AuditAction = "booking_cancelled"
	AuditAdminAction      AuditAction = "admin_action"
)

// ParseAuditAction accepts only the closed set of audit actions.
func ParseAuditAction(raw string) (AuditAction, error) {
	switch a := AuditAction(raw); a {
	case AuditLogin, AuditLogout, AuditBookingCreated, AuditBookingCancelled, AuditAdminAction:
		return a, nil
	default:
		return "", fmt.Errorf("unknown audit action %q", raw)
	}
}

// AuditEvent is append-only; nothing updates or deletes it once written.
type AuditEvent struct {
	ID        string      `json:"id"`
	Actor     string      `json:"actor"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditFilter narrows audit log reads. Zero values mean "no constraint".
type AuditFilter struct {
	Actor  string
	Action AuditAction
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func (f AuditFilter) Match(e *AuditEvent) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}
