package domain

import (
	"context"
	"time"

	"gymbook/internal/models"
)

// SlotReader is the read side of the slot catalog.
type SlotReader interface {
	ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error)
	GetSlot(ctx context.Context, id models.SlotID) (*models.Slot, error)
}

type SlotStore interface {
	SlotReader
	Reserve(ctx context.Context, id models.SlotID, userID string) error
	Release(ctx context.Context, id models.SlotID, userID string) error
	EnsureSlots(ctx context.Context, slots []models.Slot) (int, error)
}

// LedgerReader is the read side of the booking ledger.
type LedgerReader interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error)
	BookingsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
}

type BookingLedger interface {
	LedgerReader
	RecordBooking(ctx context.Context, userID string, slotID models.SlotID, ts time.Time) (string, error)
	RemoveBooking(ctx context.Context, id string) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, event *models.AuditEvent) error
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
}

// Reader is everything the eligibility engine and reporting may look at.
type Reader interface {
	SlotReader
	LedgerReader
}

// Store is one transactional domain over slots, bookings and the audit log.
type Store interface {
	SlotStore
	BookingLedger
	AuditLog
}

// Repository owns the transaction boundary. Everything fn does through tx
// commits together or not at all.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// EligibilityChecker evaluates booking rules against a consistent read view.
type EligibilityChecker interface {
	CanBook(ctx context.Context, r Reader, userID string, slotID models.SlotID, now time.Time) (models.Decision, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// RequestGuard backs idempotent booking requests and per-user rate limits.
type RequestGuard interface {
	Remember(ctx context.Context, key, bookingID string, ttl time.Duration) (bool, error)
	Lookup(ctx context.Context, key string) (string, error)
	Forget(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)
}

type BookingService interface {
	ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error)
	CanBook(ctx context.Context, userID string, slotID models.SlotID, now time.Time) (models.Decision, error)
	Book(ctx context.Context, userID string, slotID models.SlotID, now time.Time) (*models.Booking, error)
	Cancel(ctx context.Context, actor models.Actor, bookingID string, now time.Time) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error)
}

type AuditService interface {
	Record(ctx context.Context, actor models.Actor, action models.AuditAction, detail string) (*models.AuditEvent, error)
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
}

type SlotGenerator interface {
	Generate(ctx context.Context, actor string, now time.Time) (int, error)
}
