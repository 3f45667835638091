package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/events"
	"gymbook/internal/metrics"
	"gymbook/internal/models"

	"github.com/rs/zerolog"
)

// BookingService is the only component that mutates slots and bookings.
// Every booking or cancellation is one store transaction: the rules are
// re-evaluated inside it, so a stale eligibility answer can never commit.
type BookingService struct {
	repo     domain.Repository
	checker  domain.EligibilityChecker
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(repo domain.Repository, checker domain.EligibilityChecker, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:     repo,
		checker:  checker,
		eventBus: eventBus,
		logger:   logger,
	}
}

var _ domain.BookingService = (*BookingService)(nil)

func (s *BookingService) ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("range %s..%s: %w", from.Format(models.DateLayout), to.Format(models.DateLayout), domain.ErrInvalidInput)
	}
	return s.repo.ListSlots(ctx, from, to)
}

// CanBook answers without locking anything; the result is advisory.
func (s *BookingService) CanBook(ctx context.Context, userID string, slotID models.SlotID, now time.Time) (models.Decision, error) {
	return s.checker.CanBook(ctx, s.repo, userID, slotID, now)
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.repo.BookingsForUser(ctx, userID)
}

// Book returns *models.RuleViolation when a rule rejects the attempt and a
// wrapped store error when the store refuses it.
func (s *BookingService) Book(ctx context.Context, userID string, slotID models.SlotID, now time.Time) (*models.Booking, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id: %w", domain.ErrInvalidInput)
	}
	slotID = models.NewSlotID(slotID.Date, slotID.Hour)

	log := s.logger.With().Str("user_id", userID).Str("slot", slotID.String()).Logger()
	state := models.AttemptRequested

	var (
		booking *models.Booking
		audit   *models.AuditEvent
	)
	err := s.repo.WithTx(ctx, func(tx domain.Store) error {
		state = models.AttemptValidating
		decision, err := s.checker.CanBook(ctx, tx, userID, slotID, now)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return decision.Violation
		}

		if err := tx.Reserve(ctx, slotID, userID); err != nil {
			return err
		}
		id, err := tx.RecordBooking(ctx, userID, slotID, now)
		if err != nil {
			return err
		}

		audit = &models.AuditEvent{
			Actor:     userID,
			Action:    models.AuditBookingCreated,
			Detail:    fmt.Sprintf("booking %s slot %s", id, slotID),
			CreatedAt: now,
		}
		if err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}

		booking = &models.Booking{ID: id, UserID: userID, SlotID: slotID, CreatedAt: now}
		return nil
	})
	if err != nil {
		state = models.AttemptRejected
		var violation *models.RuleViolation
		switch {
		case errors.As(err, &violation):
			metrics.IncBookingAttempt(string(state))
			metrics.IncViolation(string(violation.Kind))
			log.Info().Str("state", string(state)).Str("violation", string(violation.Kind)).Msg("booking rejected")
		case isStoreConflict(err):
			metrics.IncBookingAttempt(string(state))
			log.Warn().Err(err).Str("state", string(state)).Msg("booking refused by store")
		default:
			metrics.IncBookingAttempt("error")
			log.Error().Err(err).Msg("booking failed")
		}
		return nil, err
	}

	state = models.AttemptCommitted
	metrics.IncBookingAttempt(string(state))
	log.Info().Str("state", string(state)).Str("booking_id", booking.ID).Msg("booking committed")

	s.publish(events.EventBookingCreated, booking, userID)
	s.publishAudit(audit)
	return booking, nil
}

// Cancel lets owners cancel their own bookings and admins cancel any.
func (s *BookingService) Cancel(ctx context.Context, actor models.Actor, bookingID string, now time.Time) error {
	var (
		booking *models.Booking
		audit   *models.AuditEvent
	)
	err := s.repo.WithTx(ctx, func(tx domain.Store) error {
		b, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && b.UserID != actor.UserID {
			return fmt.Errorf("booking %s belongs to another user: %w", bookingID, domain.ErrForbidden)
		}

		if err := tx.Release(ctx, b.SlotID, b.UserID); err != nil {
			return err
		}
		if err := tx.RemoveBooking(ctx, b.ID); err != nil {
			return err
		}

		detail := fmt.Sprintf("booking %s slot %s", b.ID, b.SlotID)
		if actor.UserID != b.UserID {
			detail += " owner " + b.UserID
		}
		audit = &models.AuditEvent{
			Actor:     actor.UserID,
			Action:    models.AuditBookingCancelled,
			Detail:    detail,
			CreatedAt: now,
		}
		if err := tx.AppendAudit(ctx, audit); err != nil {
			return err
		}

		booking = b
		return nil
	})
	if err != nil {
		result := "error"
		if isStoreConflict(err) || errors.Is(err, domain.ErrForbidden) {
			result = "rejected"
		}
		metrics.IncCancellation(result)
		s.logger.Warn().Err(err).Str("booking_id", bookingID).Str("actor", actor.UserID).Msg("cancellation failed")
		return err
	}

	metrics.IncCancellation("committed")
	s.logger.Info().Str("booking_id", bookingID).Str("actor", actor.UserID).Msg("booking cancelled")

	s.publish(events.EventBookingCancelled, booking, actor.UserID)
	s.publishAudit(audit)
	return nil
}

func (s *BookingService) publish(eventType string, b *models.Booking, actor string) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID: b.ID,
		UserID:    b.UserID,
		Slot:      b.SlotID.String(),
		Date:      b.SlotID.Date.Format(models.DateLayout),
		Hour:      b.SlotID.Hour,
		Actor:     actor,
		At:        b.CreatedAt,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (s *BookingService) publishAudit(e *models.AuditEvent) {
	if s.eventBus == nil || e == nil {
		return
	}
	if err := s.eventBus.PublishJSON(events.EventAuditRecorded, e); err != nil {
		s.logger.Error().Err(err).Msg("failed to publish audit event")
	}
}

func isStoreConflict(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAlreadyBooked) ||
		errors.Is(err, domain.ErrNotBooked) ||
		errors.Is(err, domain.ErrCapacityExceeded)
}
