package service

import (
	"context"
	"fmt"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/events"
	"gymbook/internal/models"

	"github.com/rs/zerolog"
)

type AuditService struct {
	log      domain.AuditLog
	eventBus domain.EventPublisher
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewAuditService(log domain.AuditLog, eventBus domain.EventPublisher, logger *zerolog.Logger) *AuditService {
	return &AuditService{
		log:      log,
		eventBus: eventBus,
		now:      time.Now,
		logger:   logger,
	}
}

var _ domain.AuditService = (*AuditService)(nil)

// Record appends a login, logout or admin action. Booking events are written
// by BookingService inside its own transaction and are refused here.
func (s *AuditService) Record(ctx context.Context, actor models.Actor, action models.AuditAction, detail string) (*models.AuditEvent, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("empty actor: %w", domain.ErrInvalidInput)
	}
	switch action {
	case models.AuditLogin, models.AuditLogout:
	case models.AuditAdminAction:
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("admin action by %s: %w", actor.UserID, domain.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("audit action %q: %w", action, domain.ErrInvalidInput)
	}

	event := &models.AuditEvent{
		Actor:     actor.UserID,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.log.AppendAudit(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("actor", actor.UserID).Str("action", string(action)).Msg("failed to append audit event")
		return nil, err
	}

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventAuditRecorded, event); err != nil {
			s.logger.Error().Err(err).Msg("failed to publish audit event")
		}
	}
	return event, nil
}

// List returns events newest first; a zero limit means one default page.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = models.DefaultAuditPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.log.ListAudit(ctx, filter)
}
