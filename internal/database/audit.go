package database

import (
	"context"
	"fmt"
	"strings"

	"gymbook/internal/domain"
	"gymbook/internal/models"
)

func (db *DB) AppendAudit(ctx context.Context, event *models.AuditEvent) error {
	return db.WithTx(ctx, func(tx domain.Store) error { return tx.AppendAudit(ctx, event) })
}

func (db *DB) ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	return db.reader().ListAudit(ctx, filter)
}

func (s *store) AppendAudit(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = s.newID()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_events (id, actor, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Actor, string(event.Action), event.Detail, formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAudit returns matching events newest first.
func (s *store) ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var (
		where []string
		args  []any
	)
	if filter.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(filter.To))
	}

	query := `SELECT id, actor, action, COALESCE(detail, ''), created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY seq DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var (
			e          models.AuditEvent
			action     string
			createdStr string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Detail, &createdStr); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = models.AuditAction(action)
		if e.CreatedAt, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("parse audit created_at %s: %w", createdStr, err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
