package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/models"
)

const bookingColumns = `id, user_id, date, hour, created_at`

func (db *DB) RecordBooking(ctx context.Context, userID string, slotID models.SlotID, ts time.Time) (string, error) {
	var id string
	err := db.WithTx(ctx, func(tx domain.Store) error {
		var err error
		id, err = tx.RecordBooking(ctx, userID, slotID, ts)
		return err
	})
	return id, err
}

func (db *DB) RemoveBooking(ctx context.Context, id string) error {
	return db.WithTx(ctx, func(tx domain.Store) error { return tx.RemoveBooking(ctx, id) })
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return db.reader().GetBooking(ctx, id)
}

func (db *DB) BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	return db.reader().BookingsForUser(ctx, userID)
}

func (db *DB) BookingsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	return db.reader().BookingsByDateRange(ctx, from, to)
}

// RecordBooking only accepts a booking whose user already holds a place in
// the slot, so ledger and slot stay in step.
func (s *store) RecordBooking(ctx context.Context, userID string, slotID models.SlotID, ts time.Time) (string, error) {
	dateStr := formatDate(slotID.Date)

	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots WHERE date = ? AND hour = ?`, dateStr, slotID.Hour).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to check slot: %w", err)
	}
	if exists == 0 {
		return "", fmt.Errorf("slot %s: %w", slotID, domain.ErrNotFound)
	}

	var member int
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slot_bookers WHERE date = ? AND hour = ? AND user_id = ?`,
		dateStr, slotID.Hour, userID).Scan(&member)
	if err != nil {
		return "", fmt.Errorf("failed to check slot membership: %w", err)
	}
	if member == 0 {
		return "", fmt.Errorf("slot %s user %s: %w", slotID, userID, domain.ErrNotBooked)
	}

	id := s.newID()
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?)`,
		id, userID, dateStr, slotID.Hour, formatTime(ts))
	if err != nil {
		return "", fmt.Errorf("failed to insert booking: %w", err)
	}
	return id, nil
}

func (s *store) RemoveBooking(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

func (s *store) BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	return s.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ?
         ORDER BY date ASC, hour ASC, created_at ASC`, userID)
}

func (s *store) BookingsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	return s.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE date >= ? AND date <= ?
         ORDER BY date ASC, hour ASC, created_at ASC`, formatDate(from), formatDate(to))
}

func (s *store) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		dateStr    string
		createdStr string
	)
	if err := row.Scan(&b.ID, &b.UserID, &dateStr, &b.SlotID.Hour, &createdStr); err != nil {
		return nil, err
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("parse booking date %s: %w", dateStr, err)
	}
	b.SlotID.Date = date
	if b.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse booking created_at %s: %w", createdStr, err)
	}
	return &b, nil
}
