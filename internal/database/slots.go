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

func (db *DB) ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error) {
	return db.reader().ListSlots(ctx, from, to)
}

func (db *DB) GetSlot(ctx context.Context, id models.SlotID) (*models.Slot, error) {
	return db.reader().GetSlot(ctx, id)
}

func (db *DB) Reserve(ctx context.Context, id models.SlotID, userID string) error {
	return db.WithTx(ctx, func(tx domain.Store) error { return tx.Reserve(ctx, id, userID) })
}

func (db *DB) Release(ctx context.Context, id models.SlotID, userID string) error {
	return db.WithTx(ctx, func(tx domain.Store) error { return tx.Release(ctx, id, userID) })
}

func (db *DB) EnsureSlots(ctx context.Context, slots []models.Slot) (int, error) {
	var created int
	err := db.WithTx(ctx, func(tx domain.Store) error {
		var err error
		created, err = tx.EnsureSlots(ctx, slots)
		return err
	})
	return created, err
}

func (s *store) ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error) {
	fromStr, toStr := formatDate(from), formatDate(to)

	rows, err := s.q.QueryContext(ctx,
		`SELECT date, hour, capacity, occupancy FROM slots
         WHERE date >= ? AND date <= ? ORDER BY date ASC, hour ASC`, fromStr, toStr)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	slots := make([]*models.Slot, 0)
	index := make(map[models.SlotID]*models.Slot)
	for rows.Next() {
		var dateStr string
		slot := &models.Slot{}
		if err := rows.Scan(&dateStr, &slot.ID.Hour, &slot.Capacity, &slot.Occupancy); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		if slot.ID.Date, err = parseDate(dateStr); err != nil {
			return nil, fmt.Errorf("failed to parse slot date %s: %w", dateStr, err)
		}
		slots = append(slots, slot)
		index[slot.ID] = slot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate slots: %w", err)
	}

	bookerRows, err := s.q.QueryContext(ctx,
		`SELECT date, hour, user_id FROM slot_bookers
         WHERE date >= ? AND date <= ? ORDER BY rowid ASC`, fromStr, toStr)
	if err != nil {
		return nil, fmt.Errorf("failed to list slot bookers: %w", err)
	}
	defer bookerRows.Close()

	for bookerRows.Next() {
		var (
			dateStr string
			hour    int
			userID  string
		)
		if err := bookerRows.Scan(&dateStr, &hour, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan slot booker: %w", err)
		}
		date, err := parseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse booker date %s: %w", dateStr, err)
		}
		if slot, ok := index[models.SlotID{Date: date, Hour: hour}]; ok {
			slot.Bookers = append(slot.Bookers, userID)
		}
	}
	if err := bookerRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate slot bookers: %w", err)
	}

	return slots, nil
}

func (s *store) GetSlot(ctx context.Context, id models.SlotID) (*models.Slot, error) {
	slot := &models.Slot{ID: models.NewSlotID(id.Date, id.Hour)}
	dateStr := formatDate(slot.ID.Date)

	err := s.q.QueryRowContext(ctx,
		`SELECT capacity, occupancy FROM slots WHERE date = ? AND hour = ?`, dateStr, id.Hour,
	).Scan(&slot.Capacity, &slot.Occupancy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT user_id FROM slot_bookers WHERE date = ? AND hour = ? ORDER BY rowid ASC`, dateStr, id.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot bookers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan slot booker: %w", err)
		}
		slot.Bookers = append(slot.Bookers, userID)
	}
	return slot, rows.Err()
}

// Reserve re-checks membership and capacity itself; callers must not rely on
// an earlier eligibility check.
func (s *store) Reserve(ctx context.Context, id models.SlotID, userID string) error {
	dateStr := formatDate(id.Date)

	var capacity, occupancy int
	err := s.q.QueryRowContext(ctx,
		`SELECT capacity, occupancy FROM slots WHERE date = ? AND hour = ?`, dateStr, id.Hour,
	).Scan(&capacity, &occupancy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("slot %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read slot for reserve: %w", err)
	}

	var already int
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slot_bookers WHERE date = ? AND hour = ? AND user_id = ?`, dateStr, id.Hour, userID,
	).Scan(&already)
	if err != nil {
		return fmt.Errorf("failed to check slot membership: %w", err)
	}
	if already > 0 {
		return fmt.Errorf("slot %s user %s: %w", id, userID, domain.ErrAlreadyBooked)
	}
	if occupancy >= capacity {
		return fmt.Errorf("slot %s: %w", id, domain.ErrCapacityExceeded)
	}

	result, err := s.q.ExecContext(ctx,
		`UPDATE slots SET occupancy = occupancy + 1 WHERE date = ? AND hour = ? AND occupancy < capacity`,
		dateStr, id.Hour)
	if err != nil {
		return fmt.Errorf("failed to increment occupancy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("slot %s: %w", id, domain.ErrCapacityExceeded)
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO slot_bookers (date, hour, user_id) VALUES (?, ?, ?)`, dateStr, id.Hour, userID); err != nil {
		return fmt.Errorf("failed to add slot booker: %w", err)
	}
	return nil
}

func (s *store) Release(ctx context.Context, id models.SlotID, userID string) error {
	dateStr := formatDate(id.Date)

	result, err := s.q.ExecContext(ctx,
		`DELETE FROM slot_bookers WHERE date = ? AND hour = ? AND user_id = ?`, dateStr, id.Hour, userID)
	if err != nil {
		return fmt.Errorf("failed to remove slot booker: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("slot %s user %s: %w", id, userID, domain.ErrNotBooked)
	}

	if _, err := s.q.ExecContext(ctx,
		`UPDATE slots SET occupancy = occupancy - 1 WHERE date = ? AND hour = ?`, dateStr, id.Hour); err != nil {
		return fmt.Errorf("failed to decrement occupancy: %w", err)
	}
	return nil
}

func (s *store) EnsureSlots(ctx context.Context, slots []models.Slot) (int, error) {
	created := 0
	for i := range slots {
		id := slots[i].ID
		if slots[i].Capacity <= 0 {
			return created, fmt.Errorf("slot %s: capacity must be positive: %w", id, domain.ErrInvalidInput)
		}
		result, err := s.q.ExecContext(ctx,
			`INSERT INTO slots (date, hour, capacity, occupancy) VALUES (?, ?, ?, 0)
             ON CONFLICT(date, hour) DO NOTHING`,
			formatDate(id.Date), id.Hour, slots[i].Capacity)
		if err != nil {
			return created, fmt.Errorf("failed to ensure slot %s: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}
