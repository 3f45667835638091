package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps slots, bookings and the audit log in process memory.
// A single mutex guards the whole store.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	slots    map[models.SlotID]*models.Slot
	bookings map[string]*models.Booking
	audit    []*models.AuditEvent
	newID    func() string
}

func newMemState() *memState {
	return &memState{
		slots:    make(map[models.SlotID]*models.Slot),
		bookings: make(map[string]*models.Booking),
		newID:    func() string { return uuid.NewString() },
	}
}

// memTx runs against the locked state and records how to undo each write.
type memTx struct {
	st   *memState
	undo []func()
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return s.run(ctx, func(tx *memTx) error { return fn(tx) })
}

func (s *MemoryStore) run(ctx context.Context, fn func(tx *memTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.state}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (s *MemoryStore) ListSlots(ctx context.Context, from, to time.Time) ([]*models.Slot, error) {
	var out []*models.Slot
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.ListSlots(ctx, from, to)
		return err
	})
	return out, err
}

func (s *MemoryStore) GetSlot(ctx context.Context, id models.SlotID) (*models.Slot, error) {
	var out *models.Slot
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.GetSlot(ctx, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) Reserve(ctx context.Context, id models.SlotID, userID string) error {
	return s.run(ctx, func(tx *memTx) error { return tx.Reserve(ctx, id, userID) })
}

func (s *MemoryStore) Release(ctx context.Context, id models.SlotID, userID string) error {
	return s.run(ctx, func(tx *memTx) error { return tx.Release(ctx, id, userID) })
}

func (s *MemoryStore) EnsureSlots(ctx context.Context, slots []models.Slot) (int, error) {
	var n int
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		n, err = tx.EnsureSlots(ctx, slots)
		return err
	})
	return n, err
}

func (s *MemoryStore) RecordBooking(ctx context.Context, userID string, slotID models.SlotID, ts time.Time) (string, error) {
	var id string
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		id, err = tx.RecordBooking(ctx, userID, slotID, ts)
		return err
	})
	return id, err
}

func (s *MemoryStore) RemoveBooking(ctx context.Context, id string) error {
	return s.run(ctx, func(tx *memTx) error { return tx.RemoveBooking(ctx, id) })
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var out *models.Booking
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.GetBooking(ctx, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) BookingsForUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	var out []*models.Booking
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.BookingsForUser(ctx, userID)
		return err
	})
	return out, err
}

func (s *MemoryStore) BookingsByDateRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	var out []*models.Booking
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.BookingsByDateRange(ctx, from, to)
		return err
	})
	return out, err
}

func (s *MemoryStore) AppendAudit(ctx context.Context, event *models.AuditEvent) error {
	return s.run(ctx, func(tx *memTx) error { return tx.AppendAudit(ctx, event) })
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var out []*models.AuditEvent
	err := s.run(ctx, func(tx *memTx) error {
		var err error
		out, err = tx.ListAudit(ctx, filter)
		return err
	})
	return out, err
}

func (t *memTx) ListSlots(_ context.Context, from, to time.Time) ([]*models.Slot, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	out := make([]*models.Slot, 0)
	for id, slot := range t.st.slots {
		if id.Date.Before(from) || id.Date.After(to) {
			continue
		}
		out = append(out, slot.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Before(out[j].ID) })
	return out, nil
}

func (t *memTx) GetSlot(_ context.Context, id models.SlotID) (*models.Slot, error) {
	slot, ok := t.st.slots[models.NewSlotID(id.Date, id.Hour)]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, domain.ErrNotFound)
	}
	return slot.Clone(), nil
}

func (t *memTx) Reserve(_ context.Context, id models.SlotID, userID string) error {
	slot, ok := t.st.slots[models.NewSlotID(id.Date, id.Hour)]
	if !ok {
		return fmt.Errorf("slot %s: %w", id, domain.ErrNotFound)
	}
	if slot.HasBooker(userID) {
		return fmt.Errorf("slot %s user %s: %w", id, userID, domain.ErrAlreadyBooked)
	}
	if slot.Occupancy >= slot.Capacity {
		return fmt.Errorf("slot %s: %w", id, domain.ErrCapacityExceeded)
	}

	prevBookers := slot.Bookers
	slot.Bookers = append(append([]string(nil), slot.Bookers...), userID)
	slot.Occupancy++
	t.undo = append(t.undo, func() {
		slot.Bookers = prevBookers
		slot.Occupancy--
	})
	return nil
}

func (t *memTx) Release(_ context.Context, id models.SlotID, userID string) error {
	slot, ok := t.st.slots[models.NewSlotID(id.Date, id.Hour)]
	if !ok {
		return fmt.Errorf("slot %s: %w", id, domain.ErrNotFound)
	}
	idx := -1
	for i, b := range slot.Bookers {
		if b == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("slot %s user %s: %w", id, userID, domain.ErrNotBooked)
	}

	prevBookers := slot.Bookers
	next := make([]string, 0, len(slot.Bookers)-1)
	next = append(next, slot.Bookers[:idx]...)
	next = append(next, slot.Bookers[idx+1:]...)
	slot.Bookers = next
	slot.Occupancy--
	t.undo = append(t.undo, func() {
		slot.Bookers = prevBookers
		slot.Occupancy++
	})
	return nil
}

func (t *memTx) EnsureSlots(_ context.Context, slots []models.Slot) (int, error) {
	created := 0
	for i := range slots {
		id := models.NewSlotID(slots[i].ID.Date, slots[i].ID.Hour)
		if _, exists := t.st.slots[id]; exists {
			continue
		}
		if slots[i].Capacity <= 0 {
			return created, fmt.Errorf("slot %s: capacity must be positive: %w", id, domain.ErrInvalidInput)
		}
		t.st.slots[id] = &models.Slot{ID: id, Capacity: slots[i].Capacity}
		t.undo = append(t.undo, func() { delete(t.st.slots, id) })
		created++
	}
	return created, nil
}

func (t *memTx) RecordBooking(_ context.Context, userID string, slotID models.SlotID, ts time.Time) (string, error) {
	slotID = models.NewSlotID(slotID.Date, slotID.Hour)
	slot, ok := t.st.slots[slotID]
	if !ok {
		return "", fmt.Errorf("slot %s: %w", slotID, domain.ErrNotFound)
	}
	if !slot.HasBooker(userID) {
		return "", fmt.Errorf("slot %s user %s: %w", slotID, userID, domain.ErrNotBooked)
	}

	id := t.st.newID()
	t.st.bookings[id] = &models.Booking{ID: id, UserID: userID, SlotID: slotID, CreatedAt: ts}
	t.undo = append(t.undo, func() { delete(t.st.bookings, id) })
	return id, nil
}

func (t *memTx) RemoveBooking(_ context.Context, id string) error {
	b, ok := t.st.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	delete(t.st.bookings, id)
	t.undo = append(t.undo, func() { t.st.bookings[id] = b })
	return nil
}

func (t *memTx) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	c := *b
	return &c, nil
}

func (t *memTx) BookingsForUser(_ context.Context, userID string) ([]*models.Booking, error) {
	out := make([]*models.Booking, 0)
	for _, b := range t.st.bookings {
		if b.UserID == userID {
			c := *b
			out = append(out, &c)
		}
	}
	sortBookings(out)
	return out, nil
}

func (t *memTx) BookingsByDateRange(_ context.Context, from, to time.Time) ([]*models.Booking, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	out := make([]*models.Booking, 0)
	for _, b := range t.st.bookings {
		if b.SlotID.Date.Before(from) || b.SlotID.Date.After(to) {
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sortBookings(out)
	return out, nil
}

func (t *memTx) AppendAudit(_ context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = t.st.newID()
	}
	c := *event
	n := len(t.st.audit)
	t.st.audit = append(t.st.audit, &c)
	t.undo = append(t.undo, func() { t.st.audit = t.st.audit[:n] })
	return nil
}

// ListAudit returns matching events newest first.
func (t *memTx) ListAudit(_ context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	out := make([]*models.AuditEvent, 0)
	skipped := 0
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		e := t.st.audit[i]
		if !filter.Match(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func sortBookings(bs []*models.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].SlotID != bs[j].SlotID {
			return bs[i].SlotID.Before(bs[j].SlotID)
		}
		return bs[i].CreatedAt.Before(bs[j].CreatedAt)
	})
}
