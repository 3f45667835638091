// Package domaintest holds behaviour checks shared by every domain.Repository
// implementation.
package domaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

// Seed creates one slot per hour on date with the given capacity.
func Seed(t *testing.T, repo domain.SlotStore, date time.Time, capacity int, hours ...int) {
	t.Helper()
	slots := make([]models.Slot, 0, len(hours))
	for _, h := range hours {
		slots = append(slots, models.Slot{ID: models.NewSlotID(date, h), Capacity: capacity})
	}
	_, err := repo.EnsureSlots(context.Background(), slots)
	require.NoError(t, err)
}

// RequireInvariants checks occupancy == |bookers| <= capacity for every slot.
func RequireInvariants(t *testing.T, r domain.SlotReader, from, to time.Time) {
	t.Helper()
	slots, err := r.ListSlots(context.Background(), from, to)
	require.NoError(t, err)
	for _, s := range slots {
		require.Equal(t, len(s.Bookers), s.Occupancy, "slot %s", s.ID)
		require.LessOrEqual(t, s.Occupancy, s.Capacity, "slot %s", s.ID)
		require.GreaterOrEqual(t, s.Occupancy, 0, "slot %s", s.ID)
	}
}

// RunRepositoryContract exercises the store semantics every backend must honour.
func RunRepositoryContract(t *testing.T, newRepo func(t *testing.T) domain.Repository) {
	ctx := context.Background()

	t.Run("EnsureSlotsIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)
		slots := []models.Slot{
			{ID: models.NewSlotID(day, 9), Capacity: 2},
			{ID: models.NewSlotID(day, 10), Capacity: 2},
		}
		n, err := repo.EnsureSlots(ctx, slots)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, repo.Reserve(ctx, models.NewSlotID(day, 9), "u1"))

		n, err = repo.EnsureSlots(ctx, slots)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		slot, err := repo.GetSlot(ctx, models.NewSlotID(day, 9))
		require.NoError(t, err)
		assert.Equal(t, 1, slot.Occupancy, "existing occupancy must survive regeneration")
	})

	t.Run("ListSlotsOrderedAndInclusive", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, day.AddDate(0, 0, 1), 5, 10, 8)
		Seed(t, repo, day, 5, 20, 9)
		Seed(t, repo, day.AddDate(0, 0, 2), 5, 9)

		slots, err := repo.ListSlots(ctx, day, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		got := make([]string, 0, len(slots))
		for _, s := range slots {
			got = append(got, s.ID.String())
		}
		assert.Equal(t, []string{"2025-03-05@09", "2025-03-05@20", "2025-03-06@08", "2025-03-06@10"}, got)

		empty, err := repo.ListSlots(ctx, day.AddDate(0, 1, 0), day.AddDate(0, 1, 1))
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("GetSlotNotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetSlot(ctx, models.NewSlotID(day, 9))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ReserveAndRelease", func(t *testing.T) {
		repo := newRepo(t)
		id := models.NewSlotID(day, 9)
		Seed(t, repo, day, 1, 9)

		require.NoError(t, repo.Reserve(ctx, id, "u1"))
		assert.ErrorIs(t, repo.Reserve(ctx, id, "u1"), domain.ErrAlreadyBooked)
		assert.ErrorIs(t, repo.Reserve(ctx, id, "u2"), domain.ErrCapacityExceeded)
		assert.ErrorIs(t, repo.Reserve(ctx, models.NewSlotID(day, 10), "u1"), domain.ErrNotFound)

		slot, err := repo.GetSlot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, slot.Occupancy)
		assert.Equal(t, []string{"u1"}, slot.Bookers)

		assert.ErrorIs(t, repo.Release(ctx, id, "u2"), domain.ErrNotBooked)
		require.NoError(t, repo.Release(ctx, id, "u1"))
		assert.ErrorIs(t, repo.Release(ctx, id, "u1"), domain.ErrNotBooked)

		slot, err = repo.GetSlot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, slot.Occupancy)
		assert.Empty(t, slot.Bookers)
	})

	t.Run("LedgerRoundTrip", func(t *testing.T) {
		repo := newRepo(t)
		id := models.NewSlotID(day, 9)
		Seed(t, repo, day, 5, 9)
		ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		var bookingID string
		err := repo.WithTx(ctx, func(tx domain.Store) error {
			if err := tx.Reserve(ctx, id, "u1"); err != nil {
				return err
			}
			var err error
			bookingID, err = tx.RecordBooking(ctx, "u1", id, ts)
			return err
		})
		require.NoError(t, err)
		require.NotEmpty(t, bookingID)

		b, err := repo.GetBooking(ctx, bookingID)
		require.NoError(t, err)
		assert.Equal(t, "u1", b.UserID)
		assert.Equal(t, id, b.SlotID)
		assert.True(t, ts.Equal(b.CreatedAt))

		mine, err := repo.BookingsForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, bookingID, mine[0].ID)

		others, err := repo.BookingsForUser(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, others)

		inRange, err := repo.BookingsByDateRange(ctx, day, day)
		require.NoError(t, err)
		assert.Len(t, inRange, 1)

		require.NoError(t, repo.RemoveBooking(ctx, bookingID))
		assert.ErrorIs(t, repo.RemoveBooking(ctx, bookingID), domain.ErrNotFound)
		_, err = repo.GetBooking(ctx, bookingID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RecordBookingRequiresMembership", func(t *testing.T) {
		repo := newRepo(t)
		Seed(t, repo, day, 5, 9)
		_, err := repo.RecordBooking(ctx, "u1", models.NewSlotID(day, 9), day)
		assert.ErrorIs(t, err, domain.ErrNotBooked)
		_, err = repo.RecordBooking(ctx, "u1", models.NewSlotID(day, 11), day)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("TxRollbackLeavesNoTrace", func(t *testing.T) {
		repo := newRepo(t)
		id := models.NewSlotID(day, 9)
		Seed(t, repo, day, 5, 9)
		boom := errors.New("boom")

		err := repo.WithTx(ctx, func(tx domain.Store) error {
			if err := tx.Reserve(ctx, id, "u1"); err != nil {
				return err
			}
			if _, err := tx.RecordBooking(ctx, "u1", id, day); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, &models.AuditEvent{Actor: "u1", Action: models.AuditBookingCreated, CreatedAt: day}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		slot, err := repo.GetSlot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, slot.Occupancy)
		assert.Empty(t, slot.Bookers)

		bookings, err := repo.BookingsForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, bookings)

		events, err := repo.ListAudit(ctx, models.AuditFilter{})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("AuditAppendAndFilter", func(t *testing.T) {
		repo := newRepo(t)
		base := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
		actions := []models.AuditAction{models.AuditLogin, models.AuditBookingCreated, models.AuditLogout, models.AuditLogin}
		for i, a := range actions {
			e := &models.AuditEvent{Actor: fmt.Sprintf("u%d", i%2), Action: a, Detail: "d", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, repo.AppendAudit(ctx, e))
			assert.NotEmpty(t, e.ID)
		}

		all, err := repo.ListAudit(ctx, models.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.True(t, all[0].CreatedAt.After(all[3].CreatedAt), "newest first")

		logins, err := repo.ListAudit(ctx, models.AuditFilter{Action: models.AuditLogin})
		require.NoError(t, err)
		assert.Len(t, logins, 2)

		byActor, err := repo.ListAudit(ctx, models.AuditFilter{Actor: "u1"})
		require.NoError(t, err)
		assert.Len(t, byActor, 2)

		page, err := repo.ListAudit(ctx, models.AuditFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, all[1].ID, page[0].ID)

		windowed, err := repo.ListAudit(ctx, models.AuditFilter{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, windowed, 2)
	})

	t.Run("ConcurrentReserveNeverOvercommits", func(t *testing.T) {
		repo := newRepo(t)
		id := models.NewSlotID(day, 9)
		Seed(t, repo, day, 3, 9)

		const workers = 12
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				errs <- repo.Reserve(ctx, id, fmt.Sprintf("user-%d", n))
			}(i)
		}
		wg.Wait()
		close(errs)

		ok := 0
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
		}
		assert.Equal(t, 3, ok)
		RequireInvariants(t, repo, day, day)
	})
}
