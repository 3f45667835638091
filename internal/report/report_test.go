package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/domain/domaintest"
	"gymbook/internal/models"
	"gymbook/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var (
	friday   = time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
)

func book(t *testing.T, repo domain.Repository, userID string, id models.SlotID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.WithTx(ctx, func(tx domain.Store) error {
		if err := tx.Reserve(ctx, id, userID); err != nil {
			return err
		}
		_, err := tx.RecordBooking(ctx, userID, id, friday)
		return err
	}))
}

func seeded(t *testing.T) *repository.MemoryStore {
	t.Helper()
	repo := repository.NewMemoryStore()
	domaintest.Seed(t, repo, friday, 2, 9, 10)
	domaintest.Seed(t, repo, saturday, 2, 9, 10)
	book(t, repo, "u1", models.NewSlotID(friday, 9))
	book(t, repo, "u2", models.NewSlotID(friday, 9))
	book(t, repo, "u1", models.NewSlotID(saturday, 10))
	return repo
}

func TestBuild(t *testing.T) {
	u, err := Build(context.Background(), seeded(t), friday, saturday, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, u.Slots)
	assert.Equal(t, 8, u.Capacity)
	assert.Equal(t, 3, u.Bookings)
	assert.Equal(t, 2, u.UniqueUsers)
	assert.InDelta(t, 0.375, u.OccupancyRate, 1e-9)

	require.Len(t, u.ByWeekday, 7)
	assert.Equal(t, "Sunday", u.ByWeekday[0].Weekday)
	assert.Equal(t, 2, u.ByWeekday[time.Friday].Bookings)
	assert.Equal(t, 1, u.ByWeekday[time.Saturday].Bookings)

	assert.Equal(t, []HourCount{{Hour: 9, Bookings: 2}, {Hour: 10, Bookings: 1}}, u.ByHour)
	assert.Equal(t, []UserCount{{UserID: "u1", Bookings: 2}, {UserID: "u2", Bookings: 1}}, u.TopUsers)
}

func TestBuild_TopNAndRange(t *testing.T) {
	repo := seeded(t)

	u, err := Build(context.Background(), repo, friday, friday, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Bookings)
	require.Len(t, u.TopUsers, 1)
	assert.Equal(t, "u1", u.TopUsers[0].UserID)

	_, err = Build(context.Background(), repo, saturday, friday, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	empty, err := Build(context.Background(), repo, friday.AddDate(0, 1, 0), friday.AddDate(0, 1, 1), 0)
	require.NoError(t, err)
	assert.Zero(t, empty.OccupancyRate)
	assert.Empty(t, empty.TopUsers)
}

func TestWriteXLSX(t *testing.T) {
	u, err := Build(context.Background(), seeded(t), friday, saturday, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, u))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, weekdaySheet, hourSheet, usersSheet}, f.GetSheetList())

	v, err := f.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	v, err = f.GetCellValue(hourSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "09:00", v)

	v, err = f.GetCellValue(usersSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "u1", v)
}
