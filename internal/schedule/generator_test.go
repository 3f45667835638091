package schedule

import (
	"context"
	"testing"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/models"
	"gymbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSchedule() config.ScheduleConfig {
	return config.ScheduleConfig{
		HorizonDays:      2,
		OpenHour:         models.DefaultOpenHour,
		CloseHour:        models.DefaultCloseHour,
		BlockedHours:     []int{models.DefaultBlockedHour},
		Capacity:         models.DefaultSlotCapacity,
		GenerateInterval: time.Hour,
	}
}

func TestHours(t *testing.T) {
	logger := zerolog.Nop()
	g := NewGenerator(repository.NewMemoryStore(), defaultSchedule(), nil, &logger)

	assert.Equal(t, []int{8, 9, 10, 11, 12, 14, 15, 16, 17, 18, 19, 20}, g.Hours())
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryStore()
	logger := zerolog.Nop()
	g := NewGenerator(repo, defaultSchedule(), time.UTC, &logger)
	now := time.Date(2025, 3, 5, 6, 0, 0, 0, time.UTC)

	created, err := g.Generate(ctx, "admin", now)
	require.NoError(t, err)
	assert.Equal(t, 24, created)

	slots, err := repo.ListSlots(ctx, now, now.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, slots, 24)
	assert.Equal(t, "2025-03-05@08", slots[0].ID.String())
	assert.Equal(t, "2025-03-06@20", slots[23].ID.String())
	for _, s := range slots {
		assert.NotEqual(t, 13, s.ID.Hour)
		assert.Equal(t, 50, s.Capacity)
	}

	require.NoError(t, repo.Reserve(ctx, models.NewSlotID(now, 9), "u1"))

	created, err = g.Generate(ctx, "admin", now)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	slot, err := repo.GetSlot(ctx, models.NewSlotID(now, 9))
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Occupancy)

	audit, err := repo.ListAudit(ctx, models.AuditFilter{Action: models.AuditAdminAction})
	require.NoError(t, err)
	require.Len(t, audit, 1, "only the run that created slots is audited")
	assert.Equal(t, "admin", audit[0].Actor)

	created, err = g.Generate(ctx, "admin", now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 12, created, "rolling the horizon adds one day")
}

func TestGenerate_UsesGymTimezone(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryStore()
	logger := zerolog.Nop()
	cfg := defaultSchedule()
	cfg.HorizonDays = 1
	g := NewGenerator(repo, cfg, time.FixedZone("MSK", 3*60*60), &logger)

	// 22:30 UTC is already the next day in MSK.
	_, err := g.Generate(ctx, "system", time.Date(2025, 3, 5, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	slots, err := repo.ListSlots(ctx, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, "2025-03-06", slots[0].ID.Date.Format(models.DateLayout))
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryStore()
	logger := zerolog.Nop()
	g := NewGenerator(repo, defaultSchedule(), time.UTC, &logger)
	g.now = func() time.Time { return time.Date(2025, 3, 5, 6, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		slots, err := repo.ListSlots(context.Background(), g.now(), g.now().AddDate(0, 0, 2))
		return err == nil && len(slots) == 24
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
