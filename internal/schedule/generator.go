package schedule

import (
	"context"
	"fmt"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/domain"
	"gymbook/internal/metrics"
	"gymbook/internal/models"

	"github.com/rs/zerolog"
)

const systemActor = "system"

// Generator keeps the booking horizon filled with slots. It only ever adds
// slots; existing ones and their occupancy are untouched.
type Generator struct {
	repo   domain.Repository
	cfg    config.ScheduleConfig
	loc    *time.Location
	logger *zerolog.Logger
	now    func() time.Time
}

func NewGenerator(repo domain.Repository, cfg config.ScheduleConfig, loc *time.Location, logger *zerolog.Logger) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{repo: repo, cfg: cfg, loc: loc, logger: logger, now: time.Now}
}

var _ domain.SlotGenerator = (*Generator)(nil)

// Hours lists the bookable hours of a day in ascending order.
func (g *Generator) Hours() []int {
	blocked := make(map[int]bool, len(g.cfg.BlockedHours))
	for _, h := range g.cfg.BlockedHours {
		blocked[h] = true
	}
	hours := make([]int, 0, g.cfg.CloseHour-g.cfg.OpenHour+1)
	for h := g.cfg.OpenHour; h <= g.cfg.CloseHour; h++ {
		if !blocked[h] {
			hours = append(hours, h)
		}
	}
	return hours
}

// Generate ensures slots for [today, today+horizon) and returns how many were
// created. An admin_action audit entry is written in the same transaction
// when anything new appeared.
func (g *Generator) Generate(ctx context.Context, actor string, now time.Time) (int, error) {
	today := models.DateOf(now.In(g.loc))
	hours := g.Hours()

	slots := make([]models.Slot, 0, g.cfg.HorizonDays*len(hours))
	for d := 0; d < g.cfg.HorizonDays; d++ {
		date := today.AddDate(0, 0, d)
		for _, h := range hours {
			slots = append(slots, models.Slot{ID: models.NewSlotID(date, h), Capacity: g.cfg.Capacity})
		}
	}

	var created int
	err := g.repo.WithTx(ctx, func(tx domain.Store) error {
		var err error
		created, err = tx.EnsureSlots(ctx, slots)
		if err != nil || created == 0 {
			return err
		}
		last := today.AddDate(0, 0, g.cfg.HorizonDays-1)
		return tx.AppendAudit(ctx, &models.AuditEvent{
			Actor:     actor,
			Action:    models.AuditAdminAction,
			Detail:    fmt.Sprintf("generated %d slots %s..%s", created, today.Format(models.DateLayout), last.Format(models.DateLayout)),
			CreatedAt: now.UTC(),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("generate slots: %w", err)
	}

	metrics.AddSlotsGenerated(created)
	g.logger.Info().Int("created", created).Str("actor", actor).Msg("slot generation finished")
	return created, nil
}

// Run generates immediately and then on every interval until ctx ends.
func (g *Generator) Run(ctx context.Context) {
	interval := g.cfg.GenerateInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	if _, err := g.Generate(ctx, systemActor, g.now()); err != nil {
		g.logger.Error().Err(err).Msg("initial slot generation failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Generate(ctx, systemActor, g.now()); err != nil {
				g.logger.Error().Err(err).Msg("scheduled slot generation failed")
			}
		}
	}
}
