// Package eligibility decides whether a user may book a slot. It only reads
// from the store it is handed and never mutates anything.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/domain"
	"gymbook/internal/models"
)

const day = 24 * time.Hour

// Rules holds the tunable limits. The zero value is not usable; start from
// DefaultRules or RulesFromConfig.
type Rules struct {
	MinLead time.Duration
	// LeadMode выбирает, как читать MinLead. "clock": начало слота минус now
	// не меньше MinLead (24h ровно по часам). "calendar": MinLead округляется
	// вверх до дней, и дата слота должна быть не раньше today+days по
	// календарю зала.
	LeadMode    string
	DailyLimit  int
	WeeklyLimit int
	WeekAnchor  string
}

func DefaultRules() Rules {
	return Rules{
		MinLead:     models.DefaultMinLeadHours * time.Hour,
		LeadMode:    config.LeadModeClock,
		DailyLimit:  models.DefaultDailyLimit,
		WeeklyLimit: models.DefaultWeeklyLimit,
		WeekAnchor:  config.WeekAnchorNow,
	}
}

func RulesFromConfig(cfg config.RulesConfig) Rules {
	return Rules{
		MinLead:     time.Duration(cfg.MinLeadHours) * time.Hour,
		LeadMode:    cfg.LeadMode,
		DailyLimit:  cfg.DailyLimit,
		WeeklyLimit: cfg.WeeklyLimit,
		WeekAnchor:  cfg.WeekAnchor,
	}
}

type Engine struct {
	rules Rules
	loc   *time.Location
}

// NewEngine evaluates calendar dates in loc (UTC when nil).
func NewEngine(rules Rules, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{rules: rules, loc: loc}
}

var _ domain.EligibilityChecker = (*Engine)(nil)

// CanBook runs the rules in a fixed order and reports the first one that
// fails. Store errors other than a missing slot are returned as errors.
func (e *Engine) CanBook(ctx context.Context, r domain.Reader, userID string, slotID models.SlotID, now time.Time) (models.Decision, error) {
	target := models.NewSlotID(slotID.Date, slotID.Hour)

	if v := e.checkLeadTime(target, now); v != nil {
		return reject(v), nil
	}

	bookings, err := r.BookingsForUser(ctx, userID)
	if err != nil {
		return models.Decision{}, fmt.Errorf("load bookings for %s: %w", userID, err)
	}

	sameDay := make([]*models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.SlotID.Date.Equal(target.Date) {
			sameDay = append(sameDay, b)
		}
	}

	if len(sameDay) >= e.rules.DailyLimit {
		return reject(models.NewViolation(models.DailyLimitExceeded,
			"%d bookings on %s", len(sameDay), target.Date.Format(models.DateLayout))), nil
	}

	for _, b := range sameDay {
		if diff := b.SlotID.Hour - target.Hour; diff == 1 || diff == -1 {
			return reject(models.NewViolation(models.AdjacentSessionConflict,
				"already booked %s", b.SlotID)), nil
		}
	}

	weekStart := models.WeekStart(e.weekAnchor(target, now))
	weekEnd := weekStart.AddDate(0, 0, 7)
	inWeek := 0
	for _, b := range bookings {
		if !b.SlotID.Date.Before(weekStart) && b.SlotID.Date.Before(weekEnd) {
			inWeek++
		}
	}
	if inWeek >= e.rules.WeeklyLimit {
		return reject(models.NewViolation(models.WeeklyLimitExceeded,
			"%d bookings in week of %s", inWeek, weekStart.Format(models.DateLayout))), nil
	}

	slot, err := r.GetSlot(ctx, target)
	if errors.Is(err, domain.ErrNotFound) {
		return reject(models.NewViolation(models.SlotUnavailable, "slot %s does not exist", target)), nil
	}
	if err != nil {
		return models.Decision{}, fmt.Errorf("load slot %s: %w", target, err)
	}
	if slot.IsFull() {
		return reject(models.NewViolation(models.SlotUnavailable,
			"slot %s is full (%d/%d)", target, slot.Occupancy, slot.Capacity)), nil
	}

	return models.Decision{Eligible: true}, nil
}

func (e *Engine) checkLeadTime(target models.SlotID, now time.Time) *models.RuleViolation {
	if e.rules.LeadMode == config.LeadModeCalendar {
		days := int((e.rules.MinLead + day - 1) / day)
		earliest := e.today(now).AddDate(0, 0, days)
		if target.Date.Before(earliest) {
			return models.NewViolation(models.InsufficientLeadTime,
				"earliest bookable date is %s", earliest.Format(models.DateLayout))
		}
		return nil
	}

	if lead := target.Start(e.loc).Sub(now); lead < e.rules.MinLead {
		return models.NewViolation(models.InsufficientLeadTime,
			"slot %s starts in %s", target, lead.Truncate(time.Minute))
	}
	return nil
}

func (e *Engine) weekAnchor(target models.SlotID, now time.Time) time.Time {
	if e.rules.WeekAnchor == config.WeekAnchorSlot {
		return target.Date
	}
	return e.today(now)
}

func (e *Engine) today(now time.Time) time.Time {
	return models.DateOf(now.In(e.loc))
}

func reject(v *models.RuleViolation) models.Decision {
	return models.Decision{Eligible: false, Violation: v}
}
