// Package report builds read-only usage statistics for administrators.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/models"
)

const DefaultTopUsers = 10

type WeekdayCount struct {
	Weekday  string `json:"weekday"`
	Bookings int    `json:"bookings"`
}

type HourCount struct {
	Hour     int `json:"hour"`
	Bookings int `json:"bookings"`
}

type UserCount struct {
	UserID   string `json:"user_id"`
	Bookings int    `json:"bookings"`
}

type Usage struct {
	From          string         `json:"from"`
	To            string         `json:"to"`
	Slots         int            `json:"slots"`
	Capacity      int            `json:"capacity"`
	Bookings      int            `json:"bookings"`
	UniqueUsers   int            `json:"unique_users"`
	OccupancyRate float64        `json:"occupancy_rate"`
	ByWeekday     []WeekdayCount `json:"by_weekday"`
	ByHour        []HourCount    `json:"by_hour"`
	TopUsers      []UserCount    `json:"top_users"`
}

// Build aggregates slots and bookings dated within [from, to]. ByWeekday
// always has seven entries starting on Sunday; ByHour lists only hours that
// have slots.
func Build(ctx context.Context, r domain.Reader, from, to time.Time, topN int) (*Usage, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, fmt.Errorf("report range %s..%s: %w", from.Format(models.DateLayout), to.Format(models.DateLayout), domain.ErrInvalidInput)
	}
	if topN <= 0 {
		topN = DefaultTopUsers
	}

	// Два отдельных чтения, не один снимок: бронь, прошедшая между ними,
	// может попасть в Bookings, но не в Occupancy. Для отчёта это допустимо.
	slots, err := r.ListSlots(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bookings, err := r.BookingsByDateRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	u := &Usage{
		From:      from.Format(models.DateLayout),
		To:        to.Format(models.DateLayout),
		Slots:     len(slots),
		Bookings:  len(bookings),
		ByWeekday: make([]WeekdayCount, 7),
	}

	hours := make(map[int]int)
	occupied := 0
	for _, s := range slots {
		u.Capacity += s.Capacity
		occupied += s.Occupancy
		hours[s.ID.Hour] += 0
	}
	if u.Capacity > 0 {
		u.OccupancyRate = float64(occupied) / float64(u.Capacity)
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		u.ByWeekday[d].Weekday = d.String()
	}
	perUser := make(map[string]int)
	for _, b := range bookings {
		u.ByWeekday[b.SlotID.Date.Weekday()].Bookings++
		hours[b.SlotID.Hour]++
		perUser[b.UserID]++
	}
	u.UniqueUsers = len(perUser)

	u.ByHour = make([]HourCount, 0, len(hours))
	for h, n := range hours {
		u.ByHour = append(u.ByHour, HourCount{Hour: h, Bookings: n})
	}
	sort.Slice(u.ByHour, func(i, j int) bool { return u.ByHour[i].Hour < u.ByHour[j].Hour })

	u.TopUsers = make([]UserCount, 0, len(perUser))
	for id, n := range perUser {
		u.TopUsers = append(u.TopUsers, UserCount{UserID: id, Bookings: n})
	}
	sort.Slice(u.TopUsers, func(i, j int) bool {
		if u.TopUsers[i].Bookings != u.TopUsers[j].Bookings {
			return u.TopUsers[i].Bookings > u.TopUsers[j].Bookings
		}
		return u.TopUsers[i].UserID < u.TopUsers[j].UserID
	})
	if len(u.TopUsers) > topN {
		u.TopUsers = u.TopUsers[:topN]
	}

	return u, nil
}
