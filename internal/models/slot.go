package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotID identifies a bookable hour on a calendar date.
type SlotID struct {
	Date time.Time `json:"date"`
	Hour int       `json:"hour"`
}

// NewSlotID normalizes date to its calendar date.
func NewSlotID(date time.Time, hour int) SlotID {
	return SlotID{Date: DateOf(date), Hour: hour}
}

// ParseSlotID parses the "2006-01-02@15" form produced by String.
func ParseSlotID(raw string) (SlotID, error) {
	datePart, hourPart, ok := strings.Cut(strings.TrimSpace(raw), "@")
	if !ok {
		return SlotID{}, fmt.Errorf("invalid slot id %q: expected YYYY-MM-DD@HH", raw)
	}
	date, err := ParseDate(datePart)
	if err != nil {
		return SlotID{}, fmt.Errorf("invalid slot id %q: %w", raw, err)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return SlotID{}, fmt.Errorf("invalid slot id %q: bad hour", raw)
	}
	return SlotID{Date: date, Hour: hour}, nil
}

func (id SlotID) String() string {
	return fmt.Sprintf("%s@%02d", id.Date.Format(DateLayout), id.Hour)
}

// Start returns the instant the slot begins in loc.
func (id SlotID) Start(loc *time.Location) time.Time {
	y, m, d := id.Date.Date()
	return time.Date(y, m, d, id.Hour, 0, 0, 0, loc)
}

// Before orders slots by (date, hour).
func (id SlotID) Before(other SlotID) bool {
	if !id.Date.Equal(other.Date) {
		return id.Date.Before(other.Date)
	}
	return id.Hour < other.Hour
}

type Slot struct {
	ID        SlotID   `json:"id"`
	Capacity  int      `json:"capacity"`
	Occupancy int      `json:"occupancy"`
	Bookers   []string `json:"bookers,omitempty"`
}

func (s *Slot) HasBooker(userID string) bool {
	for _, b := range s.Bookers {
		if b == userID {
			return true
		}
	}
	return false
}

func (s *Slot) Available() int {
	if s.Occupancy >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Occupancy
}

func (s *Slot) IsFull() bool {
	return s.Occupancy >= s.Capacity
}

// Clone returns a deep copy so callers never share the booker slice.
func (s *Slot) Clone() *Slot {
	c := *s
	c.Bookers = append([]string(nil), s.Bookers...)
	return &c
}
