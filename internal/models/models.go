package models

import "time"

// DateOf strips the time of day and keeps the calendar date as midnight UTC,
// so dates from different zones compare by their wall-clock date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(raw string) (time.Time, error) {
	return time.Parse(DateLayout, raw)
}

// WeekStart returns the Sunday that opens the week containing date.
func WeekStart(date time.Time) time.Time {
	d := DateOf(date)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
