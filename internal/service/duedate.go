package service

import (
	"strings"
	"time"
)

// DefaultDueHour is the hour of day relative due dates resolve to
const DefaultDueHour = 17

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"02/01/2006",
}

// weekdayNames is indexed by time.Weekday
var weekdayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// ParseDueDate turns a due date from the model into an absolute time.
// Relative expressions are anchored to now at DefaultDueHour. It returns
// nil for anything it cannot read.
func ParseDueDate(raw string, now time.Time) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return nil
	}

	for _, layout := range dueDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			return &t
		}
	}

	lower := strings.ToLower(raw)
	y, m, d := now.Date()
	anchor := time.Date(y, m, d, DefaultDueHour, 0, 0, 0, now.Location())

	if strings.Contains(lower, "today") {
		return &anchor
	}
	if strings.Contains(lower, "tomorrow") {
		t := anchor.AddDate(0, 0, 1)
		return &t
	}
	if wd, ok := firstWeekday(lower); ok {
		t := anchor.AddDate(0, 0, daysUntil(now.Weekday(), wd))
		return &t
	}
	if strings.Contains(lower, "next week") {
		t := anchor.AddDate(0, 0, 7)
		return &t
	}

	return nil
}

// firstWeekday returns the weekday named earliest in s
func firstWeekday(s string) (time.Weekday, bool) {
	best, found := -1, time.Sunday
	for i, name := range weekdayNames {
		if idx := strings.Index(s, name); idx >= 0 && (best < 0 || idx < best) {
			best, found = idx, time.Weekday(i)
		}
	}
	return found, best >= 0
}

// daysUntil is always in 1..7; the same weekday means next week.
func daysUntil(from, to time.Weekday) int {
	days := (int(to) - int(from) + 7) % 7
	if days == 0 {
		days = 7
	}
	return days
}
