package service

import (
	"testing"
	"time"
)

func TestParseDueDate(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	at5 := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, DefaultDueHour, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		input string
		want  *time.Time
	}{
		{"today", "today", ptrTime(at5(2026, 10, 14))},
		{"today in sentence", "by end of day today", ptrTime(at5(2026, 10, 14))},
		{"tomorrow", "Tomorrow", ptrTime(at5(2026, 10, 15))},
		{"next week", "next week", ptrTime(at5(2026, 10, 21))},
		{"same weekday rolls a week", "wednesday", ptrTime(at5(2026, 10, 21))},
		{"later weekday", "Friday", ptrTime(at5(2026, 10, 16))},
		{"earlier weekday", "monday", ptrTime(at5(2026, 10, 19))},
		{"next weekday", "next tuesday", ptrTime(at5(2026, 10, 20))},
		{"sunday", "sunday", ptrTime(at5(2026, 10, 18))},
		{"first named weekday wins", "monday or friday", ptrTime(at5(2026, 10, 19))},
		{"first named weekday wins reversed", "friday or monday", ptrTime(at5(2026, 10, 16))},
		{"iso date", "2026-11-01", ptrTime(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))},
		{"iso datetime", "2026-11-01T10:15:00", ptrTime(time.Date(2026, 11, 1, 10, 15, 0, 0, time.UTC))},
		{"rfc3339", "2026-11-01T10:15:00Z", ptrTime(time.Date(2026, 11, 1, 10, 15, 0, 0, time.UTC))},
		{"us date", "11/05/2026", ptrTime(time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC))},
		{"day first date", "25/12/2026", ptrTime(time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC))},
		{"empty", "", nil},
		{"null", "null", nil},
		{"garbage", "whenever you can", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDueDate(tt.input, now)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %v, got nil", tt.want)
			}
			if !got.Equal(*tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDaysUntil_AlwaysPositive(t *testing.T) {
	for from := time.Sunday; from <= time.Saturday; from++ {
		for to := time.Sunday; to <= time.Saturday; to++ {
			d := daysUntil(from, to)
			if d < 1 || d > 7 {
				t.Fatalf("daysUntil(%v, %v) = %d, expected 1..7", from, to, d)
			}
			if from == to && d != 7 {
				t.Errorf("daysUntil(%v, %v) = %d, expected 7", from, to, d)
			}
		}
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
