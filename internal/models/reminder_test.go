package models

import (
	"testing"
	"time"
)

func TestRecurrenceNext(t *testing.T) {
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
	}
	tests := []struct {
		name   string
		r      Recurrence
		from   time.Time
		want   time.Time
		wantOK bool
	}{
		{"once has no next", RecurOnce, at(2026, 3, 1), time.Time{}, false},
		{"daily", RecurDaily, at(2026, 3, 1), at(2026, 3, 2), true},
		{"daily across month end", RecurDaily, at(2026, 4, 30), at(2026, 5, 1), true},
		{"weekly", RecurWeekly, at(2026, 3, 1), at(2026, 3, 8), true},
		{"weekly across year end", RecurWeekly, at(2026, 12, 29), at(2027, 1, 5), true},
		{"monthly", RecurMonthly, at(2026, 3, 15), at(2026, 4, 15), true},
		{"monthly clamps to february", RecurMonthly, at(2026, 1, 31), at(2026, 2, 28), true},
		{"monthly clamps in leap year", RecurMonthly, at(2028, 1, 31), at(2028, 2, 29), true},
		{"monthly clamps to thirty days", RecurMonthly, at(2026, 3, 31), at(2026, 4, 30), true},
		{"monthly across year end", RecurMonthly, at(2026, 12, 31), at(2027, 1, 31), true},
		{"unknown", Recurrence("hourly"), at(2026, 3, 1), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.Next(tt.from)
			if ok != tt.wantOK {
				t.Fatalf("Next ok = %v, want %v", ok, tt.wantOK)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestRecurrenceValid(t *testing.T) {
	for _, r := range []Recurrence{RecurOnce, RecurDaily, RecurWeekly, RecurMonthly} {
		if !r.Valid() {
			t.Errorf("expected %q to be valid", r)
		}
	}
	for _, r := range []Recurrence{"", "yearly", "Daily"} {
		if r.Valid() {
			t.Errorf("expected %q to be invalid", r)
		}
	}
}
