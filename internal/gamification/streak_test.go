package gamification

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestConsecutiveDays(t *testing.T) {
	today := time.Date(2026, time.March, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		days []time.Time
		want int
	}{
		{"no sessions", nil, 0},
		{"today only", []time.Time{day(2026, 3, 10)}, 1},
		{"three consecutive then gap", []time.Time{
			day(2026, 3, 10), day(2026, 3, 9), day(2026, 3, 8), day(2026, 3, 6),
		}, 3},
		{"nothing today, run ends yesterday", []time.Time{
			day(2026, 3, 9), day(2026, 3, 8),
		}, 2},
		{"only five days ago", []time.Time{day(2026, 3, 5)}, 0},
		{"last activity two days ago", []time.Time{day(2026, 3, 8), day(2026, 3, 7)}, 0},
		{"unsorted with duplicates", []time.Time{
			day(2026, 3, 8), day(2026, 3, 10), day(2026, 3, 9), day(2026, 3, 10),
		}, 3},
		{"stale run in previous month", []time.Time{
			day(2026, 3, 1), day(2026, 2, 28), day(2026, 2, 27),
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConsecutiveDays(tt.days, today); got != tt.want {
				t.Errorf("ConsecutiveDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConsecutiveDaysAcrossMonthEnd(t *testing.T) {
	today := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	days := []time.Time{day(2026, 3, 1), day(2026, 2, 28), day(2026, 2, 27)}
	if got := ConsecutiveDays(days, today); got != 3 {
		t.Errorf("ConsecutiveDays() = %d, want 3", got)
	}
}

func TestConsecutiveDaysUsesCalendarOfToday(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 00:30 on the 11th in Shanghai is still the 10th in UTC; the study
	// calendar is Shanghai's, so the 10th counts as yesterday.
	today := time.Date(2026, time.March, 11, 0, 30, 0, 0, shanghai)
	days := []time.Time{day(2026, 3, 10), day(2026, 3, 9)}
	if got := ConsecutiveDays(days, today); got != 2 {
		t.Errorf("ConsecutiveDays() = %d, want 2", got)
	}
}
