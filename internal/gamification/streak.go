package gamification

import "time"

type civilDay struct {
	year  int
	month time.Month
	day   int
}

func dayOf(t time.Time) civilDay {
	y, m, d := t.Date()
	return civilDay{y, m, d}
}

// Arithmetic happens in UTC so DST shifts never skip or repeat a day.
func (c civilDay) prev() civilDay {
	return dayOf(time.Date(c.year, c.month, c.day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}

// ConsecutiveDays returns the length of the run of study days that ends
// today, or yesterday when nothing has been logged yet today. Days are
// compared by their calendar date; today must already be in the study
// time zone. Older activity never counts: a run that ended two or more
// days ago is a streak of zero.
func ConsecutiveDays(days []time.Time, today time.Time) int {
	if len(days) == 0 {
		return 0
	}

	studied := make(map[civilDay]bool, len(days))
	for _, d := range days {
		studied[dayOf(d)] = true
	}

	cursor := dayOf(today)
	if !studied[cursor] {
		cursor = cursor.prev()
		if !studied[cursor] {
			return 0
		}
	}

	streak := 0
	for studied[cursor] {
		streak++
		cursor = cursor.prev()
	}
	return streak
}
