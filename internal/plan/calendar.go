package plan

import "time"

const day = 24 * time.Hour

// AddDays returns base shifted forward by n whole 24-hour days.
func AddDays(base time.Time, n int) time.Time {
	return base.Add(time.Duration(n) * day)
}

// AddMonths advances base by n calendar months, keeping the day of month.
// When the target month is shorter than the source day, the result is
// clamped to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(base time.Time, n int) time.Time {
	y, m, d := base.Date()
	hh, mm, ss := base.Clock()
	loc := base.Location()

	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, base.Nanosecond(), loc)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, base.Nanosecond(), loc)
}

// Later returns whichever of a and b is later.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
