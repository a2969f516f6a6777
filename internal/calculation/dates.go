package calculation

import (
	"time"
)

// MonthsSince returns the number of whole calendar months from earlier to later. The result
// is negative when later is before earlier. When later falls on the last day of its month and
// earlier's day-of-month is greater, earlier is treated as falling on that same day, so
// Jan 31 to Feb 28 counts as one month.
func MonthsSince(earlier, later time.Time) int {
	later = later.In(earlier.Location())
	if later.Before(earlier) {
		return -MonthsSince(later, earlier)
	}

	ey, em, ed := earlier.Date()
	ly, lm, ld := later.Date()
	months := (ly-ey)*12 + int(lm) - int(em)

	if ld == daysIn(ly, lm) && ed > ld {
		ed = ld
	}
	if remainder(ld, later) < remainder(ed, earlier) {
		months--
	}
	return months
}

// AddMonths shifts t by delta calendar months, clamping the day to the end of the target
// month. The time of day is kept.
func AddMonths(t time.Time, delta int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + delta
	y += floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	if last := daysIn(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// remainder is the wall-clock offset into the month, using day as the day-of-month.
func remainder(day int, t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(day-1)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
