package report

import (
	"time"

	"github.com/ternarybob/docjobs/internal/common"
)

// daysBetween lists every calendar day (UTC, "YYYY-MM-DD") overlapping
// [start, end), inclusive of both endpoints' days.
func daysBetween(start, end time.Time) []string {
	if end.Before(start) {
		start, end = end, start
	}
	var days []string
	cur := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.UTC().Year(), end.UTC().Month(), end.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		days = append(days, common.DayIndex(cur))
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// dayAfter returns midnight UTC of the day following d ("YYYY-MM-DD"),
// the cutoff used to exclude late writes from a day's aggregation.
func dayAfter(d string) time.Time {
	t, err := time.Parse("2006-01-02", d)
	if err != nil {
		return time.Time{}
	}
	return t.AddDate(0, 0, 1)
}

// keyTime recovers a report row key's embedded creation timestamp.
func keyTime(key string) time.Time {
	return common.KeyTime(key)
}
