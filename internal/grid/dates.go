package grid

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC 3339 timestamps (a trailing Z is fine).
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(dateLayout, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return ts, nil
}

func DateKey(ts time.Time) string {
	return ts.Format(dateLayout)
}

// WeeklyDates returns start, start+7d, ... up to and including end.
func WeeklyDates(start, end time.Time) []time.Time {
	var out []time.Time
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 7) {
		out = append(out, cur)
	}
	return out
}

// DayOfYearCycle encodes the day of year of ts on the unit circle.
func DayOfYearCycle(ts time.Time) (float64, float64) {
	angle := 2 * math.Pi * float64(ts.YearDay()) / 365.25
	return math.Sin(angle), math.Cos(angle)
}
