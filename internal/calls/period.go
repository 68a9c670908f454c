package calls

import (
	"errors"
	"fmt"
	"time"
)

// Granularity is the calendar unit a bucket spans.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

var ErrInvalidGranularity = errors.New("calls: invalid granularity")

func (g Granularity) Valid() bool {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth:
		return true
	default:
		return false
	}
}

// Bucket returns [start, end) of the calendar unit containing date, in date's
// location. Weeks start on Monday.
func Bucket(date time.Time, g Granularity) (time.Time, time.Time, error) {
	loc := date.Location()
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	switch g {
	case GranularityDay:
		return day, day.AddDate(0, 0, 1), nil
	case GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case GranularityMonth:
		start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
}
