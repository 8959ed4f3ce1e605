package attendance

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

const (
	// DefaultStatsDays is the window used when no usable days value is supplied.
	DefaultStatsDays = 14
	// DefaultMaxStatsDays caps the window when no ceiling is configured.
	DefaultMaxStatsDays = 3650
)

// firstDay is the earliest day a window may start on.
var firstDay = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// DayCounter is the store capability the aggregator needs.
type DayCounter interface {
	CountByDay(ctx context.Context, since time.Time) ([]DayCount, error)
}

// SeriesAggregator builds dense per-day counts over a window ending today (UTC).
type SeriesAggregator struct {
	store   DayCounter
	clock   quartz.Clock
	maxDays int
}

// NewSeriesAggregator creates an aggregator. maxDays <= 0 means
// DefaultMaxStatsDays.
func NewSeriesAggregator(store DayCounter, clock quartz.Clock, maxDays int) *SeriesAggregator {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxStatsDays
	}
	return &SeriesAggregator{store: store, clock: clock, maxDays: maxDays}
}

// ParseDays returns the positive integer in raw, or DefaultStatsDays.
func ParseDays(raw string) int {
	return positiveOr(raw, DefaultStatsDays)
}

// WindowStart is UTC midnight of the first day of a days-long window whose
// last day contains now.
func WindowStart(now time.Time, days int) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(days - 1))
}

// daysThrough counts the calendar days from firstDay through the UTC day of now.
func daysThrough(now time.Time) int {
	today := WindowStart(now, 1)
	if today.Before(firstDay) {
		return 1
	}
	// Unix seconds rather than Sub, which saturates after about 292 years.
	return int((today.Unix()-firstDay.Unix())/(24*60*60)) + 1
}

// Series returns days points, ascending by date, one per calendar day from
// WindowStart through today, zero-filled where the store has no records.
// days is clamped to the aggregator ceiling and never reaches before 0001-01-01.
func (a *SeriesAggregator) Series(ctx context.Context, days int) ([]DayPoint, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	days = min(days, a.maxDays)

	// now is read once so every bucket agrees on which day is today.
	now := a.clock.Now("attendance", "series")
	days = min(days, daysThrough(now))
	start := WindowStart(now, days)

	sparse, err := a.store.CountByDay(ctx, start)
	if err != nil {
		return nil, err
	}
	return Densify(start, days, sparse), nil
}

// Densify expands a sparse grouped count into days consecutive points starting
// at start. Entries outside the window are ignored.
func Densify(start time.Time, days int, sparse []DayCount) []DayPoint {
	counts := make(map[string]int, len(sparse))
	for _, dc := range sparse {
		counts[dc.Date] += dc.Count
	}

	out := make([]DayPoint, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format(DayLayout)
		out = append(out, DayPoint{Date: date, Count: counts[date]})
	}
	return out
}
