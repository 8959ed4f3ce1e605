package attendance

import (
	"context"
	"errors"
	"time"
)

// DayLayout is the UTC calendar-date format used for stats buckets.
const DayLayout = "2006-01-02"

// ErrValidation marks a rejected write. Wrapped errors carry the field detail.
var ErrValidation = errors.New("validation failed")

// Record is a single attendance ping reported by a device.
type Record struct {
	ID         string    `json:"id" db:"id" bson:"_id"`
	DeviceID   string    `json:"deviceId" db:"device_id" bson:"deviceId"`
	DeviceName string    `json:"deviceName,omitempty" db:"device_name" bson:"deviceName,omitempty"`
	Timestamp  time.Time `json:"timestamp" db:"occurred_at" bson:"timestamp"`
	Battery    *float64  `json:"battery,omitempty" db:"battery" bson:"battery,omitempty"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at" bson:"updatedAt"`
}

// Filter is a validated list query. Zero-valued fields apply no predicate,
// except Limit which is always positive once built by BuildFilter.
type Filter struct {
	DeviceID string
	From     *time.Time
	To       *time.Time
	Limit    int
}

// DayCount is one row of a sparse grouped count: only days holding at least
// one record are returned by a store.
type DayCount struct {
	Date  string `db:"day" bson:"_id"`
	Count int    `db:"count" bson:"count"`
}

// DayPoint is one entry of a dense daily series.
type DayPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Store persists records and answers the list and stats queries.
type Store interface {
	// Insert stores rec, assigning ID and the storage timestamps.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Find returns records matching f, newest first, at most f.Limit.
	Find(ctx context.Context, f Filter) ([]Record, error)
	// CountByDay groups records with timestamp >= since by UTC calendar date.
	CountByDay(ctx context.Context, since time.Time) ([]DayCount, error)
	Ping(ctx context.Context) error
	Close() error
}
