package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps records in process memory. Used for dev and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

// Insert appends a copy of rec.
func (r *MemoryRepository) Insert(_ context.Context, rec Record) (Record, error) {
	rec = prepareInsert(rec, r.now())
	stored := detach(rec)

	r.mu.Lock()
	r.records = append(r.records, stored)
	r.mu.Unlock()
	return detach(stored), nil
}

// Find scans all records and returns copies.
func (r *MemoryRepository) Find(_ context.Context, f Filter) ([]Record, error) {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if matches(f, rec) {
			out = append(out, detach(rec))
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountByDay groups in memory, returning days in ascending order.
func (r *MemoryRepository) CountByDay(_ context.Context, since time.Time) ([]DayCount, error) {
	counts := map[string]int{}
	r.mu.RLock()
	for _, rec := range r.records {
		if rec.Timestamp.Before(since) {
			continue
		}
		counts[rec.Timestamp.UTC().Format(DayLayout)]++
	}
	r.mu.RUnlock()

	out := make([]DayCount, 0, len(counts))
	for day, n := range counts {
		out = append(out, DayCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

// detach copies the Battery pointer so stored records share no memory with
// callers.
func detach(rec Record) Record {
	if rec.Battery != nil {
		b := *rec.Battery
		rec.Battery = &b
	}
	return rec
}

func matches(f Filter, rec Record) bool {
	if f.DeviceID != "" && rec.DeviceID != f.DeviceID {
		return false
	}
	if f.From != nil && rec.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// prepareInsert fills the store-managed fields shared by every backend.
func prepareInsert(rec Record, now time.Time) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now = now.UTC()
	rec.Timestamp = rec.Timestamp.UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}
