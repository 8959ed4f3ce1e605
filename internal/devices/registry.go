package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"devattend/internal/attendance"
)

// Device is the last known state of one reporting device.
type Device struct {
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName,omitempty"`
	LastSeen   time.Time `json:"lastSeen"`
	Battery    *float64  `json:"battery,omitempty"`
	Pings      int64     `json:"pings"`
}

// Registry keeps one Device per device id.
type Registry interface {
	Touch(ctx context.Context, rec attendance.Record) error
	List(ctx context.Context) ([]Device, error)
}

// apply folds rec into d. Pings always counts; the other fields only follow
// records at least as recent as LastSeen, so out-of-order delivery is harmless.
func (d Device) apply(rec attendance.Record) Device {
	d.DeviceID = rec.DeviceID
	d.Pings++
	if !rec.Timestamp.Before(d.LastSeen) {
		d.LastSeen = rec.Timestamp.UTC()
		if rec.DeviceName != "" {
			d.DeviceName = rec.DeviceName
		}
		if rec.Battery != nil {
			b := *rec.Battery
			d.Battery = &b
		}
	}
	if d.DeviceName == "" {
		d.DeviceName = rec.DeviceName
	}
	return d
}

func sortByLastSeen(out []Device) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
}

// MemoryRegistry is the in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{devices: make(map[string]Device)}
}

func (r *MemoryRegistry) Touch(_ context.Context, rec attendance.Record) error {
	r.mu.Lock()
	r.devices[rec.DeviceID] = r.devices[rec.DeviceID].apply(rec)
	r.mu.Unlock()
	return nil
}

// List returns devices, most recently seen first.
func (r *MemoryRegistry) List(context.Context) ([]Device, error) {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sortByLastSeen(out)
	return out, nil
}
