package devices

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"devattend/internal/attendance"
	"devattend/internal/queue"
)

// Tracker consumes recorded-attendance messages and keeps a Registry current.
type Tracker struct {
	queue    queue.Queue
	registry Registry
	log      *zap.Logger
}

func NewTracker(q queue.Queue, registry Registry, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{queue: q, registry: registry, log: log}
}

// Run blocks until ctx is done or the queue closes.
func (t *Tracker) Run(ctx context.Context) error {
	messages, err := t.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	for msg := range messages {
		if err := t.Handle(ctx, msg); err != nil {
			t.log.Warn("device update failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}
	return nil
}

// Handle applies one message. Messages of other types are ignored.
func (t *Tracker) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != attendance.RecordedEvent {
		return nil
	}
	var rec attendance.Record
	if err := json.Unmarshal(msg.Body, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if rec.DeviceID == "" {
		return fmt.Errorf("record %s has no device id", rec.ID)
	}
	if err := t.registry.Touch(ctx, rec); err != nil {
		return err
	}
	t.log.Debug("device touched", zap.String("device_id", rec.DeviceID), zap.String("id", rec.ID))
	return nil
}
