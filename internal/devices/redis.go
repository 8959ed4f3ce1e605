package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"devattend/internal/attendance"
)

// DefaultRedisKey is the hash holding one JSON-encoded Device per field.
const DefaultRedisKey = "attendance:devices"

const maxTxRetries = 5

// RedisRegistry stores devices in a redis hash keyed by device id.
type RedisRegistry struct {
	client *redis.Client
	key    string
}

func NewRedisRegistry(client *redis.Client, key string) *RedisRegistry {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisRegistry{client: client, key: key}
}

// Touch updates the device with optimistic locking on the hash.
func (r *RedisRegistry) Touch(ctx context.Context, rec attendance.Record) error {
	update := func(tx *redis.Tx) error {
		var d Device
		raw, err := tx.HGet(ctx, r.key, rec.DeviceID).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				return fmt.Errorf("decode device %s: %w", rec.DeviceID, err)
			}
		}

		body, err := json.Marshal(d.apply(rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, rec.DeviceID, body)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, update, r.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("touch device %s: %w", rec.DeviceID, redis.TxFailedErr)
}

// List returns devices, most recently seen first.
func (r *RedisRegistry) List(ctx context.Context) ([]Device, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(all))
	for id, raw := range all {
		var d Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode device %s: %w", id, err)
		}
		out = append(out, d)
	}
	sortByLastSeen(out)
	return out, nil
}
