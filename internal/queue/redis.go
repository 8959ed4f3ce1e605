package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list recorded-attendance events are pushed to.
const DefaultRedisKey = "attendance:recorded"

const (
	popTimeout     = 5 * time.Second
	retryBackoff   = time.Second
	requeueTimeout = 2 * time.Second
)

// envelope is the list entry stored in redis.
type envelope struct {
	Type        string    `json:"type"`
	Body        []byte    `json:"body"`
	PublishedAt time.Time `json:"publishedAt"`
}

// RedisQueue is a list-backed queue: LPUSH to publish, BRPOP to consume,
// so delivery order is first in, first out.
type RedisQueue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key, now: time.Now}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := encode(msg, q.now())
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume fails immediately when redis is unreachable. Afterwards connection
// errors are retried after a short backoff and undecodable entries are dropped.
// An entry popped after ctx ends is pushed back rather than lost.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis queue %s: %w", q.key, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, popTimeout, q.key).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				select {
				case <-time.After(retryBackoff):
				case <-ctx.Done():
				}
				continue
			case len(res) != 2:
				continue
			}

			msg, err := decode(res[1])
			if err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				q.requeue(ctx, res[1])
				return
			}
		}
	}()
	return out, nil
}

// requeue puts an entry popped after ctx ended back at the consuming end of
// the list, so the next consumer receives it first.
func (q *RedisQueue) requeue(ctx context.Context, raw string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	_ = q.client.RPush(ctx, q.key, raw).Err()
}

// Len reports how many messages are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func encode(msg Message, at time.Time) (string, error) {
	raw, err := json.Marshal(envelope{Type: msg.Type, Body: msg.Body, PublishedAt: at.UTC()})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(raw), nil
}

func decode(raw string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return Message{Type: env.Type, Body: env.Body}, nil
}
