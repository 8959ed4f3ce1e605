// Package queue carries recorded-attendance events from the API to consumers.
package queue

import "context"

// Message is one event. Body is opaque to the queue.
type Message struct {
	Type string
	Body []byte
}

// Queue is implemented by every backend.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume streams messages until ctx is done, then closes the channel.
	Consume(ctx context.Context) (<-chan Message, error)
}
