package ports

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a response channel.
type StreamMessage struct {
	ID     string
	Values map[string]any
}

// StreamTransport provides consumer-group reads over append-only streams.
type StreamTransport interface {
	// EnsureGroup creates the group (and the stream) if missing. An existing group is not an error.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup reads up to count new messages for consumer. A block <= 0 does not wait.
	// An empty result with a nil error means nothing arrived in time.
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int64) ([]StreamMessage, error)

	// Ack acknowledges a message for the group.
	Ack(ctx context.Context, stream, group, id string) error

	// Publish appends a message, trimming the stream to roughly maxLen entries when maxLen > 0.
	Publish(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error)
}
