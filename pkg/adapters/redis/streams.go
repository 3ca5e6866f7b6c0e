package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/egorky/iafsm/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Streams implements ports.StreamTransport over Redis streams and consumer groups.
type Streams struct {
	client backend.UniversalClient
}

// NewStreams creates a stream transport on client.
func NewStreams(client backend.UniversalClient) *Streams {
	return &Streams{client: client}
}

// EnsureGroup creates the group at the start of the stream, creating the
// stream too. BUSYGROUP means it already exists and is not an error.
func (s *Streams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup reads new messages for consumer. block <= 0 returns immediately;
// a positive block shorter than a millisecond waits one millisecond.
func (s *Streams) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int64) ([]ports.StreamMessage, error) {
	// go-redis truncates Block to milliseconds and sends BLOCK 0 (forever)
	// when that rounds to zero; a negative Block omits the argument.
	switch {
	case block <= 0:
		block = -1
	case block < time.Millisecond:
		block = time.Millisecond
	}
	res, err := s.client.XReadGroup(ctx, &backend.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s as %s/%s: %w", stream, group, consumer, err)
	}

	var out []ports.StreamMessage
	for _, st := range res {
		for _, msg := range st.Messages {
			out = append(out, ports.StreamMessage{ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}

// Ack acknowledges a message for the group.
func (s *Streams) Ack(ctx context.Context, stream, group, id string) error {
	return s.client.XAck(ctx, stream, group, id).Err()
}

// Publish appends a message, trimming approximately to maxLen when positive.
func (s *Streams) Publish(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error) {
	args := &backend.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	return id, nil
}
