package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/egorky/iafsm/pkg/ports"
)

// ErrNoGroup is returned when reading through a consumer group that does not exist.
var ErrNoGroup = errors.New("NOGROUP no such consumer group")

type group struct {
	// next is the index of the first entry not yet delivered to the group.
	next    int
	pending map[string]string // message id -> consumer
}

type stream struct {
	entries []ports.StreamMessage
	// base counts entries trimmed from the head, so group offsets survive trimming.
	base   int
	groups map[string]*group
}

// Streams implements ports.StreamTransport in memory with consumer-group semantics:
// each message is delivered once per group and stays pending until acked.
type Streams struct {
	mu      sync.Mutex
	streams map[string]*stream
	changed chan struct{}
	seq     int64
	now     func() time.Time
}

// NewStreams creates an empty transport.
func NewStreams() *Streams {
	return &Streams{
		streams: make(map[string]*stream),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (s *Streams) get(name string) *stream {
	st, ok := s.streams[name]
	if !ok {
		st = &stream{groups: make(map[string]*group)}
		s.streams[name] = st
	}
	return st
}

// EnsureGroup creates the stream and a group reading it from the beginning.
// An existing group is left untouched.
func (s *Streams) EnsureGroup(_ context.Context, name, groupName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(name)
	if _, ok := st.groups[groupName]; !ok {
		st.groups[groupName] = &group{next: st.base, pending: make(map[string]string)}
	}
	return nil
}

// ReadGroup delivers up to count new messages. With block > 0 it waits that
// long for a message; otherwise it returns immediately.
func (s *Streams) ReadGroup(ctx context.Context, name, groupName, consumer string, block time.Duration, count int64) ([]ports.StreamMessage, error) {
	var timeout <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		s.mu.Lock()
		msgs, err := s.deliver(name, groupName, consumer, count)
		changed := s.changed
		s.mu.Unlock()

		if err != nil || len(msgs) > 0 || timeout == nil {
			return msgs, err
		}
		select {
		case <-changed:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// deliver must be called with the lock held.
func (s *Streams) deliver(name, groupName, consumer string, count int64) ([]ports.StreamMessage, error) {
	st, ok := s.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, groupName, name)
	}
	g, ok := st.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoGroup, groupName, name)
	}
	if g.next < st.base {
		g.next = st.base
	}

	var out []ports.StreamMessage
	for g.next-st.base < len(st.entries) {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		msg := st.entries[g.next-st.base]
		g.next++
		g.pending[msg.ID] = consumer
		out = append(out, copyMessage(msg))
	}
	return out, nil
}

// Ack removes a message from the group's pending list.
func (s *Streams) Ack(_ context.Context, name, groupName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[name]; ok {
		if g, ok := st.groups[groupName]; ok {
			delete(g.pending, id)
		}
	}
	return nil
}

// Publish appends a message, trimming the stream to maxLen when positive.
func (s *Streams) Publish(_ context.Context, name string, values map[string]any, maxLen int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("%d-%d", s.now().UnixMilli(), s.seq)
	st := s.get(name)
	st.entries = append(st.entries, copyMessage(ports.StreamMessage{ID: id, Values: values}))
	if maxLen > 0 && int64(len(st.entries)) > maxLen {
		drop := len(st.entries) - int(maxLen)
		st.entries = st.entries[drop:]
		st.base += drop
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return id, nil
}

// Pending returns the number of delivered but unacknowledged messages of a group.
func (s *Streams) Pending(name, groupName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[name]; ok {
		if g, ok := st.groups[groupName]; ok {
			return len(g.pending)
		}
	}
	return 0
}

func copyMessage(m ports.StreamMessage) ports.StreamMessage {
	values := make(map[string]any, len(m.Values))
	for k, v := range m.Values {
		values[k] = v
	}
	return ports.StreamMessage{ID: m.ID, Values: values}
}
