package apicall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// DefaultStreamMaxLen trims response channels to roughly this many entries.
const DefaultStreamMaxLen = 1000

// StreamingDispatcher implements ports.APIDispatcher. It performs the call
// in the background and publishes the result as a domain.ResponseMessage.
type StreamingDispatcher struct {
	caller  ports.APICaller
	streams ports.StreamTransport
	maxLen  int64
	logger  *slog.Logger
	now     func() time.Time

	inflight sync.WaitGroup
}

// DispatcherOption configures the StreamingDispatcher.
type DispatcherOption func(*StreamingDispatcher)

// WithMaxLen overrides DefaultStreamMaxLen. Zero disables trimming.
func WithMaxLen(n int64) DispatcherOption {
	return func(d *StreamingDispatcher) {
		d.maxLen = n
	}
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *StreamingDispatcher) {
		d.logger = logger
	}
}

// NewStreamingDispatcher creates a dispatcher that calls through caller and publishes on streams.
func NewStreamingDispatcher(caller ports.APICaller, streams ports.StreamTransport, opts ...DispatcherOption) *StreamingDispatcher {
	d := &StreamingDispatcher{
		caller:  caller,
		streams: streams,
		maxLen:  DefaultStreamMaxLen,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts the call and returns immediately.
func (d *StreamingDispatcher) Dispatch(ctx context.Context, def domain.APIDefinition, req ports.DispatchRequest) error {
	if req.ResponseChannelKey == "" {
		return fmt.Errorf("dispatch %s: empty response channel", def.ID)
	}

	// The call outlives the turn that started it.
	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.run(bg, def, req)
	}()
	return nil
}

func (d *StreamingDispatcher) run(ctx context.Context, def domain.APIDefinition, req ports.DispatchRequest) {
	result := d.caller.Call(ctx, def, req.CallRequest)
	msg := domain.ResponseMessage{
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		APIID:         def.ID,
		Result:        result,
		Timestamp:     d.now(),
	}
	fields, err := msg.Fields()
	if err != nil {
		d.logger.Error("cannot encode API response", "api", def.ID, "correlation_id", req.CorrelationID, "err", err)
		return
	}
	id, err := d.streams.Publish(ctx, req.ResponseChannelKey, fields, d.maxLen)
	if err != nil {
		d.logger.Error("cannot publish API response",
			"api", def.ID,
			"correlation_id", req.CorrelationID,
			"channel", req.ResponseChannelKey,
			"err", err,
		)
		return
	}
	d.logger.Debug("API response published",
		"api", def.ID,
		"correlation_id", req.CorrelationID,
		"channel", req.ResponseChannelKey,
		"message_id", id,
		"status", result.Status,
	)
}

// Wait blocks until in-flight calls have published or ctx is done.
func (d *StreamingDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
