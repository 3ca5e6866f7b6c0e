package apicall

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingDispatcher_PublishesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ticket":"T-9"}`))
	}))
	defer srv.Close()

	streams := memory.NewStreams()
	ctx := context.Background()
	channel := "iafsm:responses:s1:corr-1"
	require.NoError(t, streams.EnsureGroup(ctx, channel, "engine"))

	dispatcher := NewStreamingDispatcher(NewCaller(), streams)
	cancelled, cancel := context.WithCancel(ctx)
	err := dispatcher.Dispatch(cancelled, domain.APIDefinition{ID: "ticket", URL: srv.URL}, ports.DispatchRequest{
		CallRequest:        ports.CallRequest{CorrelationID: "corr-1", SessionID: "s1"},
		ResponseChannelKey: channel,
	})
	require.NoError(t, err)
	cancel() // the call must survive the end of the turn

	waitCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	require.NoError(t, dispatcher.Wait(waitCtx))

	msgs, err := streams.ReadGroup(ctx, channel, "engine", "c1", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := domain.DecodeResponseMessage(msgs[0].Values)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "ticket", msg.APIID)
	assert.Equal(t, domain.CallSuccess, msg.Result.Status)
	assert.Equal(t, http.StatusCreated, msg.Result.HTTPCode)
	assert.Equal(t, map[string]any{"ticket": "T-9"}, msg.Result.Data)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestStreamingDispatcher_RequiresChannel(t *testing.T) {
	dispatcher := NewStreamingDispatcher(NewCaller(), memory.NewStreams())
	err := dispatcher.Dispatch(context.Background(), domain.APIDefinition{ID: "x"}, ports.DispatchRequest{})
	assert.Error(t, err)
}

type failingStreams struct {
	ports.StreamTransport
	published chan struct{}
}

func (f failingStreams) Publish(context.Context, string, map[string]any, int64) (string, error) {
	close(f.published)
	return "", errors.New("stream unavailable")
}

type staticCaller domain.CallResult

func (s staticCaller) Call(context.Context, domain.APIDefinition, ports.CallRequest) domain.CallResult {
	return domain.CallResult(s)
}

func TestStreamingDispatcher_PublishFailureIsLogged(t *testing.T) {
	streams := failingStreams{published: make(chan struct{})}
	dispatcher := NewStreamingDispatcher(staticCaller{Status: domain.CallSuccess}, streams)

	err := dispatcher.Dispatch(context.Background(), domain.APIDefinition{ID: "x"}, ports.DispatchRequest{ResponseChannelKey: "ch"})
	require.NoError(t, err, "publishing happens after Dispatch returns")

	select {
	case <-streams.published:
	case <-time.After(time.Second):
		t.Fatal("publish not attempted")
	}
	assert.NoError(t, dispatcher.Wait(context.Background()))
}
