package apicall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaller_RendersRequest(t *testing.T) {
	var got *http.Request
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"slots":["09:00","10:30"]}`))
	}))
	defer srv.Close()

	def := domain.APIDefinition{
		ID:      "availability",
		Method:  "post",
		URL:     srv.URL + "/doctors/{{doctor_id}}/slots",
		Headers: map[string]string{"X-Session": "{{sessionId}}"},
		QueryTemplate: map[string]any{
			"date":    "{{date}}",
			"missing": "{{nothing}}",
		},
		BodyTemplate: map[string]any{
			"doctor": "{{doctor_id}}",
			"days":   "{{days}}",
		},
	}

	res := NewCaller().Call(context.Background(), def, ports.CallRequest{
		CorrelationID: "corr-1",
		SessionID:     "s1",
		Params:        map[string]any{"doctor_id": "d42", "date": "2026-03-01", "days": 3},
	})

	require.True(t, res.OK(), res.ErrorMessage)
	assert.Equal(t, http.StatusOK, res.HTTPCode)
	assert.Equal(t, map[string]any{"slots": []any{"09:00", "10:30"}}, res.Data)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/doctors/d42/slots", got.URL.Path)
	assert.Equal(t, "date=2026-03-01", got.URL.RawQuery, "empty query values are dropped")
	assert.Equal(t, "s1", got.Header.Get("X-Session"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "d42", body["doctor"])
	assert.Equal(t, float64(3), body["days"], "a lone placeholder keeps the raw value")
}

func TestCaller_HTTPErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such doctor"))
	}))
	defer srv.Close()

	res := NewCaller().Call(context.Background(), domain.APIDefinition{ID: "doc", URL: srv.URL}, ports.CallRequest{})
	assert.Equal(t, domain.CallError, res.Status)
	assert.Equal(t, http.StatusNotFound, res.HTTPCode)
	assert.Equal(t, "no such doctor", res.Data)
	assert.Contains(t, res.ErrorMessage, "404")
	assert.False(t, res.IsTimeout)
}

func TestCaller_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	caller := NewCaller(WithRetryInterval(time.Millisecond))
	res := caller.Call(context.Background(), domain.APIDefinition{ID: "crm", URL: srv.URL, Retries: 2}, ports.CallRequest{})
	require.True(t, res.OK(), res.ErrorMessage)
	assert.Equal(t, int32(3), hits.Load())
}

func TestCaller_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	caller := NewCaller(WithRetryInterval(time.Millisecond))
	res := caller.Call(context.Background(), domain.APIDefinition{ID: "crm", URL: srv.URL, Retries: 3}, ports.CallRequest{})
	assert.Equal(t, domain.CallError, res.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCaller_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := NewCaller().Call(context.Background(), domain.APIDefinition{ID: "slow", URL: srv.URL, TimeoutMs: 30}, ports.CallRequest{})
	assert.Equal(t, domain.CallError, res.Status)
	assert.True(t, res.IsTimeout)
}

func TestCaller_BadURL(t *testing.T) {
	res := NewCaller().Call(context.Background(), domain.APIDefinition{ID: "bad", URL: "://nope"}, ports.CallRequest{})
	assert.Equal(t, domain.CallError, res.Status)
	assert.Contains(t, res.ErrorMessage, "invalid url")
}
