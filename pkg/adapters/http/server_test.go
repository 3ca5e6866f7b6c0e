package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	sessions  map[string]*domain.Session
	turnErr   error
	watchFunc func(ctx context.Context) (<-chan string, error)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: map[string]*domain.Session{}}
}

func (f *fakeEngine) ProcessTurn(_ context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	before, ok := f.sessions[req.SessionID]
	if !ok {
		before = domain.NewSession(req.SessionID, "start")
	}
	after := before.Clone()
	for k, v := range req.Parameters {
		after.Parameters[k] = v
	}
	if req.Intent == "go" {
		after.CurrentStateID = "next"
		after.AppendHistory("next")
	}
	f.sessions[req.SessionID] = after
	return &domain.TurnResult{
		SessionID:       req.SessionID,
		PreviousStateID: before.CurrentStateID,
		FinalStateID:    after.CurrentStateID,
		Parameters:      after.Parameters,
		Delta:           domain.Diff(before, after),
	}, nil
}

func (f *fakeEngine) Session(_ context.Context, id string) (*domain.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeEngine) DeleteSession(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeEngine) ListSessions(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEngine) Document() domain.StatesDocument {
	return domain.StatesDocument{
		InitialState: "start",
		States: map[string]domain.StateConfig{
			"start": {Transitions: []domain.Transition{{NextState: "next", Condition: domain.Condition{Intent: "go"}}}},
			"next":  {Parameters: domain.ParameterSpec{Required: []string{"city"}}},
		},
	}
}

func (f *fakeEngine) Watch(ctx context.Context) (<-chan string, error) {
	if f.watchFunc != nil {
		return f.watchFunc(ctx)
	}
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return w
}

func TestTurn(t *testing.T) {
	eng := newFakeEngine()
	h := NewHandler(eng)

	w := postJSON(t, h, "/turn", domain.TurnRequest{SessionID: "s1", Intent: "go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res domain.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "start", res.PreviousStateID)
	assert.Equal(t, "next", res.FinalStateID)
}

func TestTurn_BadRequests(t *testing.T) {
	h := NewHandler(newFakeEngine())

	w := postJSON(t, h, "/turn", domain.TurnRequest{Intent: "go"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/turn", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTurn_ConfigurationErrorIsUnprocessable(t *testing.T) {
	eng := newFakeEngine()
	eng.turnErr = domain.NewConfigurationError("ghost", "unknown state")
	h := NewHandler(eng)

	w := postJSON(t, h, "/turn", domain.TurnRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "ghost")
}

func TestSessions(t *testing.T) {
	eng := newFakeEngine()
	h := NewHandler(eng)
	postJSON(t, h, "/turn", domain.TurnRequest{SessionID: "s1", Parameters: map[string]any{"city": "Quito"}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "Quito", sess.Parameters["city"])

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.JSONEq(t, `["s1"]`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/sessions/s1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStates(t *testing.T) {
	h := NewHandler(newFakeEngine())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/states", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var views []stateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "next", views[0].ID)
	assert.Equal(t, []string{"city"}, views[0].Required)
	assert.Equal(t, "start", views[1].ID)
	assert.True(t, views[1].Initial)
	assert.Equal(t, []string{"next"}, views[1].Next)
}

func TestHealthAndInfo(t *testing.T) {
	h := NewHandler(newFakeEngine())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "iafsm-http", info["app"])
	assert.Equal(t, "start", info["initial_state"])
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(newFakeEngine())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/turn", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPublishResponse(t *testing.T) {
	streams := memory.NewStreams()
	ctx := context.Background()
	require.NoError(t, streams.EnsureGroup(ctx, "responses:c1", "g"))
	h := NewHandler(newFakeEngine(), WithResponseTransport(streams))

	w := postJSON(t, h, "/responses", map[string]any{
		"channel":        "responses:c1",
		"correlation_id": "c1",
		"session_id":     "s1",
		"api_id":         "lookup",
		"result":         map[string]any{"httpCode": 200, "data": map[string]any{"ok": true}},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	msgs, err := streams.ReadGroup(ctx, "responses:c1", "g", "c", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := domain.DecodeResponseMessage(msgs[0].Values)
	assert.Equal(t, "c1", got.CorrelationID)
	assert.Equal(t, domain.CallSuccess, got.Result.Status)
	assert.Equal(t, map[string]any{"ok": true}, got.Result.Data)

	w = postJSON(t, h, "/responses", map[string]any{"channel": "responses:c1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishResponse_DisabledWithoutTransport(t *testing.T) {
	h := NewHandler(newFakeEngine())
	w := postJSON(t, h, "/responses", map[string]any{"channel": "x", "correlation_id": "c"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscribeEvents_Reloads(t *testing.T) {
	eng := newFakeEngine()
	eng.watchFunc = func(ctx context.Context) (<-chan string, error) {
		ch := make(chan string, 1)
		ch <- "states.json"
		close(ch)
		return ch, nil
	}
	h := NewHandler(eng)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: ping")
	assert.Contains(t, w.Body.String(), "event: reload\ndata: states.json")
}

func TestSubscribeEvents_SessionDeltas(t *testing.T) {
	eng := newFakeEngine()
	srv := httptest.NewServer(NewHandler(eng))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?session_id=s1&watch=state", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: ping", lines.Text())

	// Parameter-only deltas are filtered out; the state change is delivered.
	body, _ := json.Marshal(domain.TurnRequest{SessionID: "s1", Parameters: map[string]any{"a": 1}})
	_, err = http.Post(srv.URL+"/turn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	body, _ = json.Marshal(domain.TurnRequest{SessionID: "s1", Intent: "go"})
	_, err = http.Post(srv.URL+"/turn", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: {") {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			break
		}
	}
	var delta domain.ParameterDelta
	require.NoError(t, json.Unmarshal([]byte(data), &delta))
	require.NotNil(t, delta.CurrentStateID)
	assert.Equal(t, "next", *delta.CurrentStateID)
}

func TestWatched(t *testing.T) {
	state := "x"
	msg, _ := json.Marshal(domain.ParameterDelta{SessionID: "s", CurrentStateID: &state})
	assert.True(t, watched(string(msg), []string{"state"}))
	assert.False(t, watched(string(msg), []string{"parameters", "history"}))
	assert.True(t, watched("not json", []string{"state"}))
}
