package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/egorky/iafsm"
	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// Engine is the part of the orchestration engine the HTTP front-end drives.
type Engine interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
	Document() domain.StatesDocument
	Watch(ctx context.Context) (<-chan string, error)
}

// Server serves turns and session inspection over HTTP.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	responses ports.StreamTransport
	metrics   http.Handler
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithResponseTransport enables POST /responses, which publishes an async
// API result on a response channel.
func WithResponseTransport(t ports.StreamTransport) Option {
	return func(s *Server) {
		s.responses = t
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.Streams = NewStreamManager(server.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/turn", server.Turn)
	r.Get("/sessions", server.ListSessions)
	r.Get("/sessions/{id}", server.GetSession)
	r.Delete("/sessions/{id}", server.DeleteSession)
	r.Get("/states", server.GetStates)
	r.Get("/events", server.SubscribeEvents)
	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	if server.responses != nil {
		r.Post("/responses", server.PublishResponse)
	}
	if server.metrics != nil {
		r.Handle("/metrics", server.metrics)
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Turn handles POST /turn.
func (s *Server) Turn(w http.ResponseWriter, r *http.Request) {
	var req domain.TurnRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.Engine.ProcessTurn(r.Context(), req)
	if err != nil {
		s.fail(w, "Turn", err)
		return
	}

	if res.Delta != nil {
		if b, err := json.Marshal(res.Delta); err == nil {
			s.Streams.Broadcast(req.SessionID, string(b))
		}
	} else {
		s.logger.Debug("Turn: no delta", "session_id", req.SessionID)
	}
	s.writeJSON(w, http.StatusOK, res)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Engine.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "GetSession", err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "DeleteSession", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.ListSessions(r.Context())
	if err != nil {
		s.fail(w, "ListSessions", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

type stateView struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Initial     bool     `json:"initial,omitempty"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
	Next        []string `json:"next,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}

// GetStates handles GET /states.
func (s *Server) GetStates(w http.ResponseWriter, r *http.Request) {
	doc := s.Engine.Document()
	views := make([]stateView, 0, len(doc.States))
	for id, st := range doc.States {
		v := stateView{
			ID:          id,
			Description: st.Description,
			Initial:     id == doc.InitialState,
			Required:    st.Parameters.Required,
			Optional:    st.Parameters.Optional,
		}
		for _, t := range st.Transitions {
			v.Next = append(v.Next, t.NextState)
		}
		if st.DefaultNextState != "" {
			v.Next = append(v.Next, st.DefaultNextState)
		}
		for _, a := range st.OnEntry {
			v.Actions = append(v.Actions, a.ID)
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	s.writeJSON(w, http.StatusOK, views)
}

type responseRequest struct {
	Channel       string            `json:"channel"`
	CorrelationID string            `json:"correlation_id"`
	SessionID     string            `json:"session_id"`
	APIID         string            `json:"api_id"`
	Result        domain.CallResult `json:"result"`
	MaxLen        int64             `json:"max_len,omitempty"`
}

// PublishResponse handles POST /responses.
func (s *Server) PublishResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Channel == "" || req.CorrelationID == "" {
		http.Error(w, "channel and correlation_id are required", http.StatusBadRequest)
		return
	}
	if req.Result.Status == "" {
		req.Result.Status = domain.CallSuccess
	}
	msg := domain.ResponseMessage{
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		APIID:         req.APIID,
		Result:        req.Result,
		Timestamp:     time.Now().UTC(),
	}
	fields, err := msg.Fields()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.responses.Publish(r.Context(), req.Channel, fields, req.MaxLen)
	if err != nil {
		s.fail(w, "PublishResponse", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	doc := s.Engine.Document()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"app":           "iafsm-http",
		"version":       strings.TrimSpace(iafsm.Version),
		"initial_state": doc.InitialState,
		"states":        len(doc.States),
	})
}

// StreamManager fans session deltas out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

func (sm *StreamManager) Subscribe(sessionID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
			// Slow client.
			sm.logger.Warn("SSE: client buffer full, dropping message", "session_id", sessionID)
		}
	}
}

// SubscribeEvents handles GET /events. Without session_id it streams
// configuration reloads; with it, the session's deltas, optionally
// filtered by ?watch=parameters,history,state,pending.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		events, err := s.Engine.Watch(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("Watch error: %v", err), http.StatusInternalServerError)
			return
		}
		startSSE(w, flusher)
		s.logger.Info("SSE: subscribed to configuration reloads")
		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: reload\ndata: %s\n\n", event)
				flusher.Flush()
			}
		}
	}

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()
	startSSE(w, flusher)
	s.logger.Info("SSE: subscribed to session updates", "session_id", sessionID)

	var watchList []string
	if watch := r.URL.Query().Get("watch"); watch != "" {
		watchList = strings.Split(watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watchList) > 0 && !watched(msg, watchList) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func startSSE(w http.ResponseWriter, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
}

// watched reports whether a delta touches any of the watched fields.
// Undecodable messages pass through.
func watched(msg string, fields []string) bool {
	var delta domain.ParameterDelta
	if err := json.Unmarshal([]byte(msg), &delta); err != nil {
		return true
	}
	for _, field := range fields {
		switch strings.TrimSpace(field) {
		case "parameters":
			if len(delta.Parameters) > 0 {
				return true
			}
		case "history":
			if delta.History != nil {
				return true
			}
		case "state":
			if delta.CurrentStateID != nil {
				return true
			}
		case "pending":
			if delta.Pending != nil {
				return true
			}
		}
	}
	return false
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case domain.IsConfigurationError(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
