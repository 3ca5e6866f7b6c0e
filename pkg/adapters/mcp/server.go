package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/egorky/iafsm"
	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StatesURI names the resource that exposes the states document.
const StatesURI = "iafsm://states"

// Engine is the part of the orchestration engine exposed as MCP tools.
type Engine interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Document() domain.StatesDocument
}

// Server wraps the engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("iafsm-mcp", strings.TrimSpace(iafsm.Version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StateSummary is one entry of list_states.
type StateSummary struct {
	ID          string   `json:"id" jsonschema_description:"State identifier"`
	Description string   `json:"description,omitempty" jsonschema_description:"What the state is for"`
	Initial     bool     `json:"initial,omitempty" jsonschema_description:"Whether new sessions start here"`
	Required    []string `json:"required,omitempty" jsonschema_description:"Parameters the state collects"`
	Intents     []string `json:"intents,omitempty" jsonschema_description:"Intents that leave the state"`
}

// StatesResponse is the structured result of list_states.
type StatesResponse struct {
	States []StateSummary `json:"states" jsonschema_description:"Configured states sorted by id"`
}

func (s *Server) registerTools() {
	turnTool := mcp.NewTool("process_turn",
		mcp.WithDescription("Process one conversation turn: resolve the next state, run its actions and render its payload."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session identifier")),
		mcp.WithString("intent", mcp.Description("Intent recognised from the user's utterance (optional)")),
		mcp.WithString("parameters", mcp.Description("JSON object of parameters extracted this turn (optional)")),
		mcp.WithBoolean("is_initial_call", mcp.Description("Marks the first turn of a conversation")),
		mcp.WithOutputSchema[domain.TurnResult](),
	)
	s.mcpServer.AddTool(turnTool, mcp.NewStructuredToolHandler(s.handleProcessTurn))

	sessionTool := mcp.NewTool("get_session",
		mcp.WithDescription("Return the stored session: current state, parameters, history and pending async responses."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session identifier")),
		mcp.WithOutputSchema[domain.Session](),
	)
	s.mcpServer.AddTool(sessionTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	statesTool := mcp.NewTool("list_states",
		mcp.WithDescription("List the configured states with the parameters and intents each one handles."),
		mcp.WithOutputSchema[StatesResponse](),
	)
	s.mcpServer.AddTool(statesTool, mcp.NewStructuredToolHandler(s.handleListStates))
}

func (s *Server) handleProcessTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.TurnResult, error) {
	req := domain.TurnRequest{}
	req.SessionID, _ = args["session_id"].(string)
	req.Intent, _ = args["intent"].(string)
	req.IsInitialCall, _ = args["is_initial_call"].(bool)
	if req.SessionID == "" {
		return domain.TurnResult{}, errors.New("session_id is required")
	}

	switch p := args["parameters"].(type) {
	case string:
		if p != "" {
			if err := json.Unmarshal([]byte(p), &req.Parameters); err != nil {
				return domain.TurnResult{}, fmt.Errorf("parameters must be a JSON object: %w", err)
			}
		}
	case map[string]interface{}:
		req.Parameters = p
	}

	res, err := s.engine.ProcessTurn(ctx, req)
	if err != nil {
		s.logger.Error("MCP process_turn failed", "session_id", req.SessionID, "err", err)
		return domain.TurnResult{}, fmt.Errorf("turn failed: %w", err)
	}
	return *res, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (domain.Session, error) {
	id, _ := args["session_id"].(string)
	sess, err := s.engine.Session(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %q: %w", id, err)
	}
	return *sess, nil
}

func (s *Server) handleListStates(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StatesResponse, error) {
	return StatesResponse{States: summarize(s.engine.Document())}, nil
}

func summarize(doc domain.StatesDocument) []StateSummary {
	out := make([]StateSummary, 0, len(doc.States))
	for id, st := range doc.States {
		sum := StateSummary{
			ID:          id,
			Description: st.Description,
			Initial:     id == doc.InitialState,
			Required:    st.Parameters.Required,
		}
		for _, t := range st.Transitions {
			if t.Condition.Intent != "" {
				sum.Intents = append(sum.Intents, t.Condition.Intent)
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StatesURI, "States document",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(s.engine.Document())
		if err != nil {
			return nil, fmt.Errorf("encode states: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatesURI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	})
}
