package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/egorky/iafsm"
	"github.com/egorky/iafsm/internal/presentation/graph"
	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/internal/templating"
	"github.com/egorky/iafsm/pkg/domain"
)

// RunTurn processes a single turn and prints the result as JSON.
func RunTurn(ctx context.Context, rt *Runtime, req domain.TurnRequest, out io.Writer) error {
	res, err := rt.Engine.ProcessTurn(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// RunValidate loads the configuration in dir and prints its lint findings.
// Broken references always fail; warnings fail only in strict mode.
func RunValidate(dir string, strict bool, logger *slog.Logger, out io.Writer) error {
	eng, err := iafsm.New(dir, iafsm.WithLogger(logger), iafsm.WithStrict(strict))
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	warnings := eng.Lint()
	for _, w := range warnings {
		printSystemMessage(out, "warning: %s", w)
	}
	doc := eng.Document()
	fmt.Fprintf(out, "%d states, %d API definitions, initial state %q: valid\n",
		len(doc.States), len(eng.Catalog().APIDefinitions()), doc.InitialState)
	return nil
}

// GraphOptions selects what RunGraph draws.
type GraphOptions struct {
	// SessionID highlights the visited and current states of a session.
	SessionID string
	// PlanState draws the action dependency graph of entering that state
	// instead of the state machine.
	PlanState string
	// Params are the parameters assumed present when planning.
	Params map[string]any
}

// RunGraph prints a Mermaid diagram of the states or of one state's plan.
func RunGraph(ctx context.Context, rt *Runtime, opts GraphOptions, logger *slog.Logger, out io.Writer) error {
	if opts.PlanState != "" {
		catalog := rt.Engine.Catalog()
		planner := &runtime.Planner{
			States:   catalog,
			APIs:     catalog,
			Renderer: templating.New(templating.WithLogger(logger)),
			Logger:   logger,
		}
		actions, err := planner.Collect(runtime.PlanInput{
			Params:           opts.Params,
			CandidateStateID: opts.PlanState,
			Entering:         true,
		})
		if err != nil {
			return err
		}
		fmt.Fprint(out, graph.GeneratePlanMermaid(runtime.BuildGraph(actions, opts.Params, logger)))
		return nil
	}

	var overlay *graph.GraphOverlay
	if opts.SessionID != "" {
		sess, err := rt.Engine.Session(ctx, opts.SessionID)
		if err != nil {
			return fmt.Errorf("load session %q: %w", opts.SessionID, err)
		}
		overlay = &graph.GraphOverlay{VisitedStates: sess.History, CurrentState: sess.CurrentStateID}
	}
	fmt.Fprint(out, graph.GenerateMermaid(rt.Engine.Document(), overlay))
	return nil
}

// RespondOptions describes an async API result to publish by hand.
type RespondOptions struct {
	Channel       string
	CorrelationID string
	SessionID     string
	APIID         string
	Result        domain.CallResult
	MaxLen        int64
}

// RunRespond publishes an async API result on a response channel, as the
// worker that serves the call would.
func RunRespond(ctx context.Context, rt *Runtime, opts RespondOptions, out io.Writer) error {
	if rt.redis == nil {
		return errors.New("respond needs a shared transport; set redis.addr")
	}
	if opts.Channel == "" || opts.CorrelationID == "" {
		return errors.New("channel and correlation id are required")
	}
	if opts.Result.Status == "" {
		opts.Result.Status = domain.CallSuccess
	}
	fields, err := domain.ResponseMessage{
		CorrelationID: opts.CorrelationID,
		SessionID:     opts.SessionID,
		APIID:         opts.APIID,
		Result:        opts.Result,
		Timestamp:     time.Now().UTC(),
	}.Fields()
	if err != nil {
		return err
	}
	id, err := rt.Engine.Streams().Publish(ctx, opts.Channel, fields, opts.MaxLen)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", opts.Channel, err)
	}
	fmt.Fprintf(out, "published %s to %s\n", id, opts.Channel)
	return nil
}

// ListSessions prints the stored session ids.
func ListSessions(ctx context.Context, rt *Runtime, out io.Writer) error {
	ids, err := rt.Engine.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No active sessions found.")
		return nil
	}
	fmt.Fprintln(out, "Active Sessions:")
	for _, id := range ids {
		fmt.Fprintln(out, "- "+id)
	}
	return nil
}

// StartSession reserves a session id at the initial state and prints where
// the session stands.
func StartSession(ctx context.Context, rt *Runtime, id string, out io.Writer) error {
	sess, err := rt.Engine.StartSession(ctx, id)
	if err != nil {
		return fmt.Errorf("start session %q: %w", id, err)
	}
	fmt.Fprintf(out, "Session '%s' at state %q\n", sess.ID, sess.CurrentStateID)
	return nil
}

// InspectSession prints a stored session as indented JSON.
func InspectSession(ctx context.Context, rt *Runtime, id string, out io.Writer) error {
	sess, err := rt.Engine.Session(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %q: %w", id, err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// RemoveSessions deletes every listed session and reports the ones that
// could not be removed.
func RemoveSessions(ctx context.Context, rt *Runtime, ids []string, out io.Writer) error {
	var failed []string
	for _, id := range ids {
		if err := rt.Engine.DeleteSession(ctx, id); err != nil {
			fmt.Fprintf(out, "Error removing '%s': %v\n", id, err)
			failed = append(failed, id)
			continue
		}
		fmt.Fprintf(out, "Removed session '%s'\n", id)
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not remove %s", strings.Join(failed, ", "))
	}
	return nil
}

// ParseParams decodes key=value pairs the way chat lines are decoded.
// Values may contain spaces since each pair is one argument.
func ParseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not a key=value pair", pair)
		}
		params[key] = decodeValue(value)
	}
	return params, nil
}
