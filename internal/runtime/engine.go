// Package runtime is the action-orchestration core: it resolves the next
// state, plans and schedules the actions owed on the way there, executes the
// synchronous ones, dispatches the asynchronous ones and correlates their
// responses on later turns.
package runtime

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/egorky/iafsm/internal/templating"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// DefaultResponseChannelTemplate names the stream an async response is published on.
const DefaultResponseChannelTemplate = "iafsm:responses:{{sessionId}}:{{correlationId}}"

// DefaultConsumerGroup is the consumer group the engine reads responses with.
const DefaultConsumerGroup = "iafsm"

// DefaultDrainBlock bounds the opportunistic read of pendings without a wait point.
const DefaultDrainBlock = 10 * time.Millisecond

// Engine runs turns. It holds no per-session state and is safe for concurrent
// use as long as each session is driven by one turn at a time.
type Engine struct {
	states   ports.StateProvider
	apis     ports.APIProvider
	renderer ports.Renderer

	caller     ports.APICaller
	dispatcher ports.APIDispatcher
	scripts    ports.ScriptRunner
	streams    ports.StreamTransport

	hooks           domain.LifecycleHooks
	logger          *slog.Logger
	defaultIntent   string
	group           string
	consumer        string
	drainBlock      time.Duration
	pendingMaxAge   time.Duration
	channelTemplate string
	maxHops         int
	now             func() time.Time
	newID           func() string
}

// Option configures the Engine.
type Option func(*Engine)

// WithRenderer overrides the template renderer.
func WithRenderer(r ports.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

// WithAPICaller sets the collaborator for synchronous API calls.
func WithAPICaller(c ports.APICaller) Option {
	return func(e *Engine) {
		e.caller = c
	}
}

// WithDispatcher sets the collaborator for asynchronous API calls.
func WithDispatcher(d ports.APIDispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithScriptRunner sets the collaborator for script actions.
func WithScriptRunner(r ports.ScriptRunner) Option {
	return func(e *Engine) {
		e.scripts = r
	}
}

// WithStreams sets the transport async responses are read from.
func WithStreams(t ports.StreamTransport) Option {
	return func(e *Engine) {
		e.streams = t
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultIntent sets the intent used when a turn carries none.
func WithDefaultIntent(intent string) Option {
	return func(e *Engine) {
		e.defaultIntent = intent
	}
}

// WithConsumerGroup sets the consumer group and consumer name used for correlation.
// An empty consumer keeps the generated one.
func WithConsumerGroup(group, consumer string) Option {
	return func(e *Engine) {
		if group != "" {
			e.group = group
		}
		if consumer != "" {
			e.consumer = consumer
		}
	}
}

// WithDrainBlock sets how long the opportunistic drain blocks. Zero means no blocking.
func WithDrainBlock(d time.Duration) Option {
	return func(e *Engine) {
		e.drainBlock = d
	}
}

// WithPendingMaxAge sets how old a response without a wait point may get
// before the drain gives it up. Zero keeps it pending until it arrives.
func WithPendingMaxAge(d time.Duration) Option {
	return func(e *Engine) {
		e.pendingMaxAge = d
	}
}

// WithAutoAdvance lets a turn keep resolving from the candidate, without
// an intent, for up to hops extra states. A state is passed through only when
// its required parameters are met and it has an unguarded way out; the states
// crossed become skipped states whose entry actions still run.
func WithAutoAdvance(hops int) Option {
	return func(e *Engine) {
		e.maxHops = hops
	}
}

// WithResponseChannelTemplate overrides DefaultResponseChannelTemplate.
func WithResponseChannelTemplate(tmpl string) Option {
	return func(e *Engine) {
		e.channelTemplate = tmpl
	}
}

// WithClock overrides the time source of timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// NewEngine creates an Engine over the given configuration.
func NewEngine(states ports.StateProvider, apis ports.APIProvider, opts ...Option) *Engine {
	e := &Engine{
		states:          states,
		apis:            apis,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		group:           DefaultConsumerGroup,
		consumer:        DefaultConsumerGroup + "-" + xid.New().String(),
		drainBlock:      DefaultDrainBlock,
		pendingMaxAge:   DefaultPendingMaxAge,
		channelTemplate: DefaultResponseChannelTemplate,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		e.renderer = templating.New(templating.WithLogger(e.logger))
	}
	return e
}

// Turn advances sess by one input. sess is mutated in place; the caller
// persists it. Only a ConfigurationError aborts the turn; every other failure
// is recorded in the parameters and in the action reports. An aborted turn
// leaves sess as it was plus the async responses correlated at its start,
// since those are acknowledged on the channel already.
func (e *Engine) Turn(ctx context.Context, sess *domain.Session, req domain.TurnRequest) (*domain.TurnResult, error) {
	started := e.now()
	sess.Normalize()
	before := sess.Clone()

	current, ok := e.states.State(sess.CurrentStateID)
	if !ok {
		return nil, domain.NewConfigurationError(sess.CurrentStateID, "current state does not exist")
	}
	current.ID = sess.CurrentStateID

	e.correlateStartOfTurn(ctx, sess)
	correlated := sess.Clone()

	result, err := e.turn(ctx, sess, req, before, current, started)
	if err != nil {
		*sess = *correlated
		return nil, err
	}
	return result, nil
}

func (e *Engine) turn(ctx context.Context, sess *domain.Session, req domain.TurnRequest, before *domain.Session, current domain.StateConfig, started time.Time) (*domain.TurnResult, error) {
	var err error
	previous := current.ID
	for k, v := range req.Parameters {
		sess.Parameters[k] = v
	}
	intent := req.Intent
	if intent == "" {
		intent = e.defaultIntent
	}

	res := ResolveNextState(current, intent, sess.Parameters)
	candidate := res.StateID
	if _, ok := e.states.State(candidate); !ok {
		return nil, domain.NewConfigurationError(previous, "transition target %q does not exist", candidate)
	}
	e.logger.DebugContext(ctx, "next state resolved", "session", sess.ID, "from", previous, "to", candidate, "reason", res.Reason, "intent", intent)

	var skipped []string
	if candidate != previous {
		path, found := FindSkippedStates(e.states, previous, candidate)
		if !found {
			e.logger.WarnContext(ctx, "no transition path to candidate; assuming no skipped states", "from", previous, "to", candidate)
		}
		var crossed []string
		if candidate, crossed, err = e.advance(ctx, previous, candidate, sess.Parameters); err != nil {
			return nil, err
		}
		skipped = append(path, crossed...)
	}

	planner := &Planner{States: e.states, APIs: e.apis, Renderer: e.renderer, Logger: e.logger}
	plan, err := planner.Collect(PlanInput{
		Params:           sess.Parameters,
		CandidateStateID: candidate,
		Skipped:          skipped,
		Entering:         candidate != previous || req.IsInitialCall || sess.PendingEntry == candidate,
		OwedEntryID:      sess.PendingEntry,
	})
	if err != nil {
		return nil, err
	}

	var syncActions, asyncActions []*domain.Action
	for _, a := range plan {
		if a.IsSync() {
			syncActions = append(syncActions, a)
		} else {
			asyncActions = append(asyncActions, a)
		}
	}

	graph := BuildGraph(syncActions, sess.Parameters, e.logger)
	order, cyclic := Schedule(graph, e.logger)
	if len(cyclic) > 0 {
		ids := make([]string, len(cyclic))
		for i, a := range cyclic {
			ids[i] = a.UniqueID
		}
		e.logger.WarnContext(ctx, "dependency cycle in plan", "session", sess.ID, "err", &domain.CycleError{Actions: ids})
	}

	final := candidate
	var forcedIntent string
	if forced := e.runSync(ctx, sess, order); forced != nil {
		final = forced.Target
		forcedIntent = forced.Intent
		for _, a := range asyncActions {
			a.Mark(domain.StatusSkipped, "flow redirected to "+final)
		}
		sess.PendingEntry = final
		skipped = nil
		e.logger.InfoContext(ctx, "flow redirected by script", "session", sess.ID, "from", candidate, "to", final)
	} else {
		e.dispatchAsync(ctx, sess, asyncActions)
		sess.PendingEntry = ""
	}

	if final != previous {
		e.emitStateLeave(ctx, sess.ID, previous)
		for _, id := range skipped {
			e.emitStateEnter(ctx, sess.ID, id, true)
		}
		e.emitStateEnter(ctx, sess.ID, final, false)
	} else if req.IsInitialCall {
		e.emitStateEnter(ctx, sess.ID, final, false)
	}
	sess.CurrentStateID = final
	sess.AppendHistory(final)

	e.correlateBeforeRender(ctx, sess)

	finalState, _ := e.states.State(final)
	result := &domain.TurnResult{
		SessionID:       sess.ID,
		PreviousStateID: previous,
		FinalStateID:    final,
		ParametersToCollect: domain.ParametersToCollect{
			Required: domain.MissingKeys(sess.Parameters, finalState.Parameters.Required),
			Optional: domain.MissingKeys(sess.Parameters, finalState.Parameters.Optional),
		},
		ForcedIntent: forcedIntent,
	}
	if len(finalState.PayloadResponse) > 0 {
		rendered, err := e.renderer.Render(ctx, finalState.PayloadResponse, sess.Parameters)
		if err != nil {
			e.logger.ErrorContext(ctx, "render payload failed", "state", final, "err", err)
		} else if m, ok := rendered.(map[string]any); ok {
			result.RenderedOutput = m
		}
	}

	sess.UpdatedAt = e.now().UTC()
	result.Parameters = domain.CopyParameters(sess.Parameters)
	result.Actions = make([]domain.ActionReport, len(plan))
	for i, a := range plan {
		result.Actions[i] = a.Report()
	}
	result.Delta = domain.Diff(before, sess)

	e.emitTurnCompleted(ctx, sess.ID, previous, final, e.now().Sub(started))
	return result, nil
}

// advance follows parameter-gated transitions from candidate while maxHops
// allows. It returns where it stopped and the states it passed through, in
// order, the first candidate included.
func (e *Engine) advance(ctx context.Context, previous, candidate string, params map[string]any) (string, []string, error) {
	visited := map[string]bool{previous: true, candidate: true}
	var crossed []string
	for hop := 0; hop < e.maxHops; hop++ {
		st, _ := e.states.State(candidate)
		st.ID = candidate
		next := ResolveNextState(st, "", params)
		if next.Reason != ReasonParametersMet && next.Reason != ReasonDefault {
			break
		}
		if visited[next.StateID] {
			break
		}
		if _, ok := e.states.State(next.StateID); !ok {
			return "", nil, domain.NewConfigurationError(candidate, "transition target %q does not exist", next.StateID)
		}
		e.logger.DebugContext(ctx, "auto-advanced past state", "state", candidate, "to", next.StateID, "reason", next.Reason)
		visited[next.StateID] = true
		crossed = append(crossed, candidate)
		candidate = next.StateID
	}
	return candidate, crossed, nil
}
