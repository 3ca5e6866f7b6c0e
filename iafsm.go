package iafsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/egorky/iafsm/internal/config"
	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/pkg/adapters/apicall"
	loamAdapter "github.com/egorky/iafsm/pkg/adapters/loam"
	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/adapters/script"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/egorky/iafsm/pkg/session"
)

// Engine is the high-level entry point of the library. It wires the
// configuration catalog, the session manager and the runtime, and runs
// turns with per-session serialization and persistence.
type Engine struct {
	Name string

	catalog  *config.Catalog
	source   ports.ConfigSource
	runtime  *runtime.Engine
	sessions *session.Manager
	logger   *slog.Logger

	store      ports.SessionStore
	locker     ports.DistributedLocker
	streams    ports.StreamTransport
	caller     ports.APICaller
	dispatcher ports.APIDispatcher
	scripts    ports.ScriptRunner
	hooks      domain.LifecycleHooks

	strict       bool
	scriptsDir   string
	runtimeOpts  []runtime.Option
	sessionOpts  []session.Option
	inflight     *apicall.StreamingDispatcher
	scriptRunner *script.Runner
}

// Option configures the Engine.
type Option func(*Engine)

// WithSource injects a configuration source, bypassing directory detection.
func WithSource(src ports.ConfigSource) Option {
	return func(e *Engine) {
		e.source = src
	}
}

// WithSessionStore sets where sessions are persisted (default: in memory).
func WithSessionStore(store ports.SessionStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker serializes turns across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithStreams sets the transport for async responses (default: in memory).
func WithStreams(t ports.StreamTransport) Option {
	return func(e *Engine) {
		e.streams = t
	}
}

// WithAPICaller replaces the HTTP caller for sync API actions.
func WithAPICaller(c ports.APICaller) Option {
	return func(e *Engine) {
		e.caller = c
	}
}

// WithDispatcher replaces the dispatcher for async API actions.
func WithDispatcher(d ports.APIDispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithScriptRunner replaces the goja script runner.
func WithScriptRunner(r ports.ScriptRunner) Option {
	return func(e *Engine) {
		e.scripts = r
	}
}

// WithScriptsDir sets the directory scripts are resolved against.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStrict makes configuration lint warnings fatal.
func WithStrict(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithDefaultIntent sets the intent used when a turn carries none.
func WithDefaultIntent(intent string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithDefaultIntent(intent))
	}
}

// WithAutoAdvance lets a turn continue through states whose conditions are
// already met, up to hops extra states.
func WithAutoAdvance(hops int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithAutoAdvance(hops))
	}
}

// WithPendingMaxAge bounds how long a response without a wait point is
// waited for across turns. Zero waits forever.
func WithPendingMaxAge(d time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithPendingMaxAge(d))
	}
}

// WithConsumerGroup sets the stream consumer group and consumer name.
func WithConsumerGroup(group, consumer string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithConsumerGroup(group, consumer))
	}
}

// WithResponseChannelTemplate overrides the default async response channel.
func WithResponseChannelTemplate(tmpl string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithResponseChannelTemplate(tmpl))
	}
}

// WithRuntimeOptions passes options straight to the runtime.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, opts...)
	}
}

// WithSessionTTL sets how long idle sessions are kept. Zero keeps them forever.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.sessionOpts = append(e.sessionOpts, session.WithTTL(ttl))
	}
}

// WithDurableWrites makes ProcessTurn wait for the session write.
func WithDurableWrites() Option {
	return func(e *Engine) {
		e.sessionOpts = append(e.sessionOpts, session.WithDurableWrites())
	}
}

// WithPersistCallback is told about every background session write.
func WithPersistCallback(fn session.PersistCallback) Option {
	return func(e *Engine) {
		e.sessionOpts = append(e.sessionOpts, session.WithPersistCallback(fn))
	}
}

// New initializes an Engine from the configuration at dir.
// A directory holding states.{json,yaml,yml} is read as plain files;
// anything else is opened as a loam document tree. With WithSource, dir
// only names the engine.
func New(dir string, opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	if eng.source == nil {
		if dir == "" {
			return nil, errors.New("configuration directory is required when no source is provided")
		}
		src, err := openSource(dir, eng.logger)
		if err != nil {
			return nil, err
		}
		eng.source = src
	}
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			eng.Name = filepath.Base(abs)
		}
		eng.logger = eng.logger.With("engine", eng.Name)
	}
	if eng.scriptsDir == "" && dir != "" {
		eng.scriptsDir = filepath.Join(dir, config.ScriptsDir)
	}

	eng.defaults()

	catalogOpts := []config.Option{
		config.WithLogger(eng.logger),
		config.WithStrict(eng.strict),
	}
	if eng.scriptRunner != nil {
		catalogOpts = append(catalogOpts, config.WithReloadHook(eng.scriptRunner.Invalidate))
	}
	catalog, err := config.New(context.Background(), eng.source, catalogOpts...)
	if err != nil {
		return nil, err
	}
	eng.catalog = catalog

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithStreams(eng.streams),
		runtime.WithAPICaller(eng.caller),
		runtime.WithDispatcher(eng.dispatcher),
	}
	if eng.scripts != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithScriptRunner(eng.scripts))
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)
	eng.runtime = runtime.NewEngine(catalog, catalog, runtimeOpts...)

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	sessionOpts = append(sessionOpts, eng.sessionOpts...)
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	return eng, nil
}

// defaults fills every collaborator the caller did not inject.
func (e *Engine) defaults() {
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.streams == nil {
		e.streams = memory.NewStreams()
	}
	if e.caller == nil {
		e.caller = apicall.NewCaller(apicall.WithLogger(e.logger))
	}
	if e.dispatcher == nil {
		e.inflight = apicall.NewStreamingDispatcher(e.caller, e.streams, apicall.WithDispatchLogger(e.logger))
		e.dispatcher = e.inflight
	}
	if e.scripts == nil && e.scriptsDir != "" {
		e.scriptRunner = script.New(e.scriptsDir, script.WithLogger(e.logger))
		e.scripts = e.scriptRunner
	}
}

func openSource(dir string, logger *slog.Logger) (ports.ConfigSource, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if _, err := os.Stat(filepath.Join(dir, config.StatesBaseName+ext)); err == nil {
			return config.NewFileSource(dir, config.WithFileLogger(logger)), nil
		}
	}
	src, err := loamAdapter.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	return src, nil
}

// ProcessTurn runs one turn for req.SessionID, starting the session at the
// initial state when it does not exist yet.
func (e *Engine) ProcessTurn(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	if req.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	return e.sessions.Process(ctx, req.SessionID, e.catalog.InitialStateID(), func(ctx context.Context, sess *domain.Session) (*domain.TurnResult, error) {
		return e.runtime.Turn(ctx, sess, req)
	})
}

// Session returns the stored session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Load(ctx, sessionID)
}

// StartSession creates a session at the initial state and stores it right
// away, or returns the stored one when the id is taken.
func (e *Engine) StartSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return e.sessions.LoadOrStart(ctx, sessionID, e.catalog.InitialStateID())
}

// DeleteSession removes a session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// ListSessions returns the ids of live sessions.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Catalog exposes the read-only configuration.
func (e *Engine) Catalog() *config.Catalog {
	return e.catalog
}

// Document returns the active states document.
func (e *Engine) Document() domain.StatesDocument {
	return e.catalog.Document()
}

// Lint returns the warnings of the active configuration, such as
// unreachable states.
func (e *Engine) Lint() []string {
	return config.Validate(e.catalog.Document(), e.catalog.APIDefinitions()).Warnings
}

// Streams returns the transport async responses travel on.
func (e *Engine) Streams() ports.StreamTransport {
	return e.streams
}

// Reload re-reads the configuration. The previous one stays active on error.
func (e *Engine) Reload(ctx context.Context) error {
	return e.catalog.Reload(ctx)
}

// Watch reloads the configuration whenever its source changes and reports
// each successful reload on the returned channel.
func (e *Engine) Watch(ctx context.Context) (<-chan string, error) {
	w, ok := e.source.(ports.Watchable)
	if !ok {
		return nil, fmt.Errorf("configuration source %T does not support watching", e.source)
	}
	return e.catalog.Watch(ctx, w)
}

// Close waits for background session writes and in-flight async calls.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.sessions.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session writes: %w", err))
	}
	if e.inflight != nil {
		if err := e.inflight.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("async calls: %w", err))
		}
	}
	return errors.Join(errs...)
}
