// Package script runs user scripts with goja.
//
// A script is a CommonJS-style file whose module.exports holds functions
// called as fn(params, logger, sessionId). A function may return a bare
// value or an envelope:
//
//	{status: "SUCCESS", output: ...}
//	{status: "ERROR", message: "...", code: "..."}
//	{status: "FORCE_TRANSITION", target: "state", intent: "...", params: {...}}
//
// A returned promise must settle before the call returns; there is no event loop.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/mitchellh/mapstructure"
	cache "github.com/patrickmn/go-cache"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 2 * time.Second

// ErrScriptNotFound is returned when the script file does not exist.
var ErrScriptNotFound = errors.New("script not found")

type compiled struct {
	program *goja.Program
	modTime time.Time
}

// Runner implements ports.ScriptRunner.
type Runner struct {
	dir      string
	timeout  time.Duration
	programs *cache.Cache
	logger   *slog.Logger
}

// Option configures the Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the logger. Scripts log through it as well.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner resolving script files under dir.
func New(dir string, opts ...Option) *Runner {
	r := &Runner{
		dir:      dir,
		timeout:  DefaultTimeout,
		programs: cache.New(30*time.Minute, 10*time.Minute),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate drops every compiled program.
func (r *Runner) Invalidate() {
	r.programs.Flush()
}

// Run loads ref.File, calls ref.Function and decodes what it returns.
func (r *Runner) Run(ctx context.Context, ref domain.ScriptRef, params map[string]any, sessionID string) (domain.ScriptOutcome, error) {
	program, err := r.load(ref.File)
	if err != nil {
		return nil, err
	}

	args, err := plain(params)
	if err != nil {
		return nil, fmt.Errorf("copy params: %w", err)
	}

	vm := goja.New()
	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)

	stop := r.arm(ctx, vm)
	defer stop()

	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("load %s: %w", ref.File, err)
	}

	fn, err := lookup(vm, module, ref.Function)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.File, err)
	}

	scriptLogger := r.logger.With("script", ref.File, "function", ref.Function, "session_id", sessionID)
	started := time.Now()
	val, err := fn(goja.Undefined(), vm.ToValue(args), newConsole(ctx, vm, scriptLogger), vm.ToValue(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.File, ref.Function, err)
	}
	val, err = settle(val)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", ref.File, ref.Function, err)
	}
	scriptLogger.Debug("script executed", "duration", time.Since(started))

	var exported any
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		exported = val.Export()
	}
	return decodeOutcome(exported)
}

// arm interrupts the VM on timeout or cancellation. The returned func disarms it.
func (r *Runner) arm(ctx context.Context, vm *goja.Runtime) func() {
	var timer *time.Timer
	if r.timeout > 0 {
		timer = time.AfterFunc(r.timeout, func() {
			vm.Interrupt("script timeout")
		})
	}
	stopCtx := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	return func() {
		if timer != nil {
			timer.Stop()
		}
		stopCtx()
	}
}

func (r *Runner) load(file string) (*goja.Program, error) {
	path, err := r.resolve(file)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, file)
		}
		return nil, err
	}

	if c, ok := r.programs.Get(path); ok {
		if entry := c.(compiled); entry.modTime.Equal(info.ModTime()) {
			return entry.program, nil
		}
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", file, err)
	}
	program, err := goja.Compile(file, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", file, err)
	}
	r.programs.SetDefault(path, compiled{program: program, modTime: info.ModTime()})
	r.logger.Debug("script compiled", "script", file)
	return program, nil
}

// resolve joins file to the script directory, refusing paths that leave it.
func (r *Runner) resolve(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("script file is empty")
	}
	if filepath.Ext(file) == "" {
		file += ".js"
	}
	path := filepath.Join(r.dir, filepath.FromSlash(file))
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("script %q is outside the scripts directory", file)
	}
	return path, nil
}

func lookup(vm *goja.Runtime, module *goja.Object, name string) (goja.Callable, error) {
	exports := module.Get("exports")
	if name == "" {
		if fn, ok := goja.AssertFunction(exports); ok {
			return fn, nil
		}
		return nil, fmt.Errorf("module.exports is not a function and no function name was given")
	}
	obj := exports.ToObject(vm)
	if fn, ok := goja.AssertFunction(obj.Get(name)); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("function %q not found in module.exports", name)
}

// settle unwraps a promise that has already resolved.
func settle(val goja.Value) (goja.Value, error) {
	if val == nil {
		return nil, nil
	}
	p, ok := val.Export().(*goja.Promise)
	if !ok {
		return val, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %v", p.Result())
	default:
		return nil, fmt.Errorf("promise did not settle")
	}
}

// envelope is the {status, ...} shape scripts may return.
type envelope struct {
	Status    string         `mapstructure:"status"`
	Output    any            `mapstructure:"output"`
	Message   string         `mapstructure:"message"`
	Code      string         `mapstructure:"code"`
	ErrorCode string         `mapstructure:"errorCode"`
	Target    string         `mapstructure:"target"`
	Intent    string         `mapstructure:"intent"`
	Params    map[string]any `mapstructure:"params"`
}

func decodeOutcome(v any) (domain.ScriptOutcome, error) {
	value, err := plainValue(v)
	if err != nil {
		return nil, fmt.Errorf("script result: %w", err)
	}
	m, ok := value.(map[string]any)
	if !ok {
		return domain.ScriptSuccess{Value: value}, nil
	}
	status, _ := m["status"].(string)
	switch strings.ToUpper(status) {
	case domain.ScriptStatusSuccess, domain.ScriptStatusError, domain.ScriptStatusForceTransition:
	default:
		return domain.ScriptSuccess{Value: value}, nil
	}

	var env envelope
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &env, WeaklyTypedInput: true})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("script envelope: %w", err)
	}

	switch strings.ToUpper(env.Status) {
	case domain.ScriptStatusError:
		code := env.Code
		if code == "" {
			code = env.ErrorCode
		}
		return domain.ScriptError{Message: env.Message, Code: code}, nil
	case domain.ScriptStatusForceTransition:
		if env.Target == "" {
			return nil, fmt.Errorf("FORCE_TRANSITION without target")
		}
		return domain.ForceTransition{Target: env.Target, Intent: env.Intent, Params: env.Params}, nil
	default:
		return domain.ScriptSuccess{Value: env.Output}, nil
	}
}

// plain round-trips params through JSON so scripts only see plain data.
func plain(params map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if len(params) == 0 {
		return out, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return out, json.Unmarshal(b, &out)
}

func plainValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	return out, json.Unmarshal(b, &out)
}
