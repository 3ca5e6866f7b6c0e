// Package templating renders outbound payloads and API request templates.
//
// Supported syntax, applied in this order:
//
//	{{current_date}} {{current_time}} {{current_datetime}}
//	{{sandbox_js: <expression>}}      evaluated in an isolated goja runtime
//	{{fn(arg, 'literal', 2)}}         helper functions (default, toUpperCase, ...)
//	{{param}}                         parameter substitution, empty when missing
//
// Maps and lists are rendered recursively. A string consisting of exactly one
// {{param}} placeholder keeps the raw parameter value instead of its string form.
package templating

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	paramPattern    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	wholePattern    = regexp.MustCompile(`^\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}$`)
	funcPattern     = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\(([^)]*)\)\}\}`)
	sandboxPattern  = regexp.MustCompile(`\{\{sandbox_js:\s*([\s\S]+?)\s*\}\}`)
	argPattern      = regexp.MustCompile(`\b(true|false)\b|([a-zA-Z_][a-zA-Z0-9_]*)|"([^"]*)"|'([^']*)'|([0-9]+\.?[0-9]*)`)
	dateMacroTokens = map[string]bool{"current_date": true, "current_time": true, "current_datetime": true}
)

// DefaultSandboxTimeout bounds a single sandbox_js evaluation.
const DefaultSandboxTimeout = 100 * time.Millisecond

// Renderer implements ports.Renderer.
type Renderer struct {
	now            func() time.Time
	sandboxTimeout time.Duration
	sandbox        bool
	logger         *slog.Logger
}

// Option configures the Renderer.
type Option func(*Renderer)

// WithClock overrides the time source used by the date macros.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

// WithSandboxTimeout sets the time limit of sandbox_js evaluations.
func WithSandboxTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		r.sandboxTimeout = d
	}
}

// WithoutSandbox disables sandbox_js; matching placeholders are left untouched.
func WithoutSandbox() Option {
	return func(r *Renderer) {
		r.sandbox = false
	}
}

// WithLogger sets the logger used to report helper and sandbox failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// New creates a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		now:            time.Now,
		sandboxTimeout: DefaultSandboxTimeout,
		sandbox:        true,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render walks tmpl and returns a rendered copy. It never mutates tmpl.
func (r *Renderer) Render(ctx context.Context, tmpl any, params map[string]any) (any, error) {
	switch v := tmpl.(type) {
	case string:
		return r.renderString(v, params), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			rendered, err := r.Render(ctx, item, params)
			if err != nil {
				return nil, fmt.Errorf("render %q: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = Stringify(r.renderString(item, params))
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := r.Render(ctx, item, params)
			if err != nil {
				return nil, fmt.Errorf("render [%d]: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.renderString(item, params)
		}
		return out, nil
	default:
		return tmpl, nil
	}
}

// RenderString renders a single string template and always returns a string.
func (r *Renderer) RenderString(text string, params map[string]any) string {
	return Stringify(r.renderString(text, params))
}

func (r *Renderer) renderString(text string, params map[string]any) any {
	if !strings.Contains(text, "{{") {
		return text
	}
	if m := wholePattern.FindStringSubmatch(text); m != nil && !dateMacroTokens[m[1]] {
		if v, ok := params[m[1]]; ok && v != nil {
			return v
		}
		return ""
	}

	out := r.replaceDates(text)

	if r.sandbox {
		out = sandboxPattern.ReplaceAllStringFunc(out, func(match string) string {
			code := sandboxPattern.FindStringSubmatch(match)[1]
			result, err := evalSandbox(code, params, r.sandboxTimeout)
			if err != nil {
				r.logger.Warn("sandbox_js evaluation failed", "err", err)
				return fmt.Sprintf("[JS_SANDBOX_ERROR: %s]", truncate(err.Error(), 100))
			}
			return result
		})
	}

	out = funcPattern.ReplaceAllStringFunc(out, func(match string) string {
		m := funcPattern.FindStringSubmatch(match)
		name, rawArgs := m[1], m[2]
		fn, ok := helpers[name]
		if !ok {
			return fmt.Sprintf("[ERROR: unknown function '%s']", name)
		}
		return Stringify(fn(resolveArgs(parseArgs(rawArgs), params)...))
	})

	return paramPattern.ReplaceAllStringFunc(out, func(match string) string {
		name := paramPattern.FindStringSubmatch(match)[1]
		return Stringify(params[name])
	})
}

func (r *Renderer) replaceDates(text string) string {
	if !strings.Contains(text, "{{current_") {
		return text
	}
	now := r.now()
	return strings.NewReplacer(
		"{{current_date}}", now.Format("2006-01-02"),
		"{{current_time}}", now.Format("15:04:05"),
		"{{current_datetime}}", now.Format("2006-01-02 15:04:05"),
	).Replace(text)
}

// Placeholders returns the parameter names tmpl references, in order of appearance.
func (r *Renderer) Placeholders(tmpl any) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if dateMacroTokens[name] || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, m := range funcPattern.FindAllStringSubmatch(val, -1) {
				for _, a := range parseArgs(m[2]) {
					if a.kind == argParam {
						add(a.text)
					}
				}
			}
			for _, m := range paramPattern.FindAllStringSubmatch(val, -1) {
				add(m[1])
			}
		case map[string]any:
			for _, k := range sortedKeys(val) {
				walk(val[k])
			}
		case map[string]string:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		case []string:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(tmpl)
	return names
}

// Stringify converts a parameter value into its template text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
