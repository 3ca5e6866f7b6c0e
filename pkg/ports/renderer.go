package ports

import "context"

// Renderer renders templates against a parameter map.
type Renderer interface {
	// Render walks tmpl (string, map or list) and returns the rendered copy.
	Render(ctx context.Context, tmpl any, params map[string]any) (any, error)

	// Placeholders returns every parameter name tmpl references, deduplicated in order of appearance.
	Placeholders(tmpl any) []string
}
