package runtime

import (
	"strings"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/oliveagle/jsonpath"
)

// resolveBindings builds the parameters handed to a call: a copy of the
// session parameters with every bound value set under its binding name.
// It returns the names of required bindings that could not be resolved.
func resolveBindings(a *domain.Action, params map[string]any, sessionView map[string]any) (map[string]any, []string) {
	bound := domain.CopyParameters(params)
	var missing []string
	for _, b := range a.Consumes {
		v, ok := bindingValue(b, params, sessionView)
		if !ok {
			if !b.Optional {
				missing = append(missing, b.Name)
			}
			continue
		}
		bound[b.Name] = v
	}
	return bound, missing
}

func bindingValue(b domain.Binding, params map[string]any, sessionView map[string]any) (any, bool) {
	switch b.Source() {
	case domain.SourceStatic:
		return b.Value, true
	case domain.SourceSession:
		path := b.SourceKey()
		if !strings.HasPrefix(path, "$") {
			path = "$." + path
		}
		v, err := jsonpath.JsonPathLookup(sessionView, path)
		if err != nil || v == nil {
			return nil, false
		}
		return v, true
	default:
		key := b.SourceKey()
		if !domain.IsPresent(params, key) {
			return nil, false
		}
		return params[key], true
	}
}

// mapOutputs copies every produced output found in view into params.
// Bare paths are relative to root unless they start with a top-level key of view.
// It returns the names whose path did not resolve.
func mapOutputs(view map[string]any, root string, produces map[string]string, params map[string]any) []string {
	var missing []string
	for name, path := range produces {
		v, err := jsonpath.JsonPathLookup(view, outputPath(view, root, name, path))
		if err != nil || v == nil {
			missing = append(missing, name)
			continue
		}
		params[name] = v
	}
	return missing
}

func outputPath(view map[string]any, root, name, path string) string {
	switch {
	case path == "":
		return "$." + root + "." + name
	case strings.HasPrefix(path, "$"):
		return path
	}
	head := path
	if i := strings.IndexAny(path, ".["); i >= 0 {
		head = path[:i]
	}
	if _, top := view[head]; top {
		return "$." + path
	}
	return "$." + root + "." + path
}

func allPresent(params map[string]any, names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if !domain.IsPresent(params, n) {
			return false
		}
	}
	return true
}
