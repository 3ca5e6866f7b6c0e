package domain

// Reserved parameter namespaces.
const (
	// APIResultsKey holds raw API results keyed by action id.
	APIResultsKey = "api_results"
	// ScriptResultsKey holds raw script results keyed by action id.
	ScriptResultsKey = "script_results"
)

// IsPresent reports whether key holds a usable value: present, not nil and not "".
func IsPresent(params map[string]any, key string) bool {
	v, ok := params[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString && s == "" {
		return false
	}
	return true
}

// MissingKeys returns the keys of want that are not present in params, preserving order.
func MissingKeys(params map[string]any, want []string) []string {
	missing := make([]string, 0)
	for _, k := range want {
		if !IsPresent(params, k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// SetResult stores a raw result under namespace[actionID].
func SetResult(params map[string]any, namespace, actionID string, result any) {
	ns, ok := params[namespace].(map[string]any)
	if !ok {
		ns = make(map[string]any)
		params[namespace] = ns
	}
	ns[actionID] = result
}

// Result returns the raw result stored for actionID in namespace.
func Result(params map[string]any, namespace, actionID string) (any, bool) {
	ns, ok := params[namespace].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := ns[actionID]
	return v, ok
}

// CopyParameters deep-copies nested maps and slices.
func CopyParameters(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyParameters(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = copyValue(item)
		}
		return cp
	default:
		return val
	}
}
