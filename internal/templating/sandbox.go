package templating

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// evalSandbox runs code in a fresh goja runtime with only a copy of params in scope.
// The runtime has no require, console or host bindings.
func evalSandbox(code string, params map[string]any, timeout time.Duration) (string, error) {
	safe, err := plainCopy(params)
	if err != nil {
		return "", fmt.Errorf("copy params: %w", err)
	}

	vm := goja.New()
	if err := vm.Set("params", safe); err != nil {
		return "", err
	}

	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt("sandbox timeout")
		})
		defer timer.Stop()
	}

	val, err := vm.RunString(code)
	if err != nil {
		return "", err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	return Stringify(val.Export()), nil
}

// plainCopy round-trips through JSON so the sandbox only ever sees plain data.
func plainCopy(params map[string]any) (map[string]any, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
