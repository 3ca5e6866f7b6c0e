package domain

// CallStatus is the outcome of an API call.
type CallStatus string

const (
	CallSuccess         CallStatus = "success"
	CallError           CallStatus = "error"
	CallTimeoutFallback CallStatus = "timeout_fallback"
)

// CallResult is the raw result of a synchronous or correlated asynchronous API call.
type CallResult struct {
	Status       CallStatus `json:"status"`
	HTTPCode     int        `json:"httpCode,omitempty"`
	Data         any        `json:"data,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	IsTimeout    bool       `json:"isTimeout"`
}

// OK reports a successful call.
func (r CallResult) OK() bool {
	return r.Status == CallSuccess
}

// View returns the result as a plain map so output paths can address any field.
func (r CallResult) View() map[string]any {
	v := map[string]any{
		"status":    string(r.Status),
		"data":      r.Data,
		"isTimeout": r.IsTimeout,
	}
	if r.HTTPCode != 0 {
		v["httpCode"] = r.HTTPCode
	}
	if r.ErrorMessage != "" {
		v["errorMessage"] = r.ErrorMessage
	}
	return v
}

// Script envelope statuses.
const (
	ScriptStatusSuccess         = "SUCCESS"
	ScriptStatusError           = "ERROR"
	ScriptStatusForceTransition = "FORCE_TRANSITION"
)

// ScriptOutcome is the tagged result of a script: ScriptSuccess, ScriptError or ForceTransition.
type ScriptOutcome interface {
	scriptOutcome()
}

// ScriptSuccess carries the script output.
type ScriptSuccess struct {
	Value any
}

// ScriptError is a handled failure reported by the script itself.
type ScriptError struct {
	Message string
	Code    string
}

// ForceTransition asks the engine to move to Target instead of the resolved state.
type ForceTransition struct {
	Target string
	Intent string
	Params map[string]any
}

func (ScriptSuccess) scriptOutcome()   {}
func (ScriptError) scriptOutcome()     {}
func (ForceTransition) scriptOutcome() {}
