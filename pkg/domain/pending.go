package domain

import "time"

// WaitPoint says when a turn should block on a pending asynchronous response.
type WaitPoint string

const (
	// WaitNone never blocks; the response is drained opportunistically.
	WaitNone WaitPoint = ""
	// WaitNextTurn blocks at the start of the turn that follows the dispatch.
	WaitNextTurn WaitPoint = "next_turn"
	// WaitBeforeRender blocks before the outbound payload of the dispatching turn is rendered.
	WaitBeforeRender WaitPoint = "before_render"
)

// WaitPolicy configures a bounded wait for an asynchronous response.
type WaitPolicy struct {
	Point     WaitPoint      `json:"point,omitempty" yaml:"point,omitempty" mapstructure:"point"`
	TimeoutMs int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	Fallback  map[string]any `json:"fallback,omitempty" yaml:"fallback,omitempty" mapstructure:"fallback"`
}

// Timeout returns the wait bound as a duration.
func (w *WaitPolicy) Timeout() time.Duration {
	if w == nil || w.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// WaitsAt reports whether the policy blocks at the given point.
func (w *WaitPolicy) WaitsAt(p WaitPoint) bool {
	return w != nil && p != WaitNone && w.Point == p
}

// PendingResponse tracks an asynchronous dispatch until its response is consumed or times out.
type PendingResponse struct {
	ActionID           string            `json:"actionId"`
	ResponseChannelKey string            `json:"responseChannelKey"`
	RequestedAt        time.Time         `json:"requestedAt"`
	OriginStateID      string            `json:"originStateId,omitempty"`
	Produces           map[string]string `json:"produces,omitempty"`
	WaitPolicy         *WaitPolicy       `json:"waitPolicy,omitempty"`
}
