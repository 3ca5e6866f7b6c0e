package domain

import "sort"

// ActionKind is the type of external work an action performs.
type ActionKind string

const (
	ActionAPI    ActionKind = "api"
	ActionScript ActionKind = "script"
)

// ExecutionMode says whether the turn waits for the action.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// ActionStatus is the runtime outcome of a planned action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusDone       ActionStatus = "done"
	StatusError      ActionStatus = "error"
	StatusSkipped    ActionStatus = "skipped"
	StatusUnresolved ActionStatus = "unresolved"
	StatusCyclic     ActionStatus = "unresolved_cycle_or_dependency"
	StatusDispatched ActionStatus = "dispatched"
)

// Action is one planned invocation for the current turn. It is never persisted.
type Action struct {
	UniqueID      string
	Kind          ActionKind
	ID            string
	Mode          ExecutionMode
	OriginStateID string

	Consumes []Binding
	// Produces maps output names to paths inside the raw result.
	Produces map[string]string
	// AssignTo receives the whole script output.
	AssignTo string
	Script   *ScriptRef

	WaitPolicy            *WaitPolicy
	AllowForceTransition  bool
	AssignCorrelationIDTo string

	// Induced marks actions added because the outbound payload needs one of their outputs.
	Induced           bool
	CriticalForPrompt bool

	Status ActionStatus
	Err    string
}

// IsSync reports whether the turn waits for the action.
func (a *Action) IsSync() bool {
	return a.Mode != ModeAsync
}

// ProducedNames lists every parameter name the action writes, sorted.
func (a *Action) ProducedNames() []string {
	names := make([]string, 0, len(a.Produces)+1)
	for name := range a.Produces {
		names = append(names, name)
	}
	if a.AssignTo != "" {
		if _, dup := a.Produces[a.AssignTo]; !dup {
			names = append(names, a.AssignTo)
		}
	}
	sort.Strings(names)
	return names
}

// Mark sets the runtime status and an optional reason.
func (a *Action) Mark(status ActionStatus, reason string) {
	a.Status = status
	a.Err = reason
}

// Report converts the action into its externally visible summary.
func (a *Action) Report() ActionReport {
	return ActionReport{
		UniqueID:      a.UniqueID,
		ID:            a.ID,
		Kind:          a.Kind,
		Mode:          a.Mode,
		OriginStateID: a.OriginStateID,
		Induced:       a.Induced,
		Status:        a.Status,
		Error:         a.Err,
	}
}

// ActionReport is the per-action trace returned with a turn.
type ActionReport struct {
	UniqueID      string        `json:"unique_id"`
	ID            string        `json:"id"`
	Kind          ActionKind    `json:"kind"`
	Mode          ExecutionMode `json:"mode"`
	OriginStateID string        `json:"origin_state_id"`
	Induced       bool          `json:"induced,omitempty"`
	Status        ActionStatus  `json:"status"`
	Error         string        `json:"error,omitempty"`
}
