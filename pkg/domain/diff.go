package domain

import (
	"reflect"
)

// ParameterDelta represents the changes a turn made to a session.
// It is designed to be serialized to JSON for partial updates on the client.
type ParameterDelta struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	CurrentStateID *string `json:"current_state_id,omitempty"`

	// Parameters contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Parameters map[string]any `json:"parameters,omitempty"`

	History *HistoryDelta `json:"history,omitempty"`

	// Pending counts asynchronous responses still outstanding, when it changed.
	Pending *int `json:"pending,omitempty"`
}

// HistoryDelta represents changes to the history stack.
type HistoryDelta struct {
	Appended []string `json:"appended"`
}

// Diff calculates the difference between oldSession and newSession.
// If oldSession is nil, it returns a delta representing the entire newSession.
func Diff(oldSession, newSession *Session) *ParameterDelta {
	if newSession == nil {
		return nil
	}

	delta := &ParameterDelta{SessionID: newSession.ID}

	if oldSession == nil || oldSession.CurrentStateID != newSession.CurrentStateID {
		id := newSession.CurrentStateID
		delta.CurrentStateID = &id
	}
	if oldSession == nil || len(oldSession.PendingAPIResponses) != len(newSession.PendingAPIResponses) {
		n := len(newSession.PendingAPIResponses)
		delta.Pending = &n
	}

	delta.Parameters = diffParameters(oldSession, newSession)
	delta.History = diffHistory(oldSession, newSession)

	if delta.IsEmpty() {
		return nil
	}
	return delta
}

func diffParameters(old *Session, new *Session) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Parameters {
			delta[k] = v
		}
		return nilIfEmpty(delta)
	}

	for k, newVal := range new.Parameters {
		oldVal, exists := old.Parameters[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}
	for k := range old.Parameters {
		if _, exists := new.Parameters[k]; !exists {
			delta[k] = nil
		}
	}
	return nilIfEmpty(delta)
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// diffHistory assumes append-only history.
func diffHistory(old *Session, new *Session) *HistoryDelta {
	if len(new.History) == 0 {
		return nil
	}
	if old == nil {
		return &HistoryDelta{Appended: append([]string(nil), new.History...)}
	}
	if len(new.History) > len(old.History) {
		return &HistoryDelta{Appended: append([]string(nil), new.History[len(old.History):]...)}
	}
	return nil
}

// IsEmpty checks if the delta contains any actionable changes.
func (d *ParameterDelta) IsEmpty() bool {
	return d.CurrentStateID == nil &&
		d.Pending == nil &&
		len(d.Parameters) == 0 &&
		d.History == nil
}
