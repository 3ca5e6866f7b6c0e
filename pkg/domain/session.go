package domain

import (
	"time"
)

// Session represents the persisted snapshot of one conversation.
type Session struct {
	// ID is the opaque identifier supplied by the caller.
	ID string `json:"id"`

	// CurrentStateID is the state the FSM currently occupies.
	CurrentStateID string `json:"currentStateId"`

	// Parameters is the single mutable scratchpad every action reads from and writes to.
	Parameters map[string]any `json:"parameters"`

	// History is the adjacent-deduplicated sequence of visited states.
	History []string `json:"history"`

	// PendingAPIResponses is keyed by correlation id.
	PendingAPIResponses map[string]PendingResponse `json:"pendingApiResponses"`

	// PendingEntry names a state whose entry actions are still owed, which happens
	// when a script redirected the flow and ended the previous turn early.
	PendingEntry string `json:"pendingEntry,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession creates a clean session positioned at the initial state.
func NewSession(id, initialStateID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:                  id,
		CurrentStateID:      initialStateID,
		Parameters:          make(map[string]any),
		History:             []string{initialStateID},
		PendingAPIResponses: make(map[string]PendingResponse),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Normalize fills nil maps, which happens for records written by older versions.
func (s *Session) Normalize() {
	if s.Parameters == nil {
		s.Parameters = make(map[string]any)
	}
	if s.PendingAPIResponses == nil {
		s.PendingAPIResponses = make(map[string]PendingResponse)
	}
}

// AppendHistory records a visit unless it repeats the last entry.
func (s *Session) AppendHistory(stateID string) bool {
	if n := len(s.History); n > 0 && s.History[n-1] == stateID {
		return false
	}
	s.History = append(s.History, stateID)
	return true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Parameters = CopyParameters(s.Parameters)
	c.History = append([]string(nil), s.History...)
	c.PendingAPIResponses = make(map[string]PendingResponse, len(s.PendingAPIResponses))
	for k, v := range s.PendingAPIResponses {
		c.PendingAPIResponses[k] = v
	}
	return &c
}

// View exposes the session as a plain map, used to resolve session-sourced bindings.
func (s *Session) View() map[string]any {
	history := make([]any, len(s.History))
	for i, h := range s.History {
		history[i] = h
	}
	return map[string]any{
		"id":               s.ID,
		"current_state_id": s.CurrentStateID,
		"history":          history,
	}
}
