package domain

// TurnRequest is one input to a conversation.
type TurnRequest struct {
	SessionID     string         `json:"session_id"`
	Intent        string         `json:"intent,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	IsInitialCall bool           `json:"is_initial_call,omitempty"`
}

// ParametersToCollect lists what the final state still needs from the user.
type ParametersToCollect struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

// TurnResult is returned to the front-end after every turn, even on partial failure.
type TurnResult struct {
	SessionID           string              `json:"session_id"`
	PreviousStateID     string              `json:"previous_state_id"`
	FinalStateID        string              `json:"final_state_id"`
	ParametersToCollect ParametersToCollect `json:"parameters_to_collect"`
	RenderedOutput      map[string]any      `json:"rendered_output,omitempty"`
	Parameters          map[string]any      `json:"parameters"`
	Actions             []ActionReport      `json:"actions,omitempty"`
	Delta               *ParameterDelta     `json:"delta,omitempty"`
	// ForcedIntent is set when a script redirected the flow with an intent.
	ForcedIntent string `json:"forced_intent,omitempty"`
}
