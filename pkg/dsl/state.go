package dsl

import "github.com/egorky/iafsm/pkg/domain"

// StateBuilder provides a fluent API for configuring a state.
type StateBuilder struct {
	state domain.StateConfig
}

// Describe sets the state description.
func (s *StateBuilder) Describe(text string) *StateBuilder {
	s.state.Description = text
	return s
}

// Require adds parameters the state collects.
func (s *StateBuilder) Require(params ...string) *StateBuilder {
	s.state.Parameters.Required = append(s.state.Parameters.Required, params...)
	return s
}

// Optional adds parameters the state accepts but does not wait for.
func (s *StateBuilder) Optional(params ...string) *StateBuilder {
	s.state.Parameters.Optional = append(s.state.Parameters.Optional, params...)
	return s
}

// On adds a transition taken when the turn carries intent.
func (s *StateBuilder) On(intent, target string) *StateBuilder {
	s.state.Transitions = append(s.state.Transitions, domain.Transition{
		NextState: target,
		Condition: domain.Condition{Intent: intent},
	})
	return s
}

// WhenComplete adds a transition taken once every required parameter is present.
func (s *StateBuilder) WhenComplete(target string) *StateBuilder {
	met := true
	s.state.Transitions = append(s.state.Transitions, domain.Transition{
		NextState: target,
		Condition: domain.Condition{AllParametersMet: &met},
	})
	return s
}

// Default sets the state reached when no transition matches.
func (s *StateBuilder) Default(target string) *StateBuilder {
	s.state.DefaultNextState = target
	return s
}

// Prompt sets the "prompt" field of the payload.
func (s *StateBuilder) Prompt(template string) *StateBuilder {
	return s.Payload("prompt", template)
}

// Payload sets one field of the rendered payload.
func (s *StateBuilder) Payload(key string, value any) *StateBuilder {
	if s.state.PayloadResponse == nil {
		s.state.PayloadResponse = make(map[string]any)
	}
	s.state.PayloadResponse[key] = value
	return s
}

// Call adds a synchronous API call to the entry actions.
func (s *StateBuilder) Call(apiID string, consumes ...domain.Binding) *StateBuilder {
	return s.Entry(domain.ActionSpec{
		Type:     domain.ActionAPI,
		ID:       apiID,
		Mode:     domain.ModeSync,
		Consumes: consumes,
	})
}

// CallAsync adds an asynchronous API call whose response is awaited per policy.
// A nil policy leaves the response to a later turn.
func (s *StateBuilder) CallAsync(apiID string, policy *domain.WaitPolicy, consumes ...domain.Binding) *StateBuilder {
	return s.Entry(domain.ActionSpec{
		Type:       domain.ActionAPI,
		ID:         apiID,
		Mode:       domain.ModeAsync,
		Consumes:   consumes,
		WaitPolicy: policy,
	})
}

// Script adds a script call whose return value is stored under assignTo.
func (s *StateBuilder) Script(id, file, function, assignTo string, consumes ...domain.Binding) *StateBuilder {
	return s.Entry(domain.ActionSpec{
		Type:     domain.ActionScript,
		ID:       id,
		Script:   &domain.ScriptRef{File: file, Function: function},
		AssignTo: assignTo,
		Consumes: consumes,
	})
}

// Entry appends an action spec as written.
func (s *StateBuilder) Entry(spec domain.ActionSpec) *StateBuilder {
	s.state.OnEntry = append(s.state.OnEntry, spec)
	return s
}

// Build returns the underlying domain.StateConfig.
func (s *StateBuilder) Build() domain.StateConfig {
	return s.state
}

// User binds a parameter the user provided.
func User(name string) domain.Binding {
	return domain.Binding{Name: name, From: domain.SourceUser}
}

// Output binds a value produced by another action of the plan.
func Output(name string) domain.Binding {
	return domain.Binding{Name: name, From: domain.SourceActionOutput}
}

// Static binds a constant.
func Static(name string, value any) domain.Binding {
	return domain.Binding{Name: name, From: domain.SourceStatic, Value: value}
}
