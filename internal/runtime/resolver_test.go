package runtime_test

import (
	"testing"

	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestResolveNextState(t *testing.T) {
	state := domain.StateConfig{
		ID:         "ask_city",
		Parameters: domain.ParameterSpec{Required: []string{"city"}},
		Transitions: []domain.Transition{
			{NextState: "help", Condition: domain.Condition{Intent: "ask_help"}},
			{NextState: "confirm_city", Condition: domain.Condition{Intent: "provide_city"}},
			{NextState: "auto", Condition: domain.Condition{AllParametersMet: boolPtr(true)}},
		},
		DefaultNextState: "fallback",
	}

	tests := []struct {
		name   string
		state  domain.StateConfig
		intent string
		params map[string]any
		want   string
		reason runtime.ResolveReason
	}{
		{"intent wins over params", state, "provide_city", map[string]any{"city": "Austin"}, "confirm_city", runtime.ReasonIntent},
		{"intent wins without params", state, "ask_help", nil, "help", runtime.ReasonIntent},
		{"params met", state, "unknown", map[string]any{"city": "Austin"}, "auto", runtime.ReasonParametersMet},
		{"empty string is missing", state, "", map[string]any{"city": ""}, "ask_city", runtime.ReasonStay},
		{"nil is missing", state, "", map[string]any{"city": nil}, "ask_city", runtime.ReasonStay},
		{
			name: "all_parameters_met false matches unconditionally",
			state: domain.StateConfig{ID: "s", Parameters: domain.ParameterSpec{Required: []string{"x"}},
				Transitions: []domain.Transition{{NextState: "collect", Condition: domain.Condition{AllParametersMet: boolPtr(false)}}}},
			want: "collect", reason: runtime.ReasonParametersNot,
		},
		{
			name: "unset guard means params met",
			state: domain.StateConfig{ID: "s", Parameters: domain.ParameterSpec{Required: []string{"x"}},
				Transitions: []domain.Transition{{NextState: "next"}}},
			params: map[string]any{"x": 1},
			want:   "next", reason: runtime.ReasonParametersMet,
		},
		{
			name:   "default gated on params",
			state:  domain.StateConfig{ID: "s", Parameters: domain.ParameterSpec{Required: []string{"x"}}, DefaultNextState: "d"},
			params: map[string]any{"x": false},
			want:   "d", reason: runtime.ReasonDefault,
		},
		{
			name:  "default blocked",
			state: domain.StateConfig{ID: "s", Parameters: domain.ParameterSpec{Required: []string{"x"}}, DefaultNextState: "d"},
			want:  "s", reason: runtime.ReasonStay,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runtime.ResolveNextState(tt.state, tt.intent, tt.params)
			assert.Equal(t, tt.want, got.StateID)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

// Every intent-guarded transition resolves to its target once required params are met.
func TestResolveNextState_IntentProperty(t *testing.T) {
	var transitions []domain.Transition
	for _, intent := range []string{"a", "b", "c", "d"} {
		transitions = append(transitions, domain.Transition{NextState: "to_" + intent, Condition: domain.Condition{Intent: intent}})
	}
	st := domain.StateConfig{ID: "s", Parameters: domain.ParameterSpec{Required: []string{"p", "q"}}, Transitions: transitions}
	params := map[string]any{"p": 1, "q": "x"}
	for _, tr := range transitions {
		assert.Equal(t, tr.NextState, runtime.ResolveNextState(st, tr.Condition.Intent, params).StateID)
	}
}

func TestFindSkippedStates(t *testing.T) {
	cat := catalog(t, "a", []domain.StateConfig{
		{ID: "a", Transitions: []domain.Transition{{NextState: "b"}, {NextState: "x", Condition: domain.Condition{Intent: "jump"}}}},
		{ID: "b", DefaultNextState: "c"},
		{ID: "c", Transitions: []domain.Transition{{NextState: "d"}}},
		{ID: "d"},
		{ID: "x", DefaultNextState: "d"},
		{ID: "island"},
	})

	skipped, found := runtime.FindSkippedStates(cat, "a", "d")
	assert.True(t, found)
	// Both a-b-c-d and a-x-d exist; BFS returns the shorter one.
	assert.Equal(t, []string{"x"}, skipped)

	skipped, found = runtime.FindSkippedStates(cat, "a", "c")
	assert.True(t, found)
	assert.Equal(t, []string{"b"}, skipped)

	skipped, found = runtime.FindSkippedStates(cat, "a", "b")
	assert.True(t, found)
	assert.Empty(t, skipped)

	skipped, found = runtime.FindSkippedStates(cat, "a", "island")
	assert.False(t, found)
	assert.Empty(t, skipped)

	_, found = runtime.FindSkippedStates(cat, "d", "d")
	assert.True(t, found)
}
