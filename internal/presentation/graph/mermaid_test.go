package graph_test

import (
	"strings"
	"testing"

	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/internal/presentation/graph"
	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	no := false
	tests := []struct {
		name     string
		doc      domain.StatesDocument
		overlay  *graph.GraphOverlay
		contains []string
	}{
		{
			name: "Initial State Shape",
			doc: domain.StatesDocument{
				InitialState: "welcome",
				States:       map[string]domain.StateConfig{"welcome": {}},
			},
			contains: []string{`welcome(("welcome"))`},
		},
		{
			name: "Collecting State Shape",
			doc: domain.StatesDocument{States: map[string]domain.StateConfig{
				"ask_city": {Parameters: domain.ParameterSpec{Required: []string{"city"}}},
			}},
			contains: []string{`ask_city[/"ask_city"/]`},
		},
		{
			name: "Action State Lists Actions",
			doc: domain.StatesDocument{States: map[string]domain.StateConfig{
				"lookup": {OnEntry: []domain.ActionSpec{
					{Type: domain.ActionAPI, ID: "weather", Mode: domain.ModeAsync},
					{Type: domain.ActionScript, ID: "format"},
				}},
			}},
			contains: []string{`lookup[["lookup <br/> weather (async), format"]]`},
		},
		{
			name: "ID Sanitization",
			doc: domain.StatesDocument{States: map[string]domain.StateConfig{
				"flows/booking.start": {},
				"hyphen-ated":         {},
			}},
			contains: []string{
				`flows_booking_start["flows/booking.start"]`,
				`hyphen_ated["hyphen-ated"]`,
			},
		},
		{
			name: "Transition Labels",
			doc: domain.StatesDocument{States: map[string]domain.StateConfig{
				"a": {
					Transitions: []domain.Transition{
						{NextState: "b", Condition: domain.Condition{Intent: `say "yes"`}},
						{NextState: "c"},
						{NextState: "d", Condition: domain.Condition{AllParametersMet: &no}},
					},
					DefaultNextState: "e",
				},
			}},
			contains: []string{
				`a -- "say 'yes'" --> b`,
				`a -- "all params" --> c`,
				`a -- "missing params" --> d`,
				`a -.-> e`,
			},
		},
		{
			name: "Overlay",
			doc: domain.StatesDocument{States: map[string]domain.StateConfig{
				"a": {}, "b": {},
			}},
			overlay: &graph.GraphOverlay{VisitedStates: []string{"a", "a", "b"}, CurrentState: "b"},
			contains: []string{
				"class a visited;",
				"class b current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.doc, tt.overlay)
			assert.True(t, strings.HasPrefix(got, "graph TD\n"))
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestGenerateMermaid_OverlayDeduplicates(t *testing.T) {
	doc := domain.StatesDocument{States: map[string]domain.StateConfig{"a": {}}}
	got := graph.GenerateMermaid(doc, &graph.GraphOverlay{VisitedStates: []string{"a", "a"}})
	assert.Equal(t, 1, strings.Count(got, "class a visited;"))
}

func TestGeneratePlanMermaid(t *testing.T) {
	weather := &domain.Action{
		UniqueID: "show/weather",
		ID:       "weather",
		Kind:     domain.ActionAPI,
		Produces: map[string]string{"temp": "data.temp"},
		Status:   domain.StatusPending,
	}
	format := &domain.Action{
		UniqueID: "show/format",
		ID:       "format",
		Kind:     domain.ActionScript,
		Consumes: []domain.Binding{{Name: "temp", From: domain.SourceActionOutput}},
		AssignTo: "summary",
		Status:   domain.StatusPending,
	}
	orphan := &domain.Action{
		UniqueID: "show/orphan",
		ID:       "orphan",
		Kind:     domain.ActionAPI,
		Consumes: []domain.Binding{{Name: "nobody_makes_this", From: domain.SourceActionOutput}},
		Status:   domain.StatusPending,
	}

	g := runtime.BuildGraph([]*domain.Action{weather, format, orphan}, map[string]any{}, logging.NewNop())
	got := graph.GeneratePlanMermaid(g)

	assert.Contains(t, got, `show_weather[["show/weather"]]`)
	assert.Contains(t, got, `show_format[/"show/format"/]`)
	assert.Contains(t, got, "show_weather --> show_format")
	assert.Contains(t, got, "class show_orphan unresolved;")
}
