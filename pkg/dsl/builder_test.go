package dsl

import (
	"context"
	"testing"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherFlow() *Builder {
	b := New("welcome")

	b.State("welcome").
		Prompt("Hi! What would you like to do?").
		On("weather", "ask_city").
		On("bye", "done")

	b.State("ask_city").
		Describe("Looks up the forecast").
		Require("city").
		Optional("day").
		Call("fetch_weather", User("city"), Static("units", "metric")).
		Script("format", "weather.js", "format", "summary", Output("forecast")).
		Prompt("{{summary}}").
		WhenComplete("done")

	b.State("done").
		Payload("prompt", "Goodbye!").
		Payload("hangup", true)

	b.API(domain.APIDefinition{
		ID:       "fetch_weather",
		URL:      "https://example.test/weather",
		Produces: map[string]string{"forecast": "forecast"},
	})
	return b
}

func TestBuilder_Document(t *testing.T) {
	doc := weatherFlow().Document()

	assert.Equal(t, "welcome", doc.InitialState)
	require.Len(t, doc.States, 3)

	welcome := doc.States["welcome"]
	require.Len(t, welcome.Transitions, 2)
	assert.Equal(t, "ask_city", welcome.Transitions[0].NextState)
	assert.Equal(t, "weather", welcome.Transitions[0].Condition.Intent)

	city := doc.States["ask_city"]
	assert.Equal(t, "ask_city", city.ID)
	assert.Equal(t, []string{"city"}, city.Parameters.Required)
	assert.Equal(t, []string{"day"}, city.Parameters.Optional)
	require.Len(t, city.OnEntry, 2)
	assert.Equal(t, domain.ActionAPI, city.OnEntry[0].Type)
	assert.Equal(t, domain.ModeSync, city.OnEntry[0].Mode)
	assert.Equal(t, domain.SourceStatic, city.OnEntry[0].Consumes[1].From)
	assert.Equal(t, "metric", city.OnEntry[0].Consumes[1].Value)
	assert.Equal(t, "summary", city.OnEntry[1].AssignTo)
	assert.Equal(t, "format", city.OnEntry[1].Script.Function)
	require.Len(t, city.Transitions, 1)
	require.NotNil(t, city.Transitions[0].Condition.AllParametersMet)
	assert.True(t, *city.Transitions[0].Condition.AllParametersMet)

	assert.Equal(t, true, doc.States["done"].PayloadResponse["hangup"])
}

func TestBuilder_Build(t *testing.T) {
	src, err := weatherFlow().Build()
	require.NoError(t, err)

	doc, apis, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.States, 3)
	require.Len(t, apis, 1)
	assert.Equal(t, "fetch_weather", apis[0].ID)
}

func TestBuilder_StateIsReused(t *testing.T) {
	b := New("a")
	b.State("a").On("x", "b")
	b.State("a").On("y", "b")
	b.State("b")

	doc := b.Document()
	assert.Len(t, doc.States["a"].Transitions, 2)
}

func TestBuilder_BuildRejectsBrokenReferences(t *testing.T) {
	tests := map[string]func(b *Builder){
		"missing initial": func(b *Builder) { b.State("other") },
		"unknown target":  func(b *Builder) { b.State("start").On("go", "nowhere") },
		"unknown api":     func(b *Builder) { b.State("start").Call("ghost") },
		"async script": func(b *Builder) {
			b.State("start").Entry(domain.ActionSpec{
				Type:   domain.ActionScript,
				ID:     "s",
				Mode:   domain.ModeAsync,
				Script: &domain.ScriptRef{File: "f.js", Function: "f"},
			})
		},
	}
	for name, configure := range tests {
		t.Run(name, func(t *testing.T) {
			b := New("start")
			configure(b)
			_, err := b.Build()
			assert.Error(t, err)
		})
	}
}

func TestBuilder_CallAsync(t *testing.T) {
	policy := &domain.WaitPolicy{Point: domain.WaitBeforeRender, TimeoutMs: 500}
	st := New("s").State("s").CallAsync("notify", policy, User("phone")).Build()

	require.Len(t, st.OnEntry, 1)
	assert.Equal(t, domain.ModeAsync, st.OnEntry[0].Mode)
	assert.Same(t, policy, st.OnEntry[0].WaitPolicy)
}
