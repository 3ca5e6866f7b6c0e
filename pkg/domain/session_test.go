package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession("abc", "welcome")

	assert.Equal(t, "abc", s.ID)
	assert.Equal(t, "welcome", s.CurrentStateID)
	assert.Equal(t, []string{"welcome"}, s.History)
	assert.NotNil(t, s.Parameters)
	assert.NotNil(t, s.PendingAPIResponses)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestSession_AppendHistory(t *testing.T) {
	s := NewSession("abc", "a")

	assert.False(t, s.AppendHistory("a"), "adjacent duplicate must be ignored")
	assert.True(t, s.AppendHistory("b"))
	assert.True(t, s.AppendHistory("a"), "non-adjacent revisit is recorded")
	assert.Equal(t, []string{"a", "b", "a"}, s.History)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession("abc", "a")
	s.Parameters["nested"] = map[string]any{"k": "v"}
	s.Parameters["list"] = []any{"x"}
	s.PendingAPIResponses["c1"] = PendingResponse{ActionID: "sms"}

	c := s.Clone()
	c.Parameters["nested"].(map[string]any)["k"] = "changed"
	c.Parameters["list"].([]any)[0] = "y"
	c.History = append(c.History, "b")
	delete(c.PendingAPIResponses, "c1")

	assert.Equal(t, "v", s.Parameters["nested"].(map[string]any)["k"])
	assert.Equal(t, "x", s.Parameters["list"].([]any)[0])
	assert.Equal(t, []string{"a"}, s.History)
	assert.Len(t, s.PendingAPIResponses, 1)
}

func TestSession_Normalize(t *testing.T) {
	s := &Session{ID: "old", CurrentStateID: "a"}
	s.Normalize()
	require.NotNil(t, s.Parameters)
	require.NotNil(t, s.PendingAPIResponses)
}

func TestIsPresent(t *testing.T) {
	params := map[string]any{
		"city":  "Austin",
		"empty": "",
		"nil":   nil,
		"zero":  0,
		"false": false,
	}

	assert.True(t, IsPresent(params, "city"))
	assert.False(t, IsPresent(params, "empty"))
	assert.False(t, IsPresent(params, "nil"))
	assert.False(t, IsPresent(params, "missing"))
	assert.True(t, IsPresent(params, "zero"), "zero is a value")
	assert.True(t, IsPresent(params, "false"), "false is a value")

	assert.Equal(t, []string{"empty", "missing"}, MissingKeys(params, []string{"city", "empty", "missing"}))
}

func TestResultNamespace(t *testing.T) {
	params := map[string]any{}
	SetResult(params, APIResultsKey, "geocode", map[string]any{"status": "success"})

	got, ok := Result(params, APIResultsKey, "geocode")
	require.True(t, ok)
	assert.Equal(t, "success", got.(map[string]any)["status"])

	_, ok = Result(params, ScriptResultsKey, "geocode")
	assert.False(t, ok)
}

func TestAction_ProducedNames(t *testing.T) {
	a := &Action{Produces: map[string]string{"lon": "$.data.lon", "lat": "$.data.lat"}, AssignTo: "geo"}
	assert.Equal(t, []string{"geo", "lat", "lon"}, a.ProducedNames())

	b := &Action{AssignTo: "token", Produces: map[string]string{"token": "$.token"}}
	assert.Equal(t, []string{"token"}, b.ProducedNames())
}

func TestCallResult_View(t *testing.T) {
	r := CallResult{Status: CallSuccess, HTTPCode: 200, Data: map[string]any{"lat": 1.5}}
	v := r.View()
	assert.Equal(t, "success", v["status"])
	assert.Equal(t, 200, v["httpCode"])
	assert.NotContains(t, v, "errorMessage")
}
