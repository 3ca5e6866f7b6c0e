package runtime_test

import (
	"testing"

	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiAction(uid string, consumes []domain.Binding, produces map[string]string) *domain.Action {
	return &domain.Action{
		UniqueID: uid,
		Kind:     domain.ActionAPI,
		ID:       uid,
		Mode:     domain.ModeSync,
		Consumes: consumes,
		Produces: produces,
		Status:   domain.StatusPending,
	}
}

func uids(actions []*domain.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.UniqueID
	}
	return out
}

func TestSchedule_ProducerBeforeConsumer(t *testing.T) {
	// Declared consumer first: the weather call needs the geocode output.
	weather := apiAction("weather",
		[]domain.Binding{{Name: "coords", From: domain.SourceActionOutput}},
		map[string]string{"forecast": "forecast"})
	geocode := apiAction("geocode",
		[]domain.Binding{{Name: "city", From: domain.SourceUser}},
		map[string]string{"coords": "location"})

	g := runtime.BuildGraph([]*domain.Action{weather, geocode}, map[string]any{"city": "Austin"}, logging.NewNop())
	assert.Equal(t, []string{"weather"}, g.Edges["geocode"])
	assert.Equal(t, 1, g.InDegree["weather"])

	order, cyclic := runtime.Schedule(g, logging.NewNop())
	assert.Empty(t, cyclic)
	assert.Equal(t, []string{"geocode", "weather"}, uids(order))
}

func TestSchedule_CycleIsMarked(t *testing.T) {
	a := apiAction("a", []domain.Binding{{Name: "y", From: domain.SourceActionOutput}}, map[string]string{"x": "x"})
	b := apiAction("b", []domain.Binding{{Name: "x", From: domain.SourceActionOutput}}, map[string]string{"y": "y"})
	free := apiAction("free", nil, map[string]string{"z": "z"})
	// Hangs off the cycle.
	tail := apiAction("tail", []domain.Binding{{Name: "y", From: domain.SourceActionOutput}}, map[string]string{"w": "w"})

	g := runtime.BuildGraph([]*domain.Action{a, b, free, tail}, map[string]any{}, logging.NewNop())
	order, cyclic := runtime.Schedule(g, logging.NewNop())

	assert.Equal(t, []string{"free"}, uids(order))
	assert.ElementsMatch(t, []string{"a", "b", "tail"}, uids(cyclic))
	for _, act := range cyclic {
		assert.Equal(t, domain.StatusCyclic, act.Status)
	}
	assert.Equal(t, domain.StatusPending, free.Status)
}

func TestBuildGraph_PrePassFlagsUnsatisfiableInputs(t *testing.T) {
	needsUser := apiAction("needs_user", []domain.Binding{{Name: "email", From: domain.SourceUser}}, map[string]string{"ticket": "id"})
	optional := apiAction("optional", []domain.Binding{{Name: "nickname", Optional: true}}, map[string]string{"greeting": "g"})
	static := apiAction("static", []domain.Binding{{Name: "lang", From: domain.SourceStatic, Value: "en"}}, nil)

	g := runtime.BuildGraph([]*domain.Action{needsUser, optional, static}, map[string]any{}, logging.NewNop())

	require.Len(t, g.Unresolved, 1)
	assert.Equal(t, domain.StatusUnresolved, needsUser.Status)
	assert.Contains(t, needsUser.Err, "email")
	assert.Equal(t, []string{"optional", "static"}, uids(g.Nodes))
}

func TestBuildGraph_FirstProducerWins(t *testing.T) {
	first := apiAction("first", nil, map[string]string{"token": "a"})
	second := apiAction("second", nil, map[string]string{"token": "b"})
	consumer := apiAction("consumer", []domain.Binding{{Name: "token", From: domain.SourceActionOutput}}, nil)

	g := runtime.BuildGraph([]*domain.Action{first, second, consumer}, map[string]any{}, logging.NewNop())
	assert.Same(t, first, g.Producers["token"])
	assert.Equal(t, []string{"consumer"}, g.Edges["first"])
	assert.Empty(t, g.Edges["second"])
}

func TestBuildGraph_ParameterBindingsAreOrdered(t *testing.T) {
	consumer := apiAction("consumer", []domain.Binding{{Name: "id", Ref: "customer_id"}}, map[string]string{"profile": "p"})
	producer := apiAction("lookup", nil, map[string]string{"customer_id": "id"})

	g := runtime.BuildGraph([]*domain.Action{consumer, producer}, map[string]any{}, logging.NewNop())
	order, cyclic := runtime.Schedule(g, logging.NewNop())
	assert.Empty(t, cyclic)
	assert.Equal(t, []string{"lookup", "consumer"}, uids(order))
}

// For a chain declared in reverse, every producer precedes its consumers and
// independent actions keep declaration order.
func TestSchedule_OrderProperty(t *testing.T) {
	var actions []*domain.Action
	names := []string{"e", "d", "c", "b", "a"}
	for i, n := range names {
		var consumes []domain.Binding
		if i < len(names)-1 {
			consumes = []domain.Binding{{Name: "out_" + names[i+1], From: domain.SourceActionOutput}}
		}
		actions = append(actions, apiAction(n, consumes, map[string]string{"out_" + n: "v"}))
	}
	actions = append(actions, apiAction("x", nil, nil), apiAction("y", nil, nil))

	g := runtime.BuildGraph(actions, map[string]any{}, logging.NewNop())
	order, cyclic := runtime.Schedule(g, logging.NewNop())
	require.Empty(t, cyclic)
	require.Len(t, order, len(actions))

	pos := make(map[string]int)
	for i, a := range order {
		pos[a.UniqueID] = i
	}
	for producer, consumers := range g.Edges {
		for _, c := range consumers {
			assert.Less(t, pos[producer], pos[c], "%s must run before %s", producer, c)
		}
	}
	assert.Less(t, pos["x"], pos["y"])
}
