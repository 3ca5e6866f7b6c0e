package tests

import (
	"context"
	"testing"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ConfigSourceContractTest verifies that a ConfigSource returns a usable snapshot.
// The source must contain at least the states in wantStates and the APIs in wantAPIs.
func ConfigSourceContractTest(t *testing.T, source ports.ConfigSource, initial string, wantStates, wantAPIs []string) {
	t.Helper()

	doc, apis, err := source.Load(context.Background())
	require.NoError(t, err)

	t.Run("Initial state", func(t *testing.T) {
		assert.Equal(t, initial, doc.InitialState)
		assert.Contains(t, doc.States, initial)
	})

	t.Run("States", func(t *testing.T) {
		for _, id := range wantStates {
			st, ok := doc.States[id]
			if assert.True(t, ok, "state %s missing", id) {
				assert.Equal(t, id, st.ID, "state id must be filled from its key")
			}
		}
	})

	t.Run("API definitions", func(t *testing.T) {
		byID := make(map[string]domain.APIDefinition, len(apis))
		for _, d := range apis {
			byID[d.ID] = d
		}
		for _, id := range wantAPIs {
			assert.Contains(t, byID, id)
		}
	})

	t.Run("Reload is stable", func(t *testing.T) {
		doc2, apis2, err := source.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, len(doc.States), len(doc2.States))
		assert.Equal(t, len(apis), len(apis2))
	})
}
