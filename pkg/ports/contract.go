package ports

import (
	"context"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		s := domain.NewSession(sessionID, "start")
		s.Parameters["city"] = "Austin"
		s.Parameters["count"] = 42
		s.AppendHistory("confirm_city")
		s.CurrentStateID = "confirm_city"
		s.PendingAPIResponses["corr-1"] = domain.PendingResponse{
			ActionID:           "send_sms",
			ResponseChannelKey: "responses:corr-1",
			RequestedAt:        time.Now().UTC(),
			WaitPolicy:         &domain.WaitPolicy{Point: domain.WaitNextTurn, TimeoutMs: 3000},
		}

		err := store.Save(ctx, sessionID, s, time.Hour)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, s.CurrentStateID, loaded.CurrentStateID)
		assert.Equal(t, "Austin", loaded.Parameters["city"])
		// JSON persistence may turn ints into float64; existence is enough.
		assert.NotNil(t, loaded.Parameters["count"])
		assert.Equal(t, []string{"start", "confirm_city"}, loaded.History)
		require.Contains(t, loaded.PendingAPIResponses, "corr-1")
		assert.Equal(t, "send_sms", loaded.PendingAPIResponses["corr-1"].ActionID)
		assert.Equal(t, domain.WaitNextTurn, loaded.PendingAPIResponses["corr-1"].WaitPolicy.Point)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := domain.NewSession(sessionID, "start")
		require.NoError(t, store.Save(ctx, sessionID, s, time.Hour))
		s.CurrentStateID = "done"
		require.NoError(t, store.Save(ctx, sessionID, s, time.Hour))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "done", loaded.CurrentStateID)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSession(sessionID, "start"), time.Hour)
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewSession(id1, "start"), time.Hour)
		_ = store.Save(ctx, id2, domain.NewSession(id2, "start"), 0)

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunStreamTransportContract verifies consumer-group semantics of a StreamTransport.
func RunStreamTransportContract(t *testing.T, transport StreamTransport) {
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000000")

	t.Run("EnsureGroup is idempotent", func(t *testing.T) {
		stream := "contract:group:" + suffix
		require.NoError(t, transport.EnsureGroup(ctx, stream, "g"))
		require.NoError(t, transport.EnsureGroup(ctx, stream, "g"), "existing group is not an error")
	})

	t.Run("Empty read returns nothing", func(t *testing.T) {
		stream := "contract:empty:" + suffix
		require.NoError(t, transport.EnsureGroup(ctx, stream, "g"))

		msgs, err := transport.ReadGroup(ctx, stream, "g", "c1", 10*time.Millisecond, 1)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = transport.ReadGroup(ctx, stream, "g", "c1", 0, 1)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("Publish then read once", func(t *testing.T) {
		stream := "contract:once:" + suffix
		require.NoError(t, transport.EnsureGroup(ctx, stream, "g"))

		id, err := transport.Publish(ctx, stream, map[string]any{"status": `"success"`}, 1000)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		msgs, err := transport.ReadGroup(ctx, stream, "g", "c1", 50*time.Millisecond, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, id, msgs[0].ID)
		assert.Equal(t, `"success"`, msgs[0].Values["status"])
		require.NoError(t, transport.Ack(ctx, stream, "g", msgs[0].ID))

		// Delivered messages are not redelivered to the group.
		msgs, err = transport.ReadGroup(ctx, stream, "g", "c2", 10*time.Millisecond, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("Group created after publish still sees the message", func(t *testing.T) {
		stream := "contract:late:" + suffix
		_, err := transport.Publish(ctx, stream, map[string]any{"k": "v"}, 0)
		require.NoError(t, err)

		require.NoError(t, transport.EnsureGroup(ctx, stream, "late"))
		msgs, err := transport.ReadGroup(ctx, stream, "late", "c1", 10*time.Millisecond, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("Blocking read wakes on publish", func(t *testing.T) {
		stream := "contract:block:" + suffix
		require.NoError(t, transport.EnsureGroup(ctx, stream, "g"))

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = transport.Publish(context.Background(), stream, map[string]any{"k": "v"}, 0)
		}()

		msgs, err := transport.ReadGroup(ctx, stream, "g", "c1", 2*time.Second, 1)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}
