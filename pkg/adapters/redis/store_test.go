package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/egorky/iafsm/pkg/adapters/redis"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redis.New(mr.Addr(), "", 0, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newStore(t)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	sess := domain.NewSession("short", "welcome")
	require.NoError(t, store.Save(ctx, "short", sess, time.Minute))
	require.NoError(t, store.Save(ctx, "forever", sess, 0))

	assert.True(t, mr.Exists("fsm_session:short"))
	assert.Equal(t, time.Minute, mr.TTL("fsm_session:short"))
	assert.Zero(t, mr.TTL("fsm_session:forever"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	loaded, err := store.Load(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "welcome", loaded.CurrentStateID)
}

func TestRedisStore_Prefix(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("tenant-a:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", domain.NewSession("s1", "start"), 0))
	assert.True(t, mr.Exists("tenant-a:s1"))
	assert.False(t, mr.Exists("fsm_session:s1"))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, store.Delete(ctx, "s1"))
	assert.False(t, mr.Exists("tenant-a:s1"))
}

func TestRedisStore_RoundTripsPending(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	sess := domain.NewSession("s1", "book")
	sess.Parameters["city"] = "Quito"
	sess.AppendHistory("book")
	sess.PendingAPIResponses["corr-1"] = domain.PendingResponse{
		ActionID:           "availability",
		ResponseChannelKey: "iafsm:responses:s1:corr-1",
		WaitPolicy:         &domain.WaitPolicy{Point: domain.WaitNextTurn, TimeoutMs: 500},
	}
	require.NoError(t, store.Save(ctx, "s1", sess, 0))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Quito", loaded.Parameters["city"])
	assert.Equal(t, []string{"book"}, loaded.History)
	require.Contains(t, loaded.PendingAPIResponses, "corr-1")
	pending := loaded.PendingAPIResponses["corr-1"]
	assert.Equal(t, "availability", pending.ActionID)
	assert.Equal(t, 500*time.Millisecond, pending.WaitPolicy.Timeout())
}
