package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/egorky/iafsm/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
	delay     time.Duration
	saveDelay time.Duration
	failing   atomic.Bool
	saves     atomic.Int32
}

func newSlowStore(delay time.Duration) *SlowStore {
	return &SlowStore{Store: memory.NewStore(), delay: delay, saveDelay: delay}
}

func (s *SlowStore) Save(ctx context.Context, sessionID string, sess *domain.Session, ttl time.Duration) error {
	time.Sleep(s.saveDelay)
	s.saves.Add(1)
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, sessionID, sess, ttl)
}

func (s *SlowStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	time.Sleep(s.delay)
	return s.Store.Load(ctx, sessionID)
}

// counterTurn increments a counter parameter, the read-modify-write a lost update would break.
func counterTurn(_ context.Context, sess *domain.Session) (*domain.TurnResult, error) {
	n, _ := sess.Parameters["count"].(int)
	sess.Parameters["count"] = n + 1
	return &domain.TurnResult{SessionID: sess.ID, FinalStateID: sess.CurrentStateID}, nil
}

func TestManager_ProcessSerializesTurns(t *testing.T) {
	store := newSlowStore(2 * time.Millisecond)
	mgr := session.NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Process(ctx, "race", "start", counterTurn)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, mgr.Wait(ctx))

	sess, err := mgr.Load(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, 20, sess.Parameters["count"], "no update lost: each turn saw the previous write")
}

func TestManager_ProcessStartsNewSession(t *testing.T) {
	mgr := session.NewManager(memory.NewStore(), session.WithDurableWrites())
	ctx := context.Background()

	res, err := mgr.Process(ctx, "fresh", "welcome", counterTurn)
	require.NoError(t, err)
	assert.Equal(t, "welcome", res.FinalStateID)

	sess, err := mgr.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome"}, sess.History)
	assert.Equal(t, 1, sess.Parameters["count"])

	_, err = mgr.Process(ctx, "other", "", counterTurn)
	assert.Error(t, err, "a new session needs an initial state")
}

func TestManager_FailedTurnIsNotPersisted(t *testing.T) {
	store := newSlowStore(0)
	mgr := session.NewManager(store, session.WithDurableWrites())
	ctx := context.Background()

	boom := domain.NewConfigurationError("ghost", "state does not exist")
	_, err := mgr.Process(ctx, "s1", "start", func(context.Context, *domain.Session) (*domain.TurnResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), store.saves.Load())

	_, err = mgr.Load(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_FailedTurnKeepsItsChanges(t *testing.T) {
	store := newSlowStore(0)
	mgr := session.NewManager(store)
	ctx := context.Background()
	_, err := mgr.Process(ctx, "s1", "start", counterTurn)
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(ctx))

	// A turn that fails after consuming something still records it.
	boom := domain.NewConfigurationError("ghost", "state does not exist")
	_, err = mgr.Process(ctx, "s1", "start", func(_ context.Context, sess *domain.Session) (*domain.TurnResult, error) {
		sess.Parameters["reservation_id"] = "R-5"
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), store.saves.Load())

	sess, err := mgr.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "R-5", sess.Parameters["reservation_id"])
	assert.Equal(t, 1, sess.Parameters["count"])
}

func TestManager_PersistenceFailureDoesNotFailTurn(t *testing.T) {
	store := newSlowStore(0)
	store.failing.Store(true)

	var mu sync.Mutex
	var reported []error
	mgr := session.NewManager(store, session.WithPersistCallback(func(_ string, err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	}))
	ctx := context.Background()

	res, err := mgr.Process(ctx, "s1", "start", counterTurn)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NoError(t, mgr.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	var perr *domain.PersistenceError
	require.ErrorAs(t, reported[0], &perr)
	assert.Equal(t, "s1", perr.SessionID)
}

func TestManager_BackgroundWriteHoldsLock(t *testing.T) {
	store := newSlowStore(0)
	store.saveDelay = 100 * time.Millisecond
	mgr := session.NewManager(store)
	ctx := context.Background()

	started := time.Now()
	_, err := mgr.Process(ctx, "s1", "start", counterTurn)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), store.saveDelay, "the turn returns before its write")

	// Queued behind the first write, so it must see count == 1.
	_, err = mgr.Process(ctx, "s1", "start", counterTurn)
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(ctx))

	sess, err := store.Store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Parameters["count"])
}

func TestManager_CallbackOnSuccess(t *testing.T) {
	done := make(chan error, 1)
	mgr := session.NewManager(memory.NewStore(), session.WithTTL(time.Hour), session.WithPersistCallback(func(id string, err error) {
		assert.Equal(t, "s1", id)
		done <- err
	}))

	_, err := mgr.Process(context.Background(), "s1", "start", counterTurn)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("persist callback not called")
	}
}

func TestManager_LoadOrStart(t *testing.T) {
	store := newSlowStore(5 * time.Millisecond)
	manager := session.NewManager(store)
	ctx := context.Background()
	id := "atomic-init"

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := manager.LoadOrStart(ctx, id, "start")
			assert.NoError(t, err)
			assert.NotNil(t, sess)
		}()
	}
	wg.Wait()

	sess, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "start", sess.CurrentStateID)
	assert.Equal(t, int32(1), store.saves.Load(), "only the first caller creates the session")
}

type countingLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	err     error
}

func (l *countingLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks.Add(1)
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))
	ctx := context.Background()

	_, err := mgr.Process(ctx, "s1", "start", counterTurn)
	require.NoError(t, err)
	require.NoError(t, mgr.Wait(ctx))
	assert.Equal(t, int32(1), locker.locks.Load())
	assert.Equal(t, int32(1), locker.unlocks.Load(), "released after the background write")

	locker.err = errors.New("redis down")
	_, err = mgr.Process(ctx, "s1", "start", counterTurn)
	assert.ErrorContains(t, err, "redis down")
}
