package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/egorky/iafsm/internal/logging"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// TurnFunc advances a loaded session. The session is mutated in place.
type TurnFunc func(ctx context.Context, sess *domain.Session) (*domain.TurnResult, error)

// PersistCallback is told about every background write once it finishes.
// err is a *domain.PersistenceError on failure.
type PersistCallback func(sessionID string, err error)

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SessionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker    ports.DistributedLocker // Optional distributed locker
	lockTTL   time.Duration
	ttl       time.Duration
	durable   bool
	onPersist PersistCallback
	logger    *slog.Logger

	writes sync.WaitGroup
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithTTL sets the expiry of persisted sessions. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithDurableWrites makes Process wait for the session write before returning.
func WithDurableWrites() Option {
	return func(m *Manager) {
		m.durable = true
	}
}

// WithPersistCallback registers a callback for finished session writes.
func WithPersistCallback(fn PersistCallback) Option {
	return func(m *Manager) {
		m.onPersist = fn
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// lock takes the local and, if configured, the distributed lock for a session.
// The returned function releases both.
func (m *Manager) lock(ctx context.Context, sessionID string) (func(context.Context), error) {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	local := func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}

	if m.locker == nil {
		return func(context.Context) { local() }, nil
	}
	unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
	if err != nil {
		local()
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}
	return func(ctx context.Context) {
		if err := unlock(ctx); err != nil {
			m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
				"session_id", sessionID,
				"err", err,
			)
		}
		local()
	}, nil
}

// Process runs one turn for sessionID: it serializes with other turns of the
// same session, loads the session (or starts one at initialStateID), runs fn
// and persists the result.
//
// The write happens in the background unless WithDurableWrites is set. Either
// way the session stays locked until the write completes, so the next turn
// never reads a stale record. A failed write is logged and reported to the
// persist callback; it never fails the turn. When fn fails, the session is
// saved only if fn left it changed, and then synchronously.
func (m *Manager) Process(ctx context.Context, sessionID, initialStateID string, fn TurnFunc) (*domain.TurnResult, error) {
	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := m.loadOrNew(ctx, sessionID, initialStateID)
	if err != nil {
		unlock(ctx)
		return nil, err
	}

	loaded := sess.Clone()
	res, err := fn(ctx, sess)
	if err != nil {
		if domain.Diff(loaded, sess) != nil {
			m.persist(context.WithoutCancel(ctx), sessionID, sess)
		}
		unlock(ctx)
		return nil, err
	}

	if m.durable {
		m.persist(ctx, sessionID, sess)
		unlock(ctx)
		return res, nil
	}

	// The turn's context may be cancelled as soon as we return.
	bg := context.WithoutCancel(ctx)
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		m.persist(bg, sessionID, sess)
		unlock(bg)
	}()
	return res, nil
}

func (m *Manager) persist(ctx context.Context, sessionID string, sess *domain.Session) {
	var result error
	if err := m.store.Save(ctx, sessionID, sess, m.ttl); err != nil {
		result = &domain.PersistenceError{SessionID: sessionID, Cause: err}
		m.logger.Error("session write failed, turn response was served from memory",
			"session_id", sessionID,
			"err", result,
		)
	} else {
		m.logger.Debug("session persisted", "session_id", sessionID, "state", sess.CurrentStateID)
	}
	if m.onPersist != nil {
		m.onPersist(sessionID, result)
	}
}

func (m *Manager) loadOrNew(ctx context.Context, sessionID, initialStateID string) (*domain.Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err == nil {
		sess.Normalize()
		return sess, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return m.start(sessionID, initialStateID)
}

func (m *Manager) start(sessionID, initialStateID string) (*domain.Session, error) {
	if initialStateID == "" {
		return nil, fmt.Errorf("session %s: no initial state to start from", sessionID)
	}
	m.logger.Debug("starting new session", "session_id", sessionID, "state", initialStateID)
	return domain.NewSession(sessionID, initialStateID), nil
}

// Wait blocks until background writes finish or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load retrieves an existing session from the store.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.store.Load(ctx, sessionID)
		return err
	})
	return sess, err
}

// LoadOrStart tries to load a session. If not found, it initializes and saves a new one.
func (m *Manager) LoadOrStart(ctx context.Context, sessionID, initialStateID string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.store.Load(ctx, sessionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		sess, err = m.start(sessionID, initialStateID)
		if err != nil {
			return err
		}
		// Persist immediately to reserve the ID
		if err := m.store.Save(ctx, sessionID, sess, m.ttl); err != nil {
			return fmt.Errorf("failed to initialize session: %w", err)
		}
		return nil
	})
	return sess, err
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock(ctx)
	return fn(ctx)
}
