package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/egorky/iafsm"
	"github.com/egorky/iafsm/pkg/adapters/file"
	"github.com/egorky/iafsm/pkg/adapters/memory"
	redisAdapter "github.com/egorky/iafsm/pkg/adapters/redis"
	"github.com/egorky/iafsm/pkg/persistence/middleware"
	"github.com/egorky/iafsm/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Runtime is an engine plus the connections it owns.
type Runtime struct {
	Engine *iafsm.Engine
	Store  ports.SessionStore
	// Streams is where async responses travel; nil means the engine's in-memory default.
	Streams ports.StreamTransport

	redis *backend.Client
}

// Close drains the engine and releases its connections.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Engine.Close(ctx)
	if r.redis != nil {
		err = errors.Join(err, r.redis.Close())
	}
	return err
}

// NewRuntime initializes an engine with standard CLI conventions.
func NewRuntime(ctx context.Context, s Settings, logger *slog.Logger, extra ...iafsm.Option) (*Runtime, error) {
	rt := &Runtime{}
	opts := []iafsm.Option{
		iafsm.WithLogger(logger),
		iafsm.WithStrict(s.Engine.Strict),
		iafsm.WithDefaultIntent(s.Engine.DefaultIntent),
		iafsm.WithAutoAdvance(s.Engine.AutoAdvanceHops),
		iafsm.WithPendingMaxAge(s.Engine.PendingMaxAge),
		iafsm.WithSessionTTL(s.Session.TTL),
	}
	if s.Engine.ConsumerGroup != "" {
		opts = append(opts, iafsm.WithConsumerGroup(s.Engine.ConsumerGroup, ""))
	}
	if s.Engine.ResponseChannelTemplate != "" {
		opts = append(opts, iafsm.WithResponseChannelTemplate(s.Engine.ResponseChannelTemplate))
	}
	if s.Engine.ScriptsDir != "" {
		opts = append(opts, iafsm.WithScriptsDir(s.Engine.ScriptsDir))
	}
	if s.Session.Durable {
		opts = append(opts, iafsm.WithDurableWrites())
	}

	if s.Redis.Addr != "" {
		client := redisAdapter.NewClient(s.Redis.Addr, s.Redis.Password, s.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", s.Redis.Addr, err)
		}
		rt.redis = client
		rt.Streams = redisAdapter.NewStreams(client)
		opts = append(opts,
			iafsm.WithStreams(rt.Streams),
			iafsm.WithLocker(redisAdapter.NewLocker(client, redisAdapter.DefaultLockPrefix)),
		)
	}

	store, err := createStore(s, rt.redis)
	if err != nil {
		if rt.redis != nil {
			_ = rt.redis.Close()
		}
		return nil, err
	}
	if store != nil {
		rt.Store = store
		opts = append(opts, iafsm.WithSessionStore(store))
	}

	opts = append(opts, extra...)
	eng, err := iafsm.New(s.Dir, opts...)
	if err != nil {
		if rt.redis != nil {
			_ = rt.redis.Close()
		}
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	rt.Engine = eng
	return rt, nil
}

// createStore builds the configured session store wrapped in the masking and
// encryption middleware. A nil store keeps the engine's in-memory default.
func createStore(s Settings, client *backend.Client) (ports.SessionStore, error) {
	var store ports.SessionStore
	switch s.Session.Store {
	case StoreFile:
		dir := s.Session.Dir
		if dir == "" {
			dir = filepath.Join(s.Dir, file.DefaultDir)
		}
		store = file.New(dir)
	case StoreRedis:
		if client == nil {
			return nil, errors.New("session store redis needs redis.addr")
		}
		var opts []redisAdapter.Option
		if s.Redis.Prefix != "" {
			opts = append(opts, redisAdapter.WithPrefix(s.Redis.Prefix))
		}
		store = redisAdapter.NewFromClient(client, opts...)
	}

	var mws []middleware.Middleware
	if len(s.Session.Mask) > 0 {
		for _, p := range s.Session.Mask {
			if _, err := regexp.Compile(p); err != nil {
				return nil, fmt.Errorf("session mask pattern %q: %w", p, err)
			}
		}
		mws = append(mws, middleware.NewPIIMiddleware(s.Session.Mask))
	}
	if s.Session.EncryptionKey != "" {
		key, err := middleware.ParseKey(s.Session.EncryptionKey)
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if len(mws) == 0 {
		return store, nil
	}
	if store == nil {
		store = memory.NewStore()
	}
	return middleware.Chain(store, mws...), nil
}
