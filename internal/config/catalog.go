// Package config holds the engine's read-only configuration: states and API
// definitions. The Catalog is injected into the runtime and can be reloaded
// atomically from its ConfigSource.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// Catalog implements ports.StateProvider and ports.APIProvider.
type Catalog struct {
	source ports.ConfigSource
	logger *slog.Logger
	strict bool

	onReload []func()

	mu      sync.RWMutex
	doc     domain.StatesDocument
	apis    map[string]domain.APIDefinition
	apiList []domain.APIDefinition
	stateID []string
}

// Option configures the Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used for validation warnings and reloads.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithReloadHook registers fn to run after every successful reload.
func WithReloadHook(fn func()) Option {
	return func(c *Catalog) {
		c.onReload = append(c.onReload, fn)
	}
}

// WithStrict turns lint warnings (unreachable states, duplicate producers) into errors.
func WithStrict(strict bool) Option {
	return func(c *Catalog) {
		c.strict = strict
	}
}

// New loads and validates the configuration exposed by source.
func New(ctx context.Context, source ports.ConfigSource, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the source and swaps the snapshot. On any error the
// previous snapshot stays in place.
func (c *Catalog) Reload(ctx context.Context) error {
	doc, apis, err := c.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	doc = normalize(doc)

	report := Validate(doc, apis)
	for _, w := range report.Warnings {
		c.logger.Warn("configuration lint", "warning", w)
	}
	if err := report.Err(c.strict); err != nil {
		return err
	}

	byID := make(map[string]domain.APIDefinition, len(apis))
	list := make([]domain.APIDefinition, 0, len(apis))
	for _, d := range apis {
		byID[d.ID] = d
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	ids := make([]string, 0, len(doc.States))
	for id := range doc.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.mu.Lock()
	c.doc = doc
	c.apis = byID
	c.apiList = list
	c.stateID = ids
	c.mu.Unlock()

	for _, fn := range c.onReload {
		fn()
	}
	c.logger.Info("configuration loaded", "states", len(ids), "apis", len(list), "initial", doc.InitialState)
	return nil
}

// Watch reloads the catalog whenever w reports a change, until ctx is done.
// Reload failures are logged and the previous snapshot is kept. The returned
// channel carries what changed after each successful reload; sends never
// block, so a slow reader only misses duplicates.
func (c *Catalog) Watch(ctx context.Context, w ports.Watchable) (<-chan string, error) {
	changes, err := w.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch configuration: %w", err)
	}
	out := make(chan string, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case changed, ok := <-changes:
				if !ok {
					return
				}
				c.logger.Debug("configuration changed", "path", changed)
				if err := c.Reload(ctx); err != nil {
					c.logger.Error("configuration reload failed", "err", err)
					continue
				}
				select {
				case out <- changed:
				default:
				}
			}
		}
	}()
	return out, nil
}

// State returns the configuration of a state.
func (c *Catalog) State(id string) (domain.StateConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.doc.States[id]
	return st, ok
}

// InitialStateID returns the configured initial state.
func (c *Catalog) InitialStateID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.InitialState
}

// StateIDs returns every state id, sorted.
func (c *Catalog) StateIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.stateID...)
}

// APIDefinition returns a definition by id.
func (c *Catalog) APIDefinition(id string) (domain.APIDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.apis[id]
	return d, ok
}

// APIDefinitions returns every definition sorted by id.
func (c *Catalog) APIDefinitions() []domain.APIDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.APIDefinition(nil), c.apiList...)
}

// Document returns the current states document.
func (c *Catalog) Document() domain.StatesDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

func normalize(doc domain.StatesDocument) domain.StatesDocument {
	states := make(map[string]domain.StateConfig, len(doc.States))
	for id, st := range doc.States {
		st.ID = id
		states[id] = st
	}
	doc.States = states
	return doc
}
