package dsl

import (
	"fmt"

	"github.com/egorky/iafsm/internal/config"
	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/domain"
)

// Builder manages the configuration construction.
type Builder struct {
	initial string
	order   []string
	states  map[string]*StateBuilder
	apis    []domain.APIDefinition
}

// New creates a builder whose sessions start at initial.
func New(initial string) *Builder {
	return &Builder{
		initial: initial,
		states:  make(map[string]*StateBuilder),
	}
}

// State returns the builder of a state, creating it on first use.
func (b *Builder) State(id string) *StateBuilder {
	if sb, ok := b.states[id]; ok {
		return sb
	}
	sb := &StateBuilder{state: domain.StateConfig{ID: id}}
	b.states[id] = sb
	b.order = append(b.order, id)
	return sb
}

// API registers an API definition.
func (b *Builder) API(def domain.APIDefinition) *Builder {
	b.apis = append(b.apis, def)
	return b
}

// Document returns the states document built so far.
func (b *Builder) Document() domain.StatesDocument {
	doc := domain.StatesDocument{
		InitialState: b.initial,
		States:       make(map[string]domain.StateConfig, len(b.states)),
	}
	for _, id := range b.order {
		doc.States[id] = b.states[id].Build()
	}
	return doc
}

// Build validates the configuration and compiles it into a memory source.
// Lint warnings do not fail the build.
func (b *Builder) Build() (*memory.Source, error) {
	doc := b.Document()
	if err := config.Validate(doc, b.apis).Err(false); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return memory.NewSource(doc, b.apis...), nil
}
