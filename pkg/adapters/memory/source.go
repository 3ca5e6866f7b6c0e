package memory

import (
	"context"
	"fmt"

	"github.com/egorky/iafsm/pkg/domain"
)

// Source implements ports.ConfigSource over configuration built in code.
type Source struct {
	doc  domain.StatesDocument
	apis []domain.APIDefinition
}

// NewSource creates a source from a states document and API definitions.
func NewSource(doc domain.StatesDocument, apis ...domain.APIDefinition) *Source {
	return &Source{doc: doc, apis: apis}
}

// NewFromStates creates a source from state values, keyed by their ID.
// This avoids building the states map by hand in tests.
func NewFromStates(initial string, states ...domain.StateConfig) (*Source, error) {
	doc := domain.StatesDocument{InitialState: initial, States: make(map[string]domain.StateConfig, len(states))}
	for _, st := range states {
		if st.ID == "" {
			return nil, fmt.Errorf("state missing ID")
		}
		doc.States[st.ID] = st
	}
	return &Source{doc: doc}, nil
}

// WithAPIs adds API definitions to the source.
func (s *Source) WithAPIs(apis ...domain.APIDefinition) *Source {
	s.apis = append(s.apis, apis...)
	return s
}

// Load returns the configured snapshot.
func (s *Source) Load(_ context.Context) (domain.StatesDocument, []domain.APIDefinition, error) {
	states := make(map[string]domain.StateConfig, len(s.doc.States))
	for id, st := range s.doc.States {
		states[id] = st
	}
	apis := append([]domain.APIDefinition(nil), s.apis...)
	return domain.StatesDocument{InitialState: s.doc.InitialState, States: states}, apis, nil
}
