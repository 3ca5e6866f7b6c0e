package ports

import (
	"context"

	"github.com/egorky/iafsm/pkg/domain"
)

// StateProvider gives read-only access to state configuration.
type StateProvider interface {
	State(id string) (domain.StateConfig, bool)
	InitialStateID() string
	// StateIDs lists every configured state, sorted.
	StateIDs() []string
}

// APIProvider gives read-only access to API definitions.
type APIProvider interface {
	APIDefinition(id string) (domain.APIDefinition, bool)
	// APIDefinitions lists every definition sorted by id.
	APIDefinitions() []domain.APIDefinition
}

// ConfigSource loads a complete configuration snapshot.
type ConfigSource interface {
	Load(ctx context.Context) (domain.StatesDocument, []domain.APIDefinition, error)
}

// Watchable is implemented by sources that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel that receives the id or path of whatever changed.
	Watch(ctx context.Context) (<-chan string, error)
}
