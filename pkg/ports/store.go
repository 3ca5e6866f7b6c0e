package ports

import (
	"context"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
)

// SessionStore defines the interface for persisting sessions.
// Records expire after their TTL; a zero TTL keeps them indefinitely.
type SessionStore interface {
	// Save persists the session under sessionID with the given TTL.
	Save(ctx context.Context, sessionID string, session *domain.Session, ttl time.Duration) error

	// Load retrieves the session for sessionID.
	// Returns domain.ErrSessionNotFound if the session does not exist or expired.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the session for sessionID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the ids of all live sessions.
	List(ctx context.Context) ([]string, error)
}
