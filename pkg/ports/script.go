package ports

import (
	"context"

	"github.com/egorky/iafsm/pkg/domain"
)

// ScriptRunner executes a user-supplied script function.
// A returned error means the script could not run or threw; handled failures
// come back as domain.ScriptError.
type ScriptRunner interface {
	Run(ctx context.Context, ref domain.ScriptRef, params map[string]any, sessionID string) (domain.ScriptOutcome, error)
}
