package observability

import (
	"context"
	"log/slog"

	"github.com/egorky/iafsm/pkg/domain"
)

// LogHooks logs every lifecycle event at debug level, except finished
// turns and failed actions.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_enter", "session_id", e.SessionID, "state_id", e.StateID, "skipped", e.Skipped)
		},
		OnStateLeave: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_leave", "session_id", e.SessionID, "state_id", e.StateID)
		},
		OnActionStart: func(ctx context.Context, e *domain.ActionEvent) {
			logger.DebugContext(ctx, "action_start", "session_id", e.SessionID, "action_id", e.ActionID, "kind", e.Kind, "mode", e.Mode)
		},
		OnActionFinish: func(ctx context.Context, e *domain.ActionEvent) {
			level := slog.LevelDebug
			switch e.Status {
			case domain.StatusError, domain.StatusUnresolved, domain.StatusCyclic:
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "action_finish", "session_id", e.SessionID, "action_id", e.ActionID, "status", e.Status, "duration", e.Duration)
		},
		OnCorrelation: func(ctx context.Context, e *domain.CorrelationEvent) {
			logger.DebugContext(ctx, "correlation", "session_id", e.SessionID, "action_id", e.ActionID, "correlation_id", e.CorrelationID, "outcome", e.Outcome, "waited", e.Waited)
		},
		OnTurnCompleted: func(ctx context.Context, e *domain.TurnEvent) {
			logger.InfoContext(ctx, "turn_completed", "session_id", e.SessionID, "from", e.FromStateID, "to", e.ToStateID, "duration", e.Duration)
		},
	}
}

// Combine fans each hook out to every set, in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnStateEnter = chain(out.OnStateEnter, h.OnStateEnter)
		out.OnStateLeave = chain(out.OnStateLeave, h.OnStateLeave)
		out.OnActionStart = chain(out.OnActionStart, h.OnActionStart)
		out.OnActionFinish = chain(out.OnActionFinish, h.OnActionFinish)
		out.OnCorrelation = chain(out.OnCorrelation, h.OnCorrelation)
		out.OnTurnCompleted = chain(out.OnTurnCompleted, h.OnTurnCompleted)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
