package runtime

import (
	"context"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
)

func (e *Engine) base(sessionID string, t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, SessionID: sessionID}
}

func (e *Engine) emitStateEnter(ctx context.Context, sessionID, stateID string, skipped bool) {
	if e.hooks.OnStateEnter == nil {
		return
	}
	e.hooks.OnStateEnter(ctx, &domain.StateEvent{
		EventBase: e.base(sessionID, domain.EventStateEnter),
		StateID:   stateID,
		Skipped:   skipped,
	})
}

func (e *Engine) emitStateLeave(ctx context.Context, sessionID, stateID string) {
	if e.hooks.OnStateLeave == nil {
		return
	}
	e.hooks.OnStateLeave(ctx, &domain.StateEvent{
		EventBase: e.base(sessionID, domain.EventStateLeave),
		StateID:   stateID,
	})
}

func (e *Engine) emitActionStart(ctx context.Context, sessionID string, a *domain.Action) {
	if e.hooks.OnActionStart == nil {
		return
	}
	e.hooks.OnActionStart(ctx, e.actionEvent(sessionID, domain.EventActionStart, a, 0))
}

func (e *Engine) emitActionFinish(ctx context.Context, sessionID string, a *domain.Action, d time.Duration) {
	if e.hooks.OnActionFinish == nil {
		return
	}
	e.hooks.OnActionFinish(ctx, e.actionEvent(sessionID, domain.EventActionFinish, a, d))
}

func (e *Engine) actionEvent(sessionID string, t domain.EventType, a *domain.Action, d time.Duration) *domain.ActionEvent {
	return &domain.ActionEvent{
		EventBase:     e.base(sessionID, t),
		ActionID:      a.ID,
		Kind:          a.Kind,
		Mode:          a.Mode,
		OriginStateID: a.OriginStateID,
		Status:        a.Status,
		Duration:      d,
	}
}

func (e *Engine) emitCorrelation(ctx context.Context, sessionID, actionID, correlationID string, outcome domain.CorrelationOutcome, waited time.Duration) {
	if e.hooks.OnCorrelation == nil {
		return
	}
	e.hooks.OnCorrelation(ctx, &domain.CorrelationEvent{
		EventBase:     e.base(sessionID, domain.EventCorrelation),
		ActionID:      actionID,
		CorrelationID: correlationID,
		Outcome:       outcome,
		Waited:        waited,
	})
}

func (e *Engine) emitTurnCompleted(ctx context.Context, sessionID, from, to string, d time.Duration) {
	if e.hooks.OnTurnCompleted == nil {
		return
	}
	e.hooks.OnTurnCompleted(ctx, &domain.TurnEvent{
		EventBase:   e.base(sessionID, domain.EventTurnCompleted),
		FromStateID: from,
		ToStateID:   to,
		Duration:    d,
	})
}
