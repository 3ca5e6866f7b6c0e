package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStateEnter    EventType = "state_enter"
	EventStateLeave    EventType = "state_leave"
	EventActionStart   EventType = "action_start"
	EventActionFinish  EventType = "action_finish"
	EventCorrelation   EventType = "correlation"
	EventTurnCompleted EventType = "turn_completed"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// StateEvent represents entry into or exit from a state.
type StateEvent struct {
	EventBase
	StateID string `json:"state_id"`
	// Skipped is true for intermediate states crossed in a multi-hop transition.
	Skipped bool `json:"skipped,omitempty"`
}

// ActionEvent represents an action execution.
type ActionEvent struct {
	EventBase
	ActionID      string        `json:"action_id"`
	Kind          ActionKind    `json:"kind"`
	Mode          ExecutionMode `json:"mode"`
	OriginStateID string        `json:"origin_state_id"`
	Status        ActionStatus  `json:"status,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// CorrelationOutcome is how a pending asynchronous response ended.
type CorrelationOutcome string

const (
	CorrelationReceived CorrelationOutcome = "received"
	CorrelationTimeout  CorrelationOutcome = "timeout"
	CorrelationFallback CorrelationOutcome = "fallback"
)

// CorrelationEvent represents a pending response being consumed or expiring.
type CorrelationEvent struct {
	EventBase
	ActionID      string             `json:"action_id"`
	CorrelationID string             `json:"correlation_id"`
	Outcome       CorrelationOutcome `json:"outcome"`
	Waited        time.Duration      `json:"waited"`
}

// TurnEvent summarizes a finished turn.
type TurnEvent struct {
	EventBase
	FromStateID string        `json:"from_state_id"`
	ToStateID   string        `json:"to_state_id"`
	Duration    time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStateEnter    func(context.Context, *StateEvent)
	OnStateLeave    func(context.Context, *StateEvent)
	OnActionStart   func(context.Context, *ActionEvent)
	OnActionFinish  func(context.Context, *ActionEvent)
	OnCorrelation   func(context.Context, *CorrelationEvent)
	OnTurnCompleted func(context.Context, *TurnEvent)
}
