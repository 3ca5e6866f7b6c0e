package ports

import (
	"context"

	"github.com/egorky/iafsm/pkg/domain"
)

// CallRequest carries the bound inputs of one API invocation.
type CallRequest struct {
	CorrelationID string
	SessionID     string
	Params        map[string]any
}

// DispatchRequest is a CallRequest plus the channel where the result must be published.
type DispatchRequest struct {
	CallRequest
	ResponseChannelKey string
}

// APICaller performs a call and waits for it. Failures are reported in the result, never as panics.
type APICaller interface {
	Call(ctx context.Context, def domain.APIDefinition, req CallRequest) domain.CallResult
}

// APIDispatcher starts a call without waiting. The eventual result lands on req.ResponseChannelKey.
type APIDispatcher interface {
	Dispatch(ctx context.Context, def domain.APIDefinition, req DispatchRequest) error
}
