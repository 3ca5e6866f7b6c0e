package runtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/egorky/iafsm/internal/config"
	"github.com/egorky/iafsm/pkg/adapters/memory"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
	"github.com/stretchr/testify/require"
)

func catalog(t *testing.T, initial string, states []domain.StateConfig, apis ...domain.APIDefinition) *config.Catalog {
	t.Helper()
	src, err := memory.NewFromStates(initial, states...)
	require.NoError(t, err)
	cat, err := config.New(context.Background(), src.WithAPIs(apis...))
	require.NoError(t, err)
	return cat
}

func boolPtr(b bool) *bool { return &b }

// fakeCaller answers synchronous calls from a table and records them.
type fakeCaller struct {
	mu       sync.Mutex
	results  map[string]domain.CallResult
	calls    []string
	requests []ports.CallRequest
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{results: make(map[string]domain.CallResult)}
}

func (f *fakeCaller) respond(apiID string, data any) *fakeCaller {
	f.results[apiID] = domain.CallResult{Status: domain.CallSuccess, HTTPCode: 200, Data: data}
	return f
}

func (f *fakeCaller) fail(apiID string, code int, msg string) *fakeCaller {
	f.results[apiID] = domain.CallResult{Status: domain.CallError, HTTPCode: code, ErrorMessage: msg}
	return f
}

func (f *fakeCaller) Call(_ context.Context, def domain.APIDefinition, req ports.CallRequest) domain.CallResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, def.ID)
	f.requests = append(f.requests, req)
	if r, ok := f.results[def.ID]; ok {
		return r
	}
	return domain.CallResult{Status: domain.CallSuccess, HTTPCode: 200, Data: map[string]any{}}
}

func (f *fakeCaller) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeDispatcher records dispatches. When reply is set for an API, it
// publishes that result on the response channel right away.
type fakeDispatcher struct {
	mu       sync.Mutex
	streams  ports.StreamTransport
	reply    map[string]domain.CallResult
	requests []ports.DispatchRequest
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, def domain.APIDefinition, req ports.DispatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	if res, ok := f.reply[def.ID]; ok && f.streams != nil {
		fields, err := domain.ResponseMessage{
			CorrelationID: req.CorrelationID,
			SessionID:     req.SessionID,
			APIID:         def.ID,
			Result:        res,
		}.Fields()
		if err != nil {
			return err
		}
		_, err = f.streams.Publish(ctx, req.ResponseChannelKey, fields, 1000)
		return err
	}
	return nil
}

func (f *fakeDispatcher) last() ports.DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeScripts maps function names to Go implementations.
type fakeScripts map[string]func(params map[string]any) (domain.ScriptOutcome, error)

func (f fakeScripts) Run(_ context.Context, ref domain.ScriptRef, params map[string]any, _ string) (domain.ScriptOutcome, error) {
	fn, ok := f[ref.Function]
	if !ok {
		return nil, fmt.Errorf("function %s not found in %s", ref.Function, ref.File)
	}
	return fn(params)
}

func statusOf(t *testing.T, res *domain.TurnResult, uniqueID string) domain.ActionStatus {
	t.Helper()
	for _, a := range res.Actions {
		if a.UniqueID == uniqueID {
			return a.Status
		}
	}
	t.Fatalf("action %s not in plan: %+v", uniqueID, res.Actions)
	return ""
}
