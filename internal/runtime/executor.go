package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/egorky/iafsm/internal/templating"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// runSync executes the scheduled actions in order. It returns the redirect
// requested by a script, which ends the synchronous pass.
func (e *Engine) runSync(ctx context.Context, sess *domain.Session, order []*domain.Action) *domain.ForceTransition {
	for i, a := range order {
		if a.Status != domain.StatusPending {
			continue
		}
		if allPresent(sess.Parameters, a.ProducedNames()) {
			a.Mark(domain.StatusSkipped, "outputs already present")
			continue
		}
		bound, missing := resolveBindings(a, sess.Parameters, sess.View())
		if len(missing) > 0 {
			err := &domain.UnresolvedDependencyError{ActionID: a.UniqueID, Missing: missing}
			a.Mark(domain.StatusUnresolved, err.Error())
			e.logger.DebugContext(ctx, "action unresolved at execution", "action", a.UniqueID, "missing", missing)
			continue
		}

		started := e.now()
		e.emitActionStart(ctx, sess.ID, a)
		var forced *domain.ForceTransition
		switch a.Kind {
		case domain.ActionAPI:
			e.callAPI(ctx, sess, a, bound)
		case domain.ActionScript:
			forced = e.runScript(ctx, sess, a, bound)
		default:
			a.Mark(domain.StatusError, fmt.Sprintf("unknown action kind %q", a.Kind))
		}
		e.emitActionFinish(ctx, sess.ID, a, e.now().Sub(started))

		if forced != nil {
			reason := "flow redirected to " + forced.Target
			for _, rest := range order[i+1:] {
				if rest.Status == domain.StatusPending {
					rest.Mark(domain.StatusSkipped, reason)
				}
			}
			return forced
		}
	}
	return nil
}

func (e *Engine) callAPI(ctx context.Context, sess *domain.Session, a *domain.Action, bound map[string]any) {
	def, ok := e.apis.APIDefinition(a.ID)
	if !ok {
		a.Mark(domain.StatusError, fmt.Sprintf("API definition %q no longer exists", a.ID))
		return
	}
	if e.caller == nil {
		a.Mark(domain.StatusError, "no API caller configured")
		return
	}

	res := e.caller.Call(ctx, def, ports.CallRequest{
		CorrelationID: e.newID(),
		SessionID:     sess.ID,
		Params:        bound,
	})
	view := res.View()
	domain.SetResult(sess.Parameters, domain.APIResultsKey, a.ID, view)

	if !res.OK() {
		err := &domain.ActionExecutionError{ActionID: a.UniqueID, Message: res.ErrorMessage}
		if res.HTTPCode != 0 {
			err.Code = strconv.Itoa(res.HTTPCode)
		}
		if res.IsTimeout {
			err.Code = "TIMEOUT"
		}
		a.Mark(domain.StatusError, err.Error())
		e.logger.WarnContext(ctx, "API call failed", "action", a.UniqueID, "err", err)
		return
	}
	if missing := mapOutputs(view, "data", a.Produces, sess.Parameters); len(missing) > 0 {
		e.logger.WarnContext(ctx, "API response lacks declared outputs", "action", a.UniqueID, "outputs", missing)
	}
	a.Mark(domain.StatusDone, "")
}

func (e *Engine) runScript(ctx context.Context, sess *domain.Session, a *domain.Action, bound map[string]any) *domain.ForceTransition {
	if e.scripts == nil {
		a.Mark(domain.StatusError, "no script runner configured")
		return nil
	}
	outcome, err := e.scripts.Run(ctx, *a.Script, bound, sess.ID)
	if err != nil {
		execErr := &domain.ActionExecutionError{ActionID: a.UniqueID, Cause: err}
		domain.SetResult(sess.Parameters, domain.ScriptResultsKey, a.ID, map[string]any{
			"status":  domain.ScriptStatusError,
			"message": err.Error(),
		})
		a.Mark(domain.StatusError, execErr.Error())
		e.logger.WarnContext(ctx, "script failed", "action", a.UniqueID, "err", err)
		return nil
	}

	switch o := outcome.(type) {
	case domain.ScriptError:
		domain.SetResult(sess.Parameters, domain.ScriptResultsKey, a.ID, map[string]any{
			"status":  domain.ScriptStatusError,
			"message": o.Message,
			"code":    o.Code,
		})
		execErr := &domain.ActionExecutionError{ActionID: a.UniqueID, Code: o.Code, Message: o.Message}
		a.Mark(domain.StatusError, execErr.Error())
		return nil

	case domain.ForceTransition:
		domain.SetResult(sess.Parameters, domain.ScriptResultsKey, a.ID, map[string]any{
			"status": domain.ScriptStatusForceTransition,
			"target": o.Target,
			"intent": o.Intent,
		})
		if !a.AllowForceTransition {
			e.logger.WarnContext(ctx, "script requested a transition it is not allowed to force", "action", a.UniqueID, "target", o.Target)
			a.Mark(domain.StatusDone, "force transition ignored")
			return nil
		}
		if _, ok := e.states.State(o.Target); !ok {
			err := &domain.ActionExecutionError{ActionID: a.UniqueID, Code: "UNKNOWN_STATE", Message: "force transition to unknown state " + o.Target}
			a.Mark(domain.StatusError, err.Error())
			return nil
		}
		for k, v := range o.Params {
			sess.Parameters[k] = v
		}
		a.Mark(domain.StatusDone, "")
		return &o

	case domain.ScriptSuccess:
		e.assignScriptOutput(ctx, sess, a, o.Value)
	default:
		e.assignScriptOutput(ctx, sess, a, nil)
	}
	return nil
}

func (e *Engine) assignScriptOutput(ctx context.Context, sess *domain.Session, a *domain.Action, value any) {
	domain.SetResult(sess.Parameters, domain.ScriptResultsKey, a.ID, value)
	if a.AssignTo != "" {
		sess.Parameters[a.AssignTo] = value
	}
	if len(a.Produces) > 0 {
		view := map[string]any{"output": value}
		if missing := mapOutputs(view, "output", a.Produces, sess.Parameters); len(missing) > 0 {
			e.logger.WarnContext(ctx, "script output lacks declared outputs", "action", a.UniqueID, "outputs", missing)
		}
	}
	a.Mark(domain.StatusDone, "")
}

// dispatchAsync fires the asynchronous actions and registers their pending responses.
func (e *Engine) dispatchAsync(ctx context.Context, sess *domain.Session, actions []*domain.Action) {
	for _, a := range actions {
		if a.Status != domain.StatusPending {
			continue
		}
		if a.Kind != domain.ActionAPI {
			a.Mark(domain.StatusError, "only API actions can run async")
			continue
		}
		if hasPending(sess, a.ID) {
			a.Mark(domain.StatusSkipped, "response already pending")
			continue
		}
		if allPresent(sess.Parameters, a.ProducedNames()) {
			a.Mark(domain.StatusSkipped, "outputs already present")
			continue
		}
		bound, missing := resolveBindings(a, sess.Parameters, sess.View())
		if len(missing) > 0 {
			err := &domain.UnresolvedDependencyError{ActionID: a.UniqueID, Missing: missing}
			a.Mark(domain.StatusUnresolved, err.Error())
			continue
		}
		def, ok := e.apis.APIDefinition(a.ID)
		if !ok {
			a.Mark(domain.StatusError, fmt.Sprintf("API definition %q no longer exists", a.ID))
			continue
		}
		if e.dispatcher == nil {
			a.Mark(domain.StatusError, "no API dispatcher configured")
			continue
		}

		started := e.now()
		e.emitActionStart(ctx, sess.ID, a)

		correlationID := e.newID()
		channel := e.responseChannel(ctx, def, correlationID, sess.ID, bound)
		err := e.dispatcher.Dispatch(ctx, def, ports.DispatchRequest{
			CallRequest: ports.CallRequest{
				CorrelationID: correlationID,
				SessionID:     sess.ID,
				Params:        bound,
			},
			ResponseChannelKey: channel,
		})
		if err != nil {
			execErr := &domain.ActionExecutionError{ActionID: a.UniqueID, Code: "DISPATCH", Cause: err}
			a.Mark(domain.StatusError, execErr.Error())
			e.logger.WarnContext(ctx, "async dispatch failed", "action", a.UniqueID, "err", err)
			e.emitActionFinish(ctx, sess.ID, a, e.now().Sub(started))
			continue
		}

		produces := make(map[string]string, len(a.Produces))
		for k, v := range a.Produces {
			produces[k] = v
		}
		sess.PendingAPIResponses[correlationID] = domain.PendingResponse{
			ActionID:           a.ID,
			ResponseChannelKey: channel,
			RequestedAt:        e.now().UTC(),
			OriginStateID:      a.OriginStateID,
			Produces:           produces,
			WaitPolicy:         a.WaitPolicy,
		}
		if a.AssignCorrelationIDTo != "" {
			sess.Parameters[a.AssignCorrelationIDTo] = correlationID
		}
		a.Mark(domain.StatusDispatched, "")
		e.logger.DebugContext(ctx, "async action dispatched", "action", a.UniqueID, "correlation_id", correlationID, "channel", channel)
		e.emitActionFinish(ctx, sess.ID, a, e.now().Sub(started))
	}
}

// responseChannel renders the channel an async response is expected on.
func (e *Engine) responseChannel(ctx context.Context, def domain.APIDefinition, correlationID, sessionID string, bound map[string]any) string {
	tmpl := def.ResponseChannelTemplate
	if tmpl == "" {
		tmpl = e.channelTemplate
	}
	data := domain.CopyParameters(bound)
	data["apiId"] = def.ID
	data["correlationId"] = correlationID
	data["sessionId"] = sessionID

	out, err := e.renderer.Render(ctx, tmpl, data)
	if err != nil {
		e.logger.WarnContext(ctx, "response channel template failed, using default", "api", def.ID, "err", err)
		out, _ = e.renderer.Render(ctx, DefaultResponseChannelTemplate, data)
	}
	return templating.Stringify(out)
}

func hasPending(sess *domain.Session, actionID string) bool {
	for _, p := range sess.PendingAPIResponses {
		if p.ActionID == actionID {
			return true
		}
	}
	return false
}
