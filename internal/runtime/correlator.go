package runtime

import (
	"context"
	"sort"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
)

// DefaultWaitTimeout bounds a wait policy that names a point but no timeout.
const DefaultWaitTimeout = 3 * time.Second

// DefaultPendingMaxAge is how long a response without a wait point is
// drained for before it is given up.
const DefaultPendingMaxAge = 20 * DefaultWaitTimeout

const readCount = 10

// correlateStartOfTurn waits for next_turn pendings and drains everything else.
func (e *Engine) correlateStartOfTurn(ctx context.Context, sess *domain.Session) {
	for _, id := range pendingIDs(sess) {
		p, ok := sess.PendingAPIResponses[id]
		if !ok {
			// Consumed while waiting for another correlation on a shared channel.
			continue
		}
		if p.WaitPolicy.WaitsAt(domain.WaitNextTurn) {
			e.await(ctx, sess, id, p, waitTimeout(p.WaitPolicy))
			continue
		}
		e.drain(ctx, sess, id, p)
	}
}

// correlateBeforeRender waits for before_render pendings.
func (e *Engine) correlateBeforeRender(ctx context.Context, sess *domain.Session) {
	for _, id := range pendingIDs(sess) {
		p, ok := sess.PendingAPIResponses[id]
		if !ok || !p.WaitPolicy.WaitsAt(domain.WaitBeforeRender) {
			continue
		}
		e.await(ctx, sess, id, p, waitTimeout(p.WaitPolicy))
	}
}

// drain performs one short read and leaves the pending in place when nothing
// arrived, until it is older than the pending max age.
func (e *Engine) drain(ctx context.Context, sess *domain.Session, id string, p domain.PendingResponse) {
	if e.streams != nil {
		if err := e.streams.EnsureGroup(ctx, p.ResponseChannelKey, e.group); err != nil {
			e.logger.WarnContext(ctx, "ensure consumer group failed", "channel", p.ResponseChannelKey, "err", err)
		} else if done, err := e.readOnce(ctx, sess, id, p, e.drainBlock); err != nil {
			e.logger.WarnContext(ctx, "drain read failed, will retry next turn", "correlation_id", id, "err", err)
		} else if done {
			return
		}
	}
	if age := e.now().Sub(p.RequestedAt); e.pendingMaxAge > 0 && age >= e.pendingMaxAge {
		e.expire(ctx, sess, id, p, age)
	}
}

// await blocks up to timeout for the response of id. On timeout the pending
// is removed and the fallback, if any, is merged. Transport errors keep the
// pending for a later turn.
func (e *Engine) await(ctx context.Context, sess *domain.Session, id string, p domain.PendingResponse, timeout time.Duration) {
	if e.streams == nil {
		e.logger.WarnContext(ctx, "no stream transport configured, cannot correlate", "correlation_id", id)
		return
	}
	if err := e.streams.EnsureGroup(ctx, p.ResponseChannelKey, e.group); err != nil {
		e.logger.WarnContext(ctx, "ensure consumer group failed", "channel", p.ResponseChannelKey, "err", err)
		return
	}

	// Wall clock, not e.now: the bound must hold even with an injected clock.
	started := time.Now()
	deadline := started.Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			break
		}
		done, err := e.readOnce(ctx, sess, id, p, remaining)
		if err != nil {
			e.logger.WarnContext(ctx, "correlation read failed, will retry next turn", "correlation_id", id, "err", err)
			return
		}
		if done {
			return
		}
	}
	e.expire(ctx, sess, id, p, time.Since(started))
}

// readOnce reads a batch from the channel, applying every message that
// belongs to a pending of this session. It reports whether id was consumed.
func (e *Engine) readOnce(ctx context.Context, sess *domain.Session, id string, p domain.PendingResponse, block time.Duration) (bool, error) {
	msgs, err := e.streams.ReadGroup(ctx, p.ResponseChannelKey, e.group, e.consumer, block, readCount)
	if err != nil {
		return false, err
	}
	consumed := false
	for _, msg := range msgs {
		resp := domain.DecodeResponseMessage(msg.Values)
		target := resp.CorrelationID
		if target == "" {
			target = id
		}
		if owner, ok := sess.PendingAPIResponses[target]; ok {
			e.apply(ctx, sess, target, owner, resp.Result)
			if target == id {
				consumed = true
			}
		} else {
			e.logger.DebugContext(ctx, "ignoring response for unknown correlation", "channel", p.ResponseChannelKey, "correlation_id", resp.CorrelationID)
		}
		if err := e.streams.Ack(ctx, p.ResponseChannelKey, e.group, msg.ID); err != nil {
			e.logger.WarnContext(ctx, "ack failed", "channel", p.ResponseChannelKey, "message_id", msg.ID, "err", err)
		}
	}
	return consumed, nil
}

func (e *Engine) apply(ctx context.Context, sess *domain.Session, id string, p domain.PendingResponse, res domain.CallResult) {
	view := res.View()
	domain.SetResult(sess.Parameters, domain.APIResultsKey, p.ActionID, view)
	if res.OK() {
		if missing := mapOutputs(view, "data", p.Produces, sess.Parameters); len(missing) > 0 {
			e.logger.WarnContext(ctx, "async response lacks declared outputs", "action", p.ActionID, "outputs", missing)
		}
	}
	delete(sess.PendingAPIResponses, id)
	e.logger.DebugContext(ctx, "async response correlated", "action", p.ActionID, "correlation_id", id, "status", res.Status)
	e.emitCorrelation(ctx, sess.ID, p.ActionID, id, domain.CorrelationReceived, e.now().Sub(p.RequestedAt))
}

func (e *Engine) expire(ctx context.Context, sess *domain.Session, id string, p domain.PendingResponse, waited time.Duration) {
	delete(sess.PendingAPIResponses, id)

	if p.WaitPolicy != nil && len(p.WaitPolicy.Fallback) > 0 {
		for k, v := range p.WaitPolicy.Fallback {
			sess.Parameters[k] = v
		}
		res := domain.CallResult{Status: domain.CallTimeoutFallback, Data: p.WaitPolicy.Fallback, IsTimeout: true}
		domain.SetResult(sess.Parameters, domain.APIResultsKey, p.ActionID, res.View())
		e.logger.InfoContext(ctx, "async response timed out, fallback applied", "action", p.ActionID, "correlation_id", id)
		e.emitCorrelation(ctx, sess.ID, p.ActionID, id, domain.CorrelationFallback, waited)
		return
	}

	res := domain.CallResult{Status: domain.CallError, ErrorMessage: domain.ErrCorrelationTimeout.Error(), IsTimeout: true}
	domain.SetResult(sess.Parameters, domain.APIResultsKey, p.ActionID, res.View())
	e.logger.WarnContext(ctx, "async response timed out", "action", p.ActionID, "correlation_id", id)
	e.emitCorrelation(ctx, sess.ID, p.ActionID, id, domain.CorrelationTimeout, waited)
}

func waitTimeout(wp *domain.WaitPolicy) time.Duration {
	if d := wp.Timeout(); d > 0 {
		return d
	}
	return DefaultWaitTimeout
}

// pendingIDs returns correlation ids oldest first.
func pendingIDs(sess *domain.Session) []string {
	ids := make([]string, 0, len(sess.PendingAPIResponses))
	for id := range sess.PendingAPIResponses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := sess.PendingAPIResponses[ids[i]], sess.PendingAPIResponses[ids[j]]
		if !a.RequestedAt.Equal(b.RequestedAt) {
			return a.RequestedAt.Before(b.RequestedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}
