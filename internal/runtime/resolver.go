package runtime

import (
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// ResolveReason explains which rule picked the candidate state.
type ResolveReason string

const (
	ReasonIntent        ResolveReason = "intent"
	ReasonParametersMet ResolveReason = "all_parameters_met"
	ReasonParametersNot ResolveReason = "parameters_not_met"
	ReasonDefault       ResolveReason = "default_next_state"
	ReasonStay          ResolveReason = "stay"
)

// Resolution is the outcome of ResolveNextState.
type Resolution struct {
	StateID string
	Reason  ResolveReason
}

// ResolveNextState picks the candidate state for this turn. Rules, first match wins:
//  1. a transition guarded by an intent equal to intent;
//  2. a transition without intent guard: all_parameters_met true (or unset)
//     requires every required parameter of the current state, false matches always;
//  3. default_next_state, gated on the required parameters;
//  4. stay.
func ResolveNextState(state domain.StateConfig, intent string, params map[string]any) Resolution {
	if intent != "" {
		for _, t := range state.Transitions {
			if t.Condition.Intent == intent {
				return Resolution{StateID: t.NextState, Reason: ReasonIntent}
			}
		}
	}

	met := len(domain.MissingKeys(params, state.Parameters.Required)) == 0

	for _, t := range state.Transitions {
		if t.Condition.Intent != "" {
			continue
		}
		want := t.Condition.AllParametersMet
		if want == nil || *want {
			if met {
				return Resolution{StateID: t.NextState, Reason: ReasonParametersMet}
			}
			continue
		}
		return Resolution{StateID: t.NextState, Reason: ReasonParametersNot}
	}

	if state.DefaultNextState != "" && met {
		return Resolution{StateID: state.DefaultNextState, Reason: ReasonDefault}
	}
	return Resolution{StateID: state.ID, Reason: ReasonStay}
}

// FindSkippedStates returns the states strictly between from and to on the
// shortest path over transitions and default edges, in traversal order.
// found is false when no path exists; the caller treats that as no skipped states.
func FindSkippedStates(states ports.StateProvider, from, to string) (skipped []string, found bool) {
	if from == to {
		return nil, true
	}
	parent := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		st, ok := states.State(id)
		if !ok {
			continue
		}
		for _, next := range st.Targets() {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = id
			if next == to {
				var path []string
				for cur := id; cur != from; cur = parent[cur] {
					path = append(path, cur)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}
