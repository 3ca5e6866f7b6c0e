package runtime

import (
	"fmt"
	"log/slog"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/ports"
)

// PlanInput describes where the session is heading this turn.
type PlanInput struct {
	Params map[string]any
	// CandidateStateID is the resolved target of the turn.
	CandidateStateID string
	// Skipped are the states crossed on the way to the candidate.
	Skipped []string
	// Entering is true when the candidate's entry actions are owed in full.
	Entering bool
	// OwedEntryID is a state whose entry actions were interrupted by a redirect.
	OwedEntryID string
}

// Planner collects the action plan of a turn.
type Planner struct {
	States   ports.StateProvider
	APIs     ports.APIProvider
	Renderer ports.Renderer
	Logger   *slog.Logger
}

// Collect returns the ordered plan: owed entry state, skipped states, then the
// candidate, followed by actions induced by the candidate's outbound payload.
// An unknown API id or an async script is a ConfigurationError.
func (p *Planner) Collect(in PlanInput) ([]*domain.Action, error) {
	var (
		plan  []*domain.Action
		seen  = make(map[string]int)
		order = make([]string, 0, len(in.Skipped)+2)
	)
	if in.OwedEntryID != "" && in.OwedEntryID != in.CandidateStateID && !contains(in.Skipped, in.OwedEntryID) {
		order = append(order, in.OwedEntryID)
	}
	order = append(order, in.Skipped...)
	order = append(order, in.CandidateStateID)

	for _, stateID := range order {
		st, ok := p.States.State(stateID)
		if !ok {
			return nil, domain.NewConfigurationError(stateID, "state does not exist")
		}
		staying := stateID == in.CandidateStateID && !in.Entering
		for i, spec := range st.OnEntry {
			a, err := p.buildAction(stateID, spec)
			if err != nil {
				return nil, domain.NewConfigurationError(fmt.Sprintf("%s.on_entry[%d]", stateID, i), "%s", err)
			}
			// Staying only refills missing outputs; side effects run on entry.
			if staying && len(a.ProducedNames()) == 0 {
				continue
			}
			a.UniqueID = uniqueID(seen, stateID, a.ID)
			plan = append(plan, a)
		}
	}

	return p.induce(plan, in, seen), nil
}

func (p *Planner) buildAction(origin string, spec domain.ActionSpec) (*domain.Action, error) {
	a := &domain.Action{
		Kind:                  spec.Type,
		ID:                    spec.ID,
		Mode:                  spec.Mode,
		OriginStateID:         origin,
		AssignTo:              spec.AssignTo,
		WaitPolicy:            spec.WaitPolicy,
		AllowForceTransition:  spec.AllowForceTransition,
		AssignCorrelationIDTo: spec.AssignCorrelationIDTo,
		Status:                domain.StatusPending,
	}
	if a.Mode == "" {
		a.Mode = domain.ModeSync
	}

	switch spec.Type {
	case domain.ActionAPI:
		def, ok := p.APIs.APIDefinition(spec.ID)
		if !ok {
			return nil, fmt.Errorf("unknown API id %q", spec.ID)
		}
		a.Consumes = mergeBindings(def.Consumes, spec.Consumes)
		a.Produces = def.Produces
		if len(spec.Produces) > 0 {
			a.Produces = spec.Produces
		}
	case domain.ActionScript:
		if a.Mode == domain.ModeAsync {
			return nil, fmt.Errorf("script %q cannot run async", spec.ID)
		}
		if spec.Script == nil {
			return nil, fmt.Errorf("script %q has no script reference", spec.ID)
		}
		ref := *spec.Script
		a.Script = &ref
		a.Consumes = spec.Consumes
		a.Produces = spec.Produces
	default:
		return nil, fmt.Errorf("unknown action type %q", spec.Type)
	}
	return a, nil
}

// induce appends a sync API action for every payload placeholder that is
// missing and that no sync plan action produces.
func (p *Planner) induce(plan []*domain.Action, in PlanInput, seen map[string]int) []*domain.Action {
	if p.Renderer == nil {
		return plan
	}
	st, _ := p.States.State(in.CandidateStateID)
	if len(st.PayloadResponse) == 0 {
		return plan
	}

	for _, name := range p.Renderer.Placeholders(st.PayloadResponse) {
		if domain.IsPresent(in.Params, name) {
			continue
		}
		var syncProducer, asyncProducer *domain.Action
		for _, a := range plan {
			if !produces(a, name) {
				continue
			}
			if a.IsSync() {
				syncProducer = a
				break
			}
			if asyncProducer == nil {
				asyncProducer = a
			}
		}
		if syncProducer != nil {
			continue
		}
		if asyncProducer != nil {
			p.Logger.Warn("payload parameter is only produced asynchronously; it may not be ready in time",
				"state", in.CandidateStateID, "param", name, "action", asyncProducer.UniqueID)
			continue
		}

		def, ok := p.firstProducer(name)
		if !ok {
			continue
		}
		a := &domain.Action{
			Kind:              domain.ActionAPI,
			ID:                def.ID,
			Mode:              domain.ModeSync,
			OriginStateID:     in.CandidateStateID,
			Consumes:          def.Consumes,
			Produces:          def.Produces,
			Induced:           true,
			CriticalForPrompt: true,
			Status:            domain.StatusPending,
		}
		a.UniqueID = uniqueID(seen, in.CandidateStateID, def.ID)
		p.Logger.Debug("induced action for payload parameter", "param", name, "action", a.UniqueID)
		plan = append(plan, a)
	}
	return plan
}

// firstProducer searches API definitions in id order.
func (p *Planner) firstProducer(name string) (domain.APIDefinition, bool) {
	for _, def := range p.APIs.APIDefinitions() {
		if _, ok := def.Produces[name]; ok {
			return def, true
		}
	}
	return domain.APIDefinition{}, false
}

func produces(a *domain.Action, name string) bool {
	if a.AssignTo == name {
		return true
	}
	_, ok := a.Produces[name]
	return ok
}

// mergeBindings overlays overrides on base by Name, keeping base order.
func mergeBindings(base, overrides []domain.Binding) []domain.Binding {
	if len(overrides) == 0 {
		return base
	}
	out := make([]domain.Binding, 0, len(base)+len(overrides))
	idx := make(map[string]int, len(base))
	for _, b := range base {
		idx[b.Name] = len(out)
		out = append(out, b)
	}
	for _, b := range overrides {
		if i, ok := idx[b.Name]; ok {
			out[i] = b
			continue
		}
		idx[b.Name] = len(out)
		out = append(out, b)
	}
	return out
}

func uniqueID(seen map[string]int, origin, id string) string {
	base := origin + "/" + id
	seen[base]++
	if n := seen[base]; n > 1 {
		return fmt.Sprintf("%s#%d", base, n)
	}
	return base
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
