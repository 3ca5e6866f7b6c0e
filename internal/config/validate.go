package config

import (
	"fmt"
	"sort"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/hashicorp/go-multierror"
)

// Report is the outcome of Validate.
type Report struct {
	// Errors make the configuration unusable.
	Errors *multierror.Error
	// Warnings are lint findings; they become errors in strict mode.
	Warnings []string
}

// Err returns the aggregated error, or nil when the configuration is usable.
func (r Report) Err(strict bool) error {
	var result *multierror.Error
	if r.Errors != nil {
		result = multierror.Append(result, r.Errors.Errors...)
	}
	if strict {
		for _, w := range r.Warnings {
			result = multierror.Append(result, fmt.Errorf("lint: %s", w))
		}
	}
	return result.ErrorOrNil()
}

// Validate checks references across states and API definitions.
func Validate(doc domain.StatesDocument, apis []domain.APIDefinition) Report {
	var r Report
	fail := func(ref, format string, args ...any) {
		r.Errors = multierror.Append(r.Errors, domain.NewConfigurationError(ref, format, args...))
	}

	if len(doc.States) == 0 {
		fail("states", "no states configured")
	}
	if doc.InitialState == "" {
		fail("initial_state", "initial state is not set")
	} else if _, ok := doc.States[doc.InitialState]; !ok {
		fail("initial_state", "initial state %q does not exist", doc.InitialState)
	}

	apiByID := make(map[string]domain.APIDefinition, len(apis))
	for _, d := range apis {
		if d.ID == "" {
			fail("api_definitions", "definition with url %q has no id", d.URL)
			continue
		}
		if _, dup := apiByID[d.ID]; dup {
			fail(d.ID, "duplicate API definition")
		}
		apiByID[d.ID] = d
		if d.URL == "" {
			fail(d.ID, "url is required")
		}
	}

	producers := make(map[string]string)
	for _, id := range sortedStateIDs(doc) {
		st := doc.States[id]
		for _, target := range st.Targets() {
			if _, ok := doc.States[target]; !ok {
				fail(id, "transition target %q does not exist", target)
			}
		}
		for i, spec := range st.OnEntry {
			ref := fmt.Sprintf("%s.on_entry[%d]", id, i)
			switch spec.Type {
			case domain.ActionAPI:
				def, ok := apiByID[spec.ID]
				if !ok {
					fail(ref, "unknown API id %q", spec.ID)
					continue
				}
				outs := spec.Produces
				if len(outs) == 0 {
					outs = def.Produces
				}
				for name := range outs {
					noteProducer(&r, producers, name, string(spec.Type)+":"+spec.ID, ref)
				}
			case domain.ActionScript:
				if spec.Script == nil || spec.Script.File == "" || spec.Script.Function == "" {
					fail(ref, "script action %q needs script.file and script.function", spec.ID)
				}
				if spec.Mode == domain.ModeAsync {
					fail(ref, "script action %q cannot be async", spec.ID)
				}
				if spec.AssignTo != "" {
					noteProducer(&r, producers, spec.AssignTo, string(spec.Type)+":"+spec.ID, ref)
				}
				for name := range spec.Produces {
					noteProducer(&r, producers, name, string(spec.Type)+":"+spec.ID, ref)
				}
			default:
				fail(ref, "unknown action type %q", spec.Type)
			}
			if spec.Mode != "" && spec.Mode != domain.ModeSync && spec.Mode != domain.ModeAsync {
				fail(ref, "unknown mode %q", spec.Mode)
			}
			if wp := spec.WaitPolicy; wp != nil {
				switch wp.Point {
				case domain.WaitNone, domain.WaitNextTurn, domain.WaitBeforeRender:
				default:
					fail(ref, "unknown wait point %q", wp.Point)
				}
			}
			for _, b := range spec.Consumes {
				switch b.Source() {
				case domain.SourceUser, domain.SourceActionOutput, domain.SourceStatic,
					domain.SourceSession, domain.SourceParameter:
				default:
					fail(ref, "binding %q has unknown source %q", b.Name, b.From)
				}
			}
		}
	}

	if doc.InitialState != "" {
		for _, id := range Unreachable(doc) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("state %q is unreachable from %q", id, doc.InitialState))
		}
	}
	return r
}

// noteProducer records the first action producing name. The same action
// reused in several states is not a conflict.
func noteProducer(r *Report, producers map[string]string, name, action, ref string) {
	if first, ok := producers[name]; ok && first != action {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s (%s) produces %q already produced by %s", ref, action, name, first))
		return
	}
	producers[name] = action
}

// Unreachable lists states with no path from the initial state, sorted.
func Unreachable(doc domain.StatesDocument) []string {
	seen := map[string]bool{doc.InitialState: true}
	queue := []string{doc.InitialState}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range doc.States[id].Targets() {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	var out []string
	for _, id := range sortedStateIDs(doc) {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

func sortedStateIDs(doc domain.StatesDocument) []string {
	ids := make([]string, 0, len(doc.States))
	for id := range doc.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
