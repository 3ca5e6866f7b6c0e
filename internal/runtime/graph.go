package runtime

import (
	"log/slog"

	"github.com/egorky/iafsm/pkg/domain"
)

// Graph is the dependency graph of the synchronous subset of a plan.
type Graph struct {
	// Nodes are the resolvable actions, in plan order.
	Nodes []*domain.Action
	// Producers maps an output name to its first producer.
	Producers map[string]*domain.Action
	// Edges maps a producer UniqueID to its consumers' UniqueIDs.
	Edges    map[string][]string
	InDegree map[string]int
	// Unresolved were flagged by the pre-pass and are excluded from scheduling.
	Unresolved []*domain.Action
}

// BuildGraph indexes producers, flags actions whose required inputs can never
// be satisfied this turn, and links producers to consumers among the rest.
func BuildGraph(actions []*domain.Action, params map[string]any, logger *slog.Logger) *Graph {
	g := &Graph{
		Producers: make(map[string]*domain.Action),
		Edges:     make(map[string][]string),
		InDegree:  make(map[string]int),
	}

	for _, a := range actions {
		for _, name := range a.ProducedNames() {
			if first, dup := g.Producers[name]; dup {
				if first != a {
					logger.Warn("output produced by several actions; first declared wins",
						"output", name, "winner", first.UniqueID, "ignored", a.UniqueID)
				}
				continue
			}
			g.Producers[name] = a
		}
	}

	for _, a := range actions {
		if a.Status != domain.StatusPending {
			continue
		}
		if missing := g.unproducedInputs(a, params); len(missing) > 0 {
			err := &domain.UnresolvedDependencyError{ActionID: a.UniqueID, Missing: missing}
			a.Mark(domain.StatusUnresolved, err.Error())
			g.Unresolved = append(g.Unresolved, a)
			logger.Debug("action unresolved before scheduling", "action", a.UniqueID, "missing", missing)
			continue
		}
		g.Nodes = append(g.Nodes, a)
		g.InDegree[a.UniqueID] = 0
	}

	for _, consumer := range g.Nodes {
		linked := make(map[string]bool)
		for _, b := range consumer.Consumes {
			if !orderedSource(b.Source()) {
				continue
			}
			producer, ok := g.Producers[b.SourceKey()]
			if !ok || producer == consumer || linked[producer.UniqueID] {
				continue
			}
			if _, resolvable := g.InDegree[producer.UniqueID]; !resolvable {
				continue
			}
			linked[producer.UniqueID] = true
			g.Edges[producer.UniqueID] = append(g.Edges[producer.UniqueID], consumer.UniqueID)
			g.InDegree[consumer.UniqueID]++
		}
	}
	return g
}

// unproducedInputs lists required inputs that are absent and that no other
// action in the plan produces.
func (g *Graph) unproducedInputs(a *domain.Action, params map[string]any) []string {
	var missing []string
	for _, b := range a.Consumes {
		if b.Optional {
			continue
		}
		switch b.Source() {
		case domain.SourceUser, domain.SourceParameter, domain.SourceActionOutput:
		default:
			continue
		}
		key := b.SourceKey()
		if domain.IsPresent(params, key) {
			continue
		}
		if producer, ok := g.Producers[key]; ok && producer != a {
			continue
		}
		missing = append(missing, key)
	}
	return missing
}

// orderedSource reports whether a binding source can be satisfied by another action.
func orderedSource(s domain.BindingSource) bool {
	return s == domain.SourceActionOutput || s == domain.SourceParameter
}
