package runtime

import (
	"log/slog"

	"github.com/egorky/iafsm/pkg/domain"
)

// Schedule orders the resolvable nodes with Kahn's algorithm. The ready queue
// is FIFO and seeded in plan order, so independent actions keep their
// declaration order. Nodes left over belong to a cycle or hang off one: they
// are marked unresolved_cycle_or_dependency and returned as cyclic, while the
// ordered subset still runs.
func Schedule(g *Graph, logger *slog.Logger) (order []*domain.Action, cyclic []*domain.Action) {
	inDegree := make(map[string]int, len(g.InDegree))
	byID := make(map[string]*domain.Action, len(g.Nodes))
	for _, a := range g.Nodes {
		inDegree[a.UniqueID] = g.InDegree[a.UniqueID]
		byID[a.UniqueID] = a
	}

	queue := make([]*domain.Action, 0, len(g.Nodes))
	for _, a := range g.Nodes {
		if inDegree[a.UniqueID] == 0 {
			queue = append(queue, a)
		}
	}

	order = make([]*domain.Action, 0, len(g.Nodes))
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		order = append(order, a)
		for _, next := range g.Edges[a.UniqueID] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, byID[next])
			}
		}
	}

	if len(order) == len(g.Nodes) {
		return order, nil
	}

	placed := make(map[string]bool, len(order))
	for _, a := range order {
		placed[a.UniqueID] = true
	}
	for _, a := range g.Nodes {
		if placed[a.UniqueID] {
			continue
		}
		logger.Warn("action not schedulable", "action", a.UniqueID, "in_degree", inDegree[a.UniqueID])
		a.Mark(domain.StatusCyclic, "dependency cycle or unresolved chain")
		cyclic = append(cyclic, a)
	}
	return order, cyclic
}
