package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/egorky/iafsm/internal/runtime"
	"github.com/egorky/iafsm/pkg/domain"
)

// GraphOverlay contains session data to visualize on the graph.
type GraphOverlay struct {
	VisitedStates []string
	CurrentState  string
}

// GenerateMermaid produces a Mermaid flowchart of the states document.
// It applies semantic styling:
// - Initial: ((Circle))
// - Collects parameters: [/Parallelogram/]
// - Calls APIs or scripts on entry: [[Subroutine]]
// - Default: [Rectangle]
// Intent transitions are labelled with the intent, parameter transitions
// with "all params", and default transitions are dotted.
func GenerateMermaid(doc domain.StatesDocument, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	ids := make([]string, 0, len(doc.States))
	for id := range doc.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := doc.States[id]
		safeID := sanitizeMermaidID(id)

		opener, closer := "[", "]"
		switch {
		case id == doc.InitialState:
			opener, closer = "((", "))"
		case len(st.Parameters.Required) > 0:
			opener, closer = "[/", "/]"
		case len(st.OnEntry) > 0:
			opener, closer = "[[", "]]"
		}

		label := id
		if len(st.OnEntry) > 0 {
			names := make([]string, len(st.OnEntry))
			for i, a := range st.OnEntry {
				names[i] = a.ID
				if a.Mode == domain.ModeAsync {
					names[i] += " (async)"
				}
			}
			label = fmt.Sprintf("%s <br/> %s", id, strings.Join(names, ", "))
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escape(label), closer)

		for _, t := range st.Transitions {
			safeTo := sanitizeMermaidID(t.NextState)
			switch {
			case t.Condition.Intent != "":
				fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escape(t.Condition.Intent), safeTo)
			case t.Condition.AllParametersMet != nil && !*t.Condition.AllParametersMet:
				fmt.Fprintf(&sb, "    %s -- \"missing params\" --> %s\n", safeID, safeTo)
			default:
				fmt.Fprintf(&sb, "    %s -- \"all params\" --> %s\n", safeID, safeTo)
			}
		}
		if st.DefaultNextState != "" {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", safeID, sanitizeMermaidID(st.DefaultNextState))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text stays readable on both light and dark themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedStates {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if overlay.CurrentState != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentState))
		}
	}

	return sb.String()
}

// GeneratePlanMermaid draws the dependency graph of a turn's synchronous
// actions. Edges point from producer to consumer; unresolved actions are
// drawn apart and styled.
func GeneratePlanMermaid(g *runtime.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, a := range g.Nodes {
		fmt.Fprintf(&sb, "    %s%s\n", sanitizeMermaidID(a.UniqueID), actionShape(a))
	}
	for _, a := range g.Unresolved {
		fmt.Fprintf(&sb, "    %s%s\n", sanitizeMermaidID(a.UniqueID), actionShape(a))
	}

	producers := make([]string, 0, len(g.Edges))
	for id := range g.Edges {
		producers = append(producers, id)
	}
	sort.Strings(producers)
	for _, from := range producers {
		for _, to := range g.Edges[from] {
			fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(from), sanitizeMermaidID(to))
		}
	}

	if len(g.Unresolved) > 0 {
		sb.WriteString("    classDef unresolved fill:#ffcdd2,stroke:#b71c1c,color:#000;\n")
		for _, a := range g.Unresolved {
			fmt.Fprintf(&sb, "    class %s unresolved;\n", sanitizeMermaidID(a.UniqueID))
		}
	}
	return sb.String()
}

func actionShape(a *domain.Action) string {
	label := escape(a.UniqueID)
	if a.Induced {
		label += " <br/> induced"
	}
	if a.Kind == domain.ActionScript {
		return fmt.Sprintf("[/\"%s\"/]", label)
	}
	return fmt.Sprintf("[[\"%s\"]]", label)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "#", "_")
	return s
}
