package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/egorky/iafsm/pkg/domain"
)

// PromptKey is the payload field shown as the assistant's message.
const PromptKey = "prompt"

// NewRenderer returns a function that renders markdown using glamour.
// Without a usable terminal style it returns the markdown unchanged.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// TurnMarkdown formats a turn result for the chat view: the prompt, the
// remaining payload fields, what is still to collect and failed actions.
func TurnMarkdown(res *domain.TurnResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", res.FinalStateID)

	if prompt, ok := res.RenderedOutput[PromptKey]; ok {
		fmt.Fprintf(&sb, "%v\n\n", prompt)
	}

	keys := make([]string, 0, len(res.RenderedOutput))
	for k := range res.RenderedOutput {
		if k != PromptKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "- **%s**: `%v`\n", k, res.RenderedOutput[k])
	}
	if len(keys) > 0 {
		sb.WriteString("\n")
	}

	if need := res.ParametersToCollect; len(need.Required)+len(need.Optional) > 0 {
		sb.WriteString("> needs")
		if len(need.Required) > 0 {
			fmt.Fprintf(&sb, " %s", strings.Join(need.Required, ", "))
		}
		if len(need.Optional) > 0 {
			fmt.Fprintf(&sb, " (optional: %s)", strings.Join(need.Optional, ", "))
		}
		sb.WriteString("\n\n")
	}

	for _, a := range res.Actions {
		if a.Error != "" {
			fmt.Fprintf(&sb, "> failed %s: %s\n", a.UniqueID, a.Error)
		}
	}
	return sb.String()
}
