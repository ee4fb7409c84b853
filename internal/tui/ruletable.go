package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/ruledesk/internal/ruleset"
)

// TableOptions controls RenderTables.
type TableOptions struct {
	// Raw shows each rule's stored representation under its text.
	Raw bool
	// Plain disables colors, for pipes and tests.
	Plain bool
}

// RenderTables renders every chain as a block of "handle  rule" lines,
// grouped by table, followed by any listing warnings.
func RenderTables(tables []ruleset.TableView, warnings []string, opts TableOptions) string {
	style := func(s lipgloss.Style) lipgloss.Style {
		if opts.Plain {
			return lipgloss.NewStyle()
		}
		return s
	}

	var sb strings.Builder
	if len(tables) == 0 {
		sb.WriteString(style(StyleSubtitle).Render("no tables"))
		sb.WriteString("\n")
	}

	for _, t := range tables {
		sb.WriteString(style(StyleTitle).Render(fmt.Sprintf("table %s %s", t.Family, t.Name)))
		sb.WriteString("\n")
		for _, c := range t.Chains {
			sb.WriteString("  ")
			sb.WriteString(style(StyleTableHeader).UnsetPadding().Render(chainHeader(c)))
			sb.WriteString("\n")

			width := handleWidth(c.Rules)
			for _, r := range c.Rules {
				handle := fmt.Sprintf("%*d", width, r.Handle)
				text := r.Text
				if r.Comment != "" {
					text += fmt.Sprintf(" comment %q", r.Comment)
				}
				fmt.Fprintf(&sb, "    %s  %s\n",
					style(StyleHandle).Render(handle),
					style(verdictStyle(r.Text)).UnsetPadding().Render(text))
				if opts.Raw && r.Raw != "" && r.Raw != r.Text {
					fmt.Fprintf(&sb, "    %s  %s\n", strings.Repeat(" ", width), style(StyleSubtitle).Render("raw: "+r.Raw))
				}
			}
		}
	}

	for _, w := range warnings {
		sb.WriteString(style(StyleStatusWarn).Render("warning: " + w))
		sb.WriteString("\n")
	}
	return sb.String()
}

func chainHeader(c ruleset.ChainView) string {
	h := "chain " + c.Name
	if c.Hook == "" {
		return h
	}
	attrs := []string{"type " + c.Type, "hook " + c.Hook}
	if c.Priority != nil {
		attrs = append(attrs, "priority "+strconv.Itoa(*c.Priority))
	}
	if c.Policy != "" {
		attrs = append(attrs, "policy "+c.Policy)
	}
	return h + " (" + strings.Join(attrs, ", ") + ")"
}

func handleWidth(rules []ruleset.RuleView) int {
	w := 1
	for _, r := range rules {
		if n := len(strconv.FormatUint(r.Handle, 10)); n > w {
			w = n
		}
	}
	return w
}

// TraceLine is one trace step as printed after a submission.
type TraceLine struct {
	At     string
	State  string
	Action string
	Detail string
	Error  string
}

// RenderOutcome prints a submission's trace and its final state.
func RenderOutcome(state string, handle uint64, trace []TraceLine, errMsg string, plain bool) string {
	style := func(s lipgloss.Style) lipgloss.Style {
		if plain {
			return lipgloss.NewStyle()
		}
		return s
	}

	var sb strings.Builder
	for _, l := range trace {
		fmt.Fprintf(&sb, "%s %-12s %s", style(StyleHandle).Render(l.At), l.State, l.Action)
		if l.Detail != "" {
			sb.WriteString(": ")
			sb.WriteString(strings.ReplaceAll(strings.TrimRight(l.Detail, "\n"), "\n", "\n    "))
		}
		if l.Error != "" {
			sb.WriteString(" ")
			sb.WriteString(style(StyleStatusBad).Render("error=" + l.Error))
		}
		sb.WriteString("\n")
	}

	switch {
	case errMsg != "":
		sb.WriteString(style(StyleStatusBad).Render(state + ": " + errMsg))
	case handle != 0:
		sb.WriteString(style(StyleStatusGood).Render(fmt.Sprintf("%s (handle %d)", state, handle)))
	default:
		sb.WriteString(style(StyleStatusGood).Render(state))
	}
	sb.WriteString("\n")
	return sb.String()
}
