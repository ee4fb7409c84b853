package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ruleset"
)

// DraftForm builds an interactive form that fills d in place. The context
// selects are seeded with d's current values, which callers usually take
// from the defaulting resolver, and offer the names in choices.
func DraftForm(d *mutation.Draft, choices ruleset.Choices) *huh.Form {
	title := "New rule"
	if d.OriginHandle != nil {
		title = fmt.Sprintf("Replace rule %d", *d.OriginHandle)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Family").
				Options(selectOptions(choices.Families, d.Family)...).
				Value(&d.Family),
			huh.NewSelect[string]().
				Title("Table").
				Options(selectOptions(choices.Tables, d.Table)...).
				Value(&d.Table),
			huh.NewSelect[string]().
				Title("Chain").
				Options(selectOptions(choices.Chains, d.Chain)...).
				Value(&d.Chain),
		).Title(title),
		huh.NewGroup(
			huh.NewInput().
				Title("Statement").
				Description("Passed to nft as typed, e.g. tcp dport 22 accept").
				Value(&d.Statement).
				Validate(ValidateStatement),
			huh.NewInput().
				Title("Comment").
				Description("Optional").
				CharLimit(128).
				Value(&d.Comment),
		),
	).WithTheme(huh.ThemeBase16())
}

// selectOptions lists names with current first when it is not among them,
// so the form never silently drops a resolved default.
func selectOptions(names []string, current string) []huh.Option[string] {
	opts := make([]huh.Option[string], 0, len(names)+1)
	found := current == ""
	for _, n := range names {
		if n == current {
			found = true
		}
	}
	if !found {
		opts = append(opts, huh.NewOption(current, current))
	}
	for _, n := range names {
		opts = append(opts, huh.NewOption(n, n))
	}
	return opts
}

// ValidateStatement rejects empty statements. Anything else is left for the
// kernel to judge.
func ValidateStatement(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New(errors.KindValidation, "statement is required")
	}
	return nil
}
