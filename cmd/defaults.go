package cmd

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/ruledesk/internal/ruleset"
	"grimm.is/ruledesk/internal/tui"
)

// DefaultsOptions configures RunDefaults.
type DefaultsOptions struct {
	ConfigFile string
	Remote     RemoteFlags
	JSON       bool
}

// RunDefaults prints the context proposed for a new rule and the names
// offered for each field.
func RunDefaults(ctx context.Context, opts DefaultsOptions) error {
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	def, choices, err := b.Defaults(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve defaults: %w", err)
	}

	if opts.JSON {
		return writeJSON(struct {
			Context ruleset.Context `json:"context"`
			Choices ruleset.Choices `json:"choices"`
		}{def, choices})
	}

	Printer.Fprintln(stdout, tui.StyleTitle.Render("Proposed context"))
	Printer.Fprintf(stdout, "  family  %s\n", def.Family)
	Printer.Fprintf(stdout, "  table   %s\n", def.Table)
	Printer.Fprintf(stdout, "  chain   %s\n", def.Chain)
	Printer.Fprintln(stdout, tui.StyleTitle.Render("Choices"))
	Printer.Fprintf(stdout, "  families  %s\n", strings.Join(choices.Families, ", "))
	Printer.Fprintf(stdout, "  tables    %s\n", strings.Join(choices.Tables, ", "))
	Printer.Fprintf(stdout, "  chains    %s\n", strings.Join(choices.Chains, ", "))
	return nil
}
