package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"grimm.is/ruledesk/internal/ruleset"
	"grimm.is/ruledesk/internal/tui"
)

// ShowOptions configures RunShow.
type ShowOptions struct {
	ConfigFile string
	Remote     RemoteFlags
	Raw        bool
	JSON       bool
	Plain      bool
}

// RunShow prints the live ruleset with rule handles.
func RunShow(ctx context.Context, opts ShowOptions) error {
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	tables, warnings, err := b.Tables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ruleset: %w", err)
	}

	if opts.JSON {
		return writeJSON(struct {
			Tables   []ruleset.TableView `json:"tables"`
			Warnings []string            `json:"warnings,omitempty"`
		}{tables, warnings})
	}

	Printer.Fprint(stdout, tui.RenderTables(tables, warnings, tui.TableOptions{Raw: opts.Raw, Plain: opts.Plain}))
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
