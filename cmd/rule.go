package cmd

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ruleset"
	"grimm.is/ruledesk/internal/tui"
)

// RuleOptions configures RunAdd, RunEdit and RunDelete.
type RuleOptions struct {
	ConfigFile string
	Remote     RemoteFlags

	Family    string
	Table     string
	Chain     string
	Handle    uint64
	Statement string
	Comment   string

	Interactive bool
	Plain       bool
}

// runForm fills a draft interactively; tests replace it.
var runForm = func(d *mutation.Draft, choices ruleset.Choices) error {
	return tui.DraftForm(d, choices).Run()
}

// RunAdd submits a new rule.
func RunAdd(ctx context.Context, opts RuleOptions) error {
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	d, err := buildDraft(ctx, b, opts)
	if err != nil {
		return err
	}
	out, err := b.Add(ctx, d)
	return report(out, err, opts.Plain)
}

// RunEdit replaces the rule at opts.Handle.
func RunEdit(ctx context.Context, opts RuleOptions) error {
	if opts.Handle == 0 {
		return errors.Attr(errors.New(errors.KindValidation, "edit requires --handle"), "field", "handle")
	}
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	d, err := buildDraft(ctx, b, opts)
	if err != nil {
		return err
	}
	handle := opts.Handle
	d.OriginHandle = &handle
	out, err := b.Edit(ctx, d)
	return report(out, err, opts.Plain)
}

// RunDelete removes the rule at opts.Handle.
func RunDelete(ctx context.Context, opts RuleOptions) error {
	if opts.Handle == 0 {
		return errors.Attr(errors.New(errors.KindValidation, "delete requires --handle"), "field", "handle")
	}
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	ctxDefaults, err := fillContext(ctx, b, opts)
	if err != nil {
		return err
	}
	ref := ruleset.RuleRef{
		Family: ctxDefaults.Family,
		Table:  ctxDefaults.Table,
		Chain:  ctxDefaults.Chain,
		Handle: opts.Handle,
	}
	out, err := b.Delete(ctx, ref)
	return report(out, err, opts.Plain)
}

// fillContext completes the (family, table, chain) triple from the
// defaulting resolver when any part is unset.
func fillContext(ctx context.Context, b backend, opts RuleOptions) (ruleset.Context, error) {
	c := ruleset.Context{Family: opts.Family, Table: opts.Table, Chain: opts.Chain}
	if c.Family != "" && c.Table != "" && c.Chain != "" {
		return c, nil
	}
	def, _, err := b.Defaults(ctx)
	if err != nil {
		return c, fmt.Errorf("failed to resolve defaults: %w", err)
	}
	return mergeContext(c, def), nil
}

func mergeContext(c, def ruleset.Context) ruleset.Context {
	if c.Family == "" {
		c.Family = def.Family
	}
	if c.Table == "" {
		c.Table = def.Table
	}
	if c.Chain == "" {
		c.Chain = def.Chain
	}
	return c
}

func buildDraft(ctx context.Context, b backend, opts RuleOptions) (mutation.Draft, error) {
	d := mutation.Draft{
		Family:    opts.Family,
		Table:     opts.Table,
		Chain:     opts.Chain,
		Statement: strings.TrimSpace(opts.Statement),
		Comment:   opts.Comment,
	}

	if !opts.Interactive {
		if d.Statement == "" {
			return d, errors.Attr(errors.New(errors.KindValidation, "a rule statement is required"), "field", "statement")
		}
		c, err := fillContext(ctx, b, opts)
		if err != nil {
			return d, err
		}
		d.Family, d.Table, d.Chain = c.Family, c.Table, c.Chain
		return d, nil
	}

	def, choices, err := b.Defaults(ctx)
	if err != nil {
		return d, fmt.Errorf("failed to resolve defaults: %w", err)
	}
	c := mergeContext(d.Context(), def)
	d.Family, d.Table, d.Chain = c.Family, c.Table, c.Chain
	if opts.Handle != 0 {
		handle := opts.Handle
		d.OriginHandle = &handle
	}
	if err := runForm(&d, choices); err != nil {
		return d, err
	}
	d.OriginHandle = nil
	return d, nil
}

// report prints a submission's trace and outcome. A failed submission is
// returned as a ReportedError so the process exits non-zero without
// printing it twice.
func report(out *outcome, err error, plain bool) error {
	if out == nil {
		return err
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	Printer.Fprint(stdout, tui.RenderOutcome(out.State, out.Handle, out.Trace, msg, plain))
	if out.RefetchError != "" {
		Printer.Fprintf(stdout, "warning: %s\n", out.RefetchError)
	}
	if err != nil {
		return &ReportedError{Err: err}
	}
	return nil
}
