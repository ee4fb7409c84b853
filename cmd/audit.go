package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"grimm.is/ruledesk/internal/client"
	"grimm.is/ruledesk/internal/errors"
)

// AuditOptions configures RunAudit.
type AuditOptions struct {
	Remote    RemoteFlags
	Since     time.Duration
	Operation string
	Outcome   string
	User      string
	Limit     int
	JSON      bool
}

// RunAudit lists recorded submission summaries from a remote server.
func RunAudit(ctx context.Context, opts AuditOptions) error {
	if !opts.Remote.Enabled() {
		return errors.Attr(errors.New(errors.KindValidation, "audit requires --remote"), "field", "remote")
	}

	q := client.AuditQuery{
		Operation: opts.Operation,
		Outcome:   opts.Outcome,
		User:      opts.User,
		Limit:     opts.Limit,
	}
	if opts.Since > 0 {
		q.Since = time.Now().Add(-opts.Since)
	}

	evts, err := opts.Remote.Client().QueryAudit(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}
	if opts.JSON {
		return writeJSON(evts)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	Printer.Fprintln(w, "TIME\tUSER\tOPERATION\tRULE\tOUTCOME\tHANDLE")
	for _, e := range evts {
		outcome := e.Outcome
		if e.ErrorKind != "" {
			outcome += " (" + e.ErrorKind + ")"
		}
		handle := "-"
		if e.Handle != 0 {
			handle = fmt.Sprint(e.Handle)
		}
		user := e.User
		if user == "" {
			user = "-"
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), user, e.Operation, e.Rule, outcome, handle)
	}
	return nil
}
