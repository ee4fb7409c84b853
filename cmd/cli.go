// Package cmd implements the ruledesk subcommands.
package cmd

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/client"
	"grimm.is/ruledesk/internal/i18n"
)

var Printer = i18n.NewCLIPrinter()

// stdout is where command output goes; tests swap it.
var stdout io.Writer = os.Stdout

// RemoteFlags selects a remote server instead of the local kernel.
type RemoteFlags struct {
	URL         string
	User        string
	Token       string
	Fingerprint string
}

// Register adds --remote, --user, --token and --fingerprint to fs.
func (r *RemoteFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&r.URL, "remote", "", "Remote "+brand.Name+" API URL (e.g., https://fw.example:8470)")
	fs.StringVar(&r.URL, "r", "", "Remote API URL (short)")
	fs.StringVar(&r.User, "user", os.Getenv("USER"), "Operator name recorded with submissions")
	fs.StringVar(&r.Token, "token", os.Getenv(brand.ConfigEnvPrefix+"_TOKEN"), "Bearer token for the proxy in front of the API")
	fs.StringVar(&r.Fingerprint, "fingerprint", "", "Expected server certificate SHA-256 fingerprint")
}

// Enabled reports whether a remote URL was given.
func (r RemoteFlags) Enabled() bool {
	return r.URL != ""
}

// Client builds an API client from the flags.
func (r RemoteFlags) Client() *client.HTTPClient {
	var opts []client.ClientOption
	if r.User != "" {
		opts = append(opts, client.WithUser(r.User))
	}
	if r.Token != "" {
		opts = append(opts, client.WithHeader("Authorization", "Bearer "+r.Token))
	}
	if r.Fingerprint != "" {
		opts = append(opts, client.WithFingerprint(r.Fingerprint))
	}
	return client.NewHTTPClient(r.URL, opts...)
}

// ReportedError is an error that has already been shown to the operator.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
