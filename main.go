package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"grimm.is/ruledesk/cmd"
	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", "", "Configuration file (default "+brand.DefaultConfigPath()+")")
		serveFlags.StringVar(configFile, "c", "", "Configuration file (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile); err != nil {
			fail("Serve failed", err)
		}

	case "show":
		var opts cmd.ShowOptions
		showFlags := flag.NewFlagSet("show", flag.ExitOnError)
		showFlags.StringVar(&opts.ConfigFile, "c", "", "Configuration file")
		opts.Remote.Register(showFlags)
		showFlags.BoolVar(&opts.Raw, "raw", false, "Show each rule's stored representation")
		showFlags.BoolVar(&opts.JSON, "json", false, "Print JSON")
		showFlags.BoolVar(&opts.Plain, "plain", false, "Disable colors")
		showFlags.Parse(os.Args[2:])

		if err := cmd.RunShow(ctx, opts); err != nil {
			fail("Show failed", err)
		}

	case "add", "edit", "delete":
		op := os.Args[1]
		var opts cmd.RuleOptions
		ruleFlags := flag.NewFlagSet(op, flag.ExitOnError)
		ruleFlags.StringVar(&opts.ConfigFile, "c", "", "Configuration file")
		opts.Remote.Register(ruleFlags)
		ruleFlags.StringVar(&opts.Family, "family", "", "Table family (inet, ip, ip6); resolved when empty")
		ruleFlags.StringVar(&opts.Table, "table", "", "Table name; resolved when empty")
		ruleFlags.StringVar(&opts.Chain, "chain", "", "Chain name; resolved when empty")
		ruleFlags.Uint64Var(&opts.Handle, "handle", 0, "Handle of the rule to edit or delete")
		if op != "delete" {
			ruleFlags.StringVar(&opts.Comment, "comment", "", "Rule comment")
			ruleFlags.BoolVar(&opts.Interactive, "i", false, "Fill the rule in an interactive form")
		}
		ruleFlags.BoolVar(&opts.Plain, "plain", false, "Disable colors")
		ruleFlags.Parse(os.Args[2:])
		opts.Statement = strings.Join(ruleFlags.Args(), " ")

		run := map[string]func(context.Context, cmd.RuleOptions) error{
			"add":    cmd.RunAdd,
			"edit":   cmd.RunEdit,
			"delete": cmd.RunDelete,
		}[op]
		// A half-finished edit must not be interrupted by the terminal.
		if err := run(context.WithoutCancel(ctx), opts); err != nil {
			fail(strings.ToUpper(op[:1])+op[1:]+" failed", err)
		}

	case "defaults":
		var opts cmd.DefaultsOptions
		defaultsFlags := flag.NewFlagSet("defaults", flag.ExitOnError)
		defaultsFlags.StringVar(&opts.ConfigFile, "c", "", "Configuration file")
		opts.Remote.Register(defaultsFlags)
		defaultsFlags.BoolVar(&opts.JSON, "json", false, "Print JSON")
		defaultsFlags.Parse(os.Args[2:])

		if err := cmd.RunDefaults(ctx, opts); err != nil {
			fail("Defaults failed", err)
		}

	case "watch":
		var opts cmd.WatchOptions
		watchFlags := flag.NewFlagSet("watch", flag.ExitOnError)
		watchFlags.StringVar(&opts.ConfigFile, "c", "", "Configuration file")
		opts.Remote.Register(watchFlags)
		watchFlags.Parse(os.Args[2:])

		if err := cmd.RunWatch(ctx, opts); err != nil {
			fail("Watch failed", err)
		}

	case "audit":
		var opts cmd.AuditOptions
		auditFlags := flag.NewFlagSet("audit", flag.ExitOnError)
		opts.Remote.Register(auditFlags)
		auditFlags.DurationVar(&opts.Since, "since", 24*time.Hour, "Only show events newer than this")
		auditFlags.StringVar(&opts.Operation, "operation", "", "Filter by operation (add, edit, delete)")
		auditFlags.StringVar(&opts.Outcome, "outcome", "", "Filter by outcome (succeeded, failed)")
		auditFlags.StringVar(&opts.User, "by", "", "Filter by operator")
		auditFlags.IntVar(&opts.Limit, "limit", 100, "Maximum events to show")
		auditFlags.BoolVar(&opts.JSON, "json", false, "Print JSON")
		auditFlags.Parse(os.Args[2:])

		if err := cmd.RunAudit(ctx, opts); err != nil {
			fail("Audit failed", err)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fail("Check failed", err)
		}

	case "config":
		configFlags := flag.NewFlagSet("config", flag.ExitOnError)
		configFile := configFlags.String("c", "", "Configuration file")
		configFlags.Parse(os.Args[2:])

		if err := cmd.RunConfig(*configFile); err != nil {
			fail("Config failed", err)
		}

	case "version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fail(what string, err error) {
	var reported *cmd.ReportedError
	if !errors.As(err, &reported) {
		printer.Fprintf(os.Stderr, "%s: %v\n", what, err)
	}
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%[1]s - %[2]s

Usage:
  %[3]s <command> [options]

Commands:
  serve [-c file]                      Run the HTTP control surface
  show [--remote URL] [--raw]          Print the live ruleset with handles
  add [options] <statement>            Append a rule (-i for a form)
  edit --handle N [options] <stmt>     Replace a rule
  delete --handle N [options]          Delete a rule
  defaults [--remote URL]              Print the proposed context for new rules
  watch --remote URL                   Live ruleset view
  audit --remote URL                   List recorded submissions
  check [-v] <file>                    Validate a configuration file
  config [-c file]                     Print the effective configuration
  version                              Print version information

Rule options:
  --family, --table, --chain           Rule context; resolved from the ruleset when empty
  --comment TEXT                       Rule comment
  --remote URL, --user NAME            Submit through a remote server as NAME

Examples:
  %[3]s show
  %[3]s add --chain input tcp dport 22 accept
  %[3]s edit --handle 12 tcp dport 2222 accept
  %[3]s delete --family inet --table filter --chain input --handle 12
`, brand.Name, brand.Description, brand.BinaryName)
}
