package cmd

import (
	"fmt"
	"text/tabwriter"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>\nExample: %s check -v %s", brand.BinaryName, brand.BinaryName, config.DefaultPath())
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Fprintf(stdout, "Configuration valid!\n")
	if verbose {
		Printer.Fprintln(stdout)
		printSummary(cfg)
	}
	return nil
}

// RunConfig prints the effective configuration, defaults and environment
// overrides applied, as HCL.
func RunConfig(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, err = stdout.Write(config.RenderHCL(cfg))
	return err
}

func printSummary(cfg *config.Config) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	audit := "disabled"
	if cfg.Audit.Path != "" {
		audit = fmt.Sprintf("%s (%d days)", cfg.Audit.Path, cfg.Audit.RetentionDays)
	}
	netns := cfg.Kernel.NetNS
	if netns == "" {
		netns = "(host)"
	}

	Printer.Fprintf(w, "Listen:\t%s\n", cfg.Listen)
	Printer.Fprintf(w, "Backend:\t%s\n", cfg.Kernel.Backend)
	Printer.Fprintf(w, "Namespace:\t%s\n", netns)
	Printer.Fprintf(w, "Kernel timeout:\t%s\n", cfg.Kernel.Timeout)
	Printer.Fprintf(w, "Edit strategy:\t%s\n", cfg.Mutation.EditStrategy)
	Printer.Fprintf(w, "Audit:\t%s\n", audit)
	Printer.Fprintf(w, "Language:\t%s\n", cfg.API.Language)
}
