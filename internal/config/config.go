// Package config loads the daemon configuration from HCL, JSON or YAML.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// Config is the top-level configuration.
type Config struct {
	Listen   string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty" yaml:"log_json,omitempty"`

	Kernel   *KernelConfig   `hcl:"kernel,block" json:"kernel,omitempty" yaml:"kernel,omitempty"`
	Mutation *MutationConfig `hcl:"mutation,block" json:"mutation,omitempty" yaml:"mutation,omitempty"`
	Defaults *DefaultsConfig `hcl:"defaults,block" json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Audit    *AuditConfig    `hcl:"audit,block" json:"audit,omitempty" yaml:"audit,omitempty"`
	API      *APIConfig      `hcl:"api,block" json:"api,omitempty" yaml:"api,omitempty"`
}

// KernelConfig selects and tunes the kernel collaborator.
type KernelConfig struct {
	// Backend is "cli" (the nft binary) or "netlink".
	Backend string `hcl:"backend,optional" json:"backend,omitempty" yaml:"backend,omitempty"`
	NFTPath string `hcl:"nft_path,optional" json:"nft_path,omitempty" yaml:"nft_path,omitempty"`
	// NetNS runs every kernel call inside the named network namespace.
	NetNS         string `hcl:"netns,optional" json:"netns,omitempty" yaml:"netns,omitempty"`
	Timeout       string `hcl:"timeout,optional" json:"timeout,omitempty" yaml:"timeout,omitempty"`
	FetchAttempts int    `hcl:"fetch_attempts,optional" json:"fetch_attempts,omitempty" yaml:"fetch_attempts,omitempty"`
}

// MutationConfig tunes the mutation orchestrator.
type MutationConfig struct {
	// EditStrategy is "atomic" or "sequential".
	EditStrategy string `hcl:"edit_strategy,optional" json:"edit_strategy,omitempty" yaml:"edit_strategy,omitempty"`
}

// DefaultsConfig is the baseline vocabulary offered for new rules.
type DefaultsConfig struct {
	Families []string `hcl:"families,optional" json:"families,omitempty" yaml:"families,omitempty"`
	Tables   []string `hcl:"tables,optional" json:"tables,omitempty" yaml:"tables,omitempty"`
	Chains   []string `hcl:"chains,optional" json:"chains,omitempty" yaml:"chains,omitempty"`
}

// AuditConfig enables the local audit store. An empty Path disables it.
type AuditConfig struct {
	Path          string `hcl:"path,optional" json:"path,omitempty" yaml:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
}

// APIConfig holds HTTP server limits.
type APIConfig struct {
	ReadTimeout        string   `hcl:"read_timeout,optional" json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout       string   `hcl:"write_timeout,optional" json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	IdleTimeout        string   `hcl:"idle_timeout,optional" json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	MaxBodyBytes       int64    `hcl:"max_body_bytes,optional" json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
	// MutationsPerMinute caps submissions per operator. Zero is unlimited.
	MutationsPerMinute int      `hcl:"mutations_per_minute,optional" json:"mutations_per_minute,omitempty" yaml:"mutations_per_minute,omitempty"`
	// Language selects the locale of error messages ("en", "de").
	Language           string   `hcl:"language,optional" json:"language,omitempty" yaml:"language,omitempty"`
	// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Other peers are keyed by their own address.
	TrustedProxies     []string `hcl:"trusted_proxies,optional" json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

const (
	BackendCLI     = "cli"
	BackendNetlink = "netlink"
)

// DefaultConfig returns a configuration with every field set.
func DefaultConfig() *Config {
	base := ruleset.DefaultBaseline()
	return &Config{
		Listen:   "127.0.0.1:8470",
		LogLevel: "info",
		Kernel: &KernelConfig{
			Backend:       BackendCLI,
			NFTPath:       "nft",
			Timeout:       "10s",
			FetchAttempts: 3,
		},
		Mutation: &MutationConfig{EditStrategy: "atomic"},
		Defaults: &DefaultsConfig{
			Families: base.Families,
			Tables:   base.Tables,
			Chains:   base.Chains,
		},
		Audit: &AuditConfig{RetentionDays: 90},
		API: &APIConfig{
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
			IdleTimeout:  "60s",
			MaxBodyBytes: 64 << 10,
			Language:     "en",
		},
	}
}

// ApplyDefaults fills every unset field from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	if c.Kernel == nil {
		c.Kernel = d.Kernel
	} else {
		setString(&c.Kernel.Backend, d.Kernel.Backend)
		setString(&c.Kernel.NFTPath, d.Kernel.NFTPath)
		setString(&c.Kernel.Timeout, d.Kernel.Timeout)
		if c.Kernel.FetchAttempts <= 0 {
			c.Kernel.FetchAttempts = d.Kernel.FetchAttempts
		}
	}

	if c.Mutation == nil {
		c.Mutation = d.Mutation
	} else {
		setString(&c.Mutation.EditStrategy, d.Mutation.EditStrategy)
	}

	if c.Defaults == nil {
		c.Defaults = d.Defaults
	} else {
		if len(c.Defaults.Families) == 0 {
			c.Defaults.Families = d.Defaults.Families
		}
		if len(c.Defaults.Tables) == 0 {
			c.Defaults.Tables = d.Defaults.Tables
		}
		if len(c.Defaults.Chains) == 0 {
			c.Defaults.Chains = d.Defaults.Chains
		}
	}

	if c.Audit == nil {
		c.Audit = d.Audit
	} else if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = d.Audit.RetentionDays
	}

	if c.API == nil {
		c.API = d.API
	} else {
		setString(&c.API.ReadTimeout, d.API.ReadTimeout)
		setString(&c.API.WriteTimeout, d.API.WriteTimeout)
		setString(&c.API.IdleTimeout, d.API.IdleTimeout)
		setString(&c.API.Language, d.API.Language)
		if c.API.MaxBodyBytes <= 0 {
			c.API.MaxBodyBytes = d.API.MaxBodyBytes
		}
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Validate checks a config after defaults have been applied.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return invalid("listen", "invalid listen address %q: %v", c.Listen, err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level", "unknown log level %q", c.LogLevel)
	}

	switch c.Kernel.Backend {
	case BackendCLI, BackendNetlink:
	default:
		return invalid("kernel.backend", "unknown backend %q (want %s or %s)", c.Kernel.Backend, BackendCLI, BackendNetlink)
	}
	if _, err := c.KernelTimeout(); err != nil {
		return err
	}

	switch c.Mutation.EditStrategy {
	case "atomic", "sequential":
	default:
		return invalid("mutation.edit_strategy", "unknown edit strategy %q (want atomic or sequential)", c.Mutation.EditStrategy)
	}

	for _, f := range c.Defaults.Families {
		if !ruleset.IsAuthoringFamily(f) {
			return invalid("defaults.families", "unsupported family %q", f)
		}
	}

	for field, v := range map[string]string{
		"api.read_timeout":  c.API.ReadTimeout,
		"api.write_timeout": c.API.WriteTimeout,
		"api.idle_timeout":  c.API.IdleTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return invalid(field, "invalid duration %q", v)
		}
	}
	if c.API.MutationsPerMinute < 0 {
		return invalid("api.mutations_per_minute", "must not be negative, got %d", c.API.MutationsPerMinute)
	}
	if _, err := ParsePrefixes(c.API.TrustedProxies); err != nil {
		return errors.Attr(err, "field", "api.trusted_proxies")
	}
	return nil
}

// ParsePrefixes parses addresses and CIDRs. A bare address is a single-host
// prefix.
func ParsePrefixes(vals []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(vals))
	for _, v := range vals {
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Errorf(errors.KindValidation, "invalid address or CIDR %q", v)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func invalid(field, format string, args ...any) error {
	err := errors.Errorf(errors.KindValidation, format, args...)
	return errors.Attr(err, "field", field)
}

// KernelTimeout parses Kernel.Timeout.
func (c *Config) KernelTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Kernel.Timeout)
	if err != nil {
		return 0, invalid("kernel.timeout", "invalid duration %q", c.Kernel.Timeout)
	}
	return d, nil
}

// Baseline returns the configured default vocabulary.
func (c *Config) Baseline() ruleset.Baseline {
	return ruleset.Baseline{
		Families: c.Defaults.Families,
		Tables:   c.Defaults.Tables,
		Chains:   c.Defaults.Chains,
	}
}

// Duration parses one of the API timeouts; callers run Validate first.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// DefaultPath returns the config file path for this build.
func DefaultPath() string {
	return brand.DefaultConfigPath()
}

func (c *Config) String() string {
	return fmt.Sprintf("listen=%s backend=%s edit_strategy=%s", c.Listen, c.Kernel.Backend, c.Mutation.EditStrategy)
}
