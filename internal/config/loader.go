package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v2"

	"grimm.is/ruledesk/internal/brand"
)

// LoadFile reads a config file. The format is chosen by extension: .hcl,
// .json, .yaml or .yml. Unknown extensions are tried as HCL, then JSON.
// Defaults and environment overrides are applied and the result validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data, path, os.LookupEnv)
}

// Load decodes data named filename, applies defaults and overrides, and
// validates the result.
func Load(data []byte, filename string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := decode(data, filename)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if lookup != nil {
		if err := cfg.ApplyEnv(lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, filename string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".hcl":
		if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		// hclsimple picks the syntax from the extension; force native HCL.
		if err := hclsimple.Decode(filename+".hcl", data, nil, &cfg); err != nil {
			cfg = Config{}
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return nil, fmt.Errorf("failed to decode config as HCL (%v) or JSON (%v)", err, jsonErr)
			}
		}
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from <PREFIX>_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	prefix := brand.ConfigEnvPrefix + "_"
	if v, ok := lookup(prefix + "LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(prefix + "LOG_LEVEL"); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup(prefix + "LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return invalid("log_json", "%sLOG_JSON: %v", prefix, err)
		}
		c.LogJSON = b
	}
	if v, ok := lookup(prefix + "BACKEND"); ok && v != "" {
		c.Kernel.Backend = v
	}
	if v, ok := lookup(prefix + "NFT_PATH"); ok && v != "" {
		c.Kernel.NFTPath = v
	}
	if v, ok := lookup(prefix + "NETNS"); ok {
		c.Kernel.NetNS = v
	}
	if v, ok := lookup(prefix + "EDIT_STRATEGY"); ok && v != "" {
		c.Mutation.EditStrategy = v
	}
	if v, ok := lookup(prefix + "AUDIT_PATH"); ok {
		c.Audit.Path = v
	}
	return nil
}
