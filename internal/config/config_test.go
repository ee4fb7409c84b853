package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ruledesk/internal/errors"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoad_HCL(t *testing.T) {
	src := `
listen    = "0.0.0.0:9000"
log_level = "debug"

kernel {
  backend = "netlink"
  netns   = "fw"
}

mutation {
  edit_strategy = "sequential"
}

defaults {
  tables = ["fw"]
  chains = ["CUSTOM_INPUT_V2"]
}
`
	cfg, err := Load([]byte(src), "ruledesk.hcl", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendNetlink, cfg.Kernel.Backend)
	assert.Equal(t, "fw", cfg.Kernel.NetNS)
	assert.Equal(t, "nft", cfg.Kernel.NFTPath, "unset fields take defaults")
	assert.Equal(t, 3, cfg.Kernel.FetchAttempts)
	assert.Equal(t, "sequential", cfg.Mutation.EditStrategy)
	assert.Equal(t, []string{"inet", "ip", "ip6"}, cfg.Defaults.Families)
	assert.Equal(t, []string{"fw"}, cfg.Baseline().Tables)
	assert.Equal(t, "", cfg.Audit.Path)
}

func TestLoad_JSONAndYAML(t *testing.T) {
	cfg, err := Load([]byte(`{"listen": "127.0.0.1:1", "kernel": {"timeout": "2s"}}`), "c.json", noEnv)
	require.NoError(t, err)
	d, err := cfg.KernelTimeout()
	require.NoError(t, err)
	assert.Equal(t, "2s", d.String())

	yml := `
listen: 127.0.0.1:2
audit:
  path: /var/lib/ruledesk/audit.db
  retention_days: 7
`
	cfg, err = Load([]byte(yml), "c.yaml", noEnv)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ruledesk/audit.db", cfg.Audit.Path)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)

	_, err = Load([]byte("listen: x\nbogus: 1\n"), "c.yml", noEnv)
	assert.Error(t, err, "unknown yaml keys are rejected")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]struct {
		src   string
		field string
	}{
		"listen":   {`listen = "nope"`, "listen"},
		"backend":  {"kernel {\n backend = \"ebpf\"\n}", "kernel.backend"},
		"timeout":  {"kernel {\n timeout = \"soon\"\n}", "kernel.timeout"},
		"strategy": {"mutation {\n edit_strategy = \"yolo\"\n}", "mutation.edit_strategy"},
		"family":   {"defaults {\n families = [\"bridge\"]\n}", "defaults.families"},
		"level":    {`log_level = "loud"`, "log_level"},
		"proxies":  {"api {\n trusted_proxies = [\"10.0.0.0/33\"]\n}", "api.trusted_proxies"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(tt.src), "c.hcl", noEnv)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
			assert.Equal(t, tt.field, errors.GetAttributes(err)["field"])
		})
	}
}

func TestLoad_UnknownExtension(t *testing.T) {
	cfg, err := Load([]byte(`listen = "127.0.0.1:3"`), "ruledesk.conf", noEnv)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3", cfg.Listen)

	cfg, err = Load([]byte(`{"listen": "127.0.0.1:4"}`), "ruledesk.conf", noEnv)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4", cfg.Listen)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RULEDESK_LISTEN":        "127.0.0.1:7000",
		"RULEDESK_BACKEND":       "netlink",
		"RULEDESK_EDIT_STRATEGY": "sequential",
		"RULEDESK_LOG_JSON":      "true",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := Load(nil, "empty.hcl", lookup)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, BackendNetlink, cfg.Kernel.Backend)
	assert.Equal(t, "sequential", cfg.Mutation.EditStrategy)
	assert.True(t, cfg.LogJSON)

	env["RULEDESK_LOG_JSON"] = "maybe"
	_, err = Load(nil, "empty.hcl", lookup)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruledesk.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`listen = "127.0.0.1:8471"`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8471", cfg.Listen)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes([]string{"10.1.2.3/8", "192.0.2.7", "::1"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("::1/128"),
	}, got)

	_, err = ParsePrefixes([]string{"proxy.local"})
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRenderHCL_RoundTrip(t *testing.T) {
	want := DefaultConfig()
	want.Kernel.NetNS = "fw"
	want.API.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	out := RenderHCL(want)

	var got Config
	require.NoError(t, hclsimple.Decode("rendered.hcl", out, nil, &got))
	assert.Equal(t, want.Kernel, got.Kernel)
	assert.Equal(t, want.Defaults, got.Defaults)
	assert.Equal(t, want.API, got.API)
	assert.Contains(t, string(out), "kernel {")
}
