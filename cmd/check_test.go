package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func TestRunCheck_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "valid.hcl")

	validConfig := `
listen = "127.0.0.1:9000"

kernel {
  backend = "netlink"
  netns   = "fw"
}

mutation {
  edit_strategy = "sequential"
}
`
	if err := os.WriteFile(configPath, []byte(validConfig), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	out := captureStdout(t)
	if err := RunCheck(configPath, true); err != nil {
		t.Errorf("RunCheck() error = %v, wantErr false", err)
	}
	assert.Contains(t, out.String(), "Configuration valid!")
	assert.Contains(t, out.String(), "netlink")
	assert.Contains(t, out.String(), "sequential")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.hcl")

	invalidConfig := `
kernel {
    # Missing closing brace
`
	if err := os.WriteFile(configPath, []byte(invalidConfig), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := RunCheck(configPath, false); err == nil {
		t.Error("RunCheck() error = nil, wantErr true")
	}
}

func TestRunCheck_SemanticError(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(configPath, []byte(`mutation { edit_strategy = "eventually" }`), 0644))

	err := RunCheck(configPath, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit strategy")
}

func TestRunCheck_RequiresFile(t *testing.T) {
	assert.Error(t, RunCheck("", false))
}

func TestRunConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ruledesk.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("listen: 0.0.0.0:8470\n"), 0644))

	out := captureStdout(t)
	require.NoError(t, RunConfig(configPath))
	assert.Contains(t, out.String(), `listen    = "0.0.0.0:8470"`)
	assert.Contains(t, out.String(), "kernel {")
}
