package brand

import (
	"os"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if WarningHeader == "" || UserHeader == "" {
		t.Error("header names should be loaded from brand.json")
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent("1.0.0"); got != Name+"/1.0.0" {
		t.Errorf("UserAgent = %q", got)
	}
	if got := UserAgent(""); got != Name+"/dev" {
		t.Errorf("UserAgent default = %q", got)
	}
}

func TestGetDirectories(t *testing.T) {
	cleanEnv := func() {
		os.Unsetenv(ConfigEnvPrefix + "_PREFIX")
		os.Unsetenv(ConfigEnvPrefix + "_CONFIG_DIR")
		os.Unsetenv(ConfigEnvPrefix + "_STATE_DIR")
	}
	cleanEnv()
	defer cleanEnv()

	if GetConfigDir() != DefaultConfigDir {
		t.Errorf("Expected default config dir %s, got %s", DefaultConfigDir, GetConfigDir())
	}
	if GetStateDir() != DefaultStateDir {
		t.Errorf("Expected default state dir %s, got %s", DefaultStateDir, GetStateDir())
	}

	os.Setenv(ConfigEnvPrefix+"_PREFIX", "/tmp/ruledesk")
	if GetConfigDir() != "/tmp/ruledesk/config" {
		t.Errorf("Expected prefix config dir, got %s", GetConfigDir())
	}
	if DefaultConfigPath() != "/tmp/ruledesk/config/"+ConfigFileName {
		t.Errorf("unexpected config path %s", DefaultConfigPath())
	}

	os.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "/custom/config")
	if GetConfigDir() != "/custom/config" {
		t.Errorf("Expected custom config dir, got %s", GetConfigDir())
	}
}
