package brand

import (
	"path/filepath"
	"testing"
)

func TestKernelNames(t *testing.T) {
	if TableName() != "isolator" {
		t.Errorf("TableName() = %q", TableName())
	}
	if ChainName() != "ISOLATOR" {
		t.Errorf("ChainName() = %q", ChainName())
	}
	if LogPrefix() != "ISOLATOR_BLOCK" {
		t.Errorf("LogPrefix() = %q", LogPrefix())
	}
	if CommentPrefix() != "isolator:" {
		t.Errorf("CommentPrefix() = %q", CommentPrefix())
	}
}

func TestGetDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")

	if got := GetStateDir(); got != DefaultStateDir {
		t.Errorf("GetStateDir() = %q, want %q", got, DefaultStateDir)
	}
	if got := GetConfigDir(); got != DefaultConfigDir {
		t.Errorf("GetConfigDir() = %q, want %q", got, DefaultConfigDir)
	}

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/iso")
	if got := GetStateDir(); got != filepath.Join("/opt/iso", "state") {
		t.Errorf("GetStateDir() with prefix = %q", got)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/opt/iso", "config", ConfigFileName) {
		t.Errorf("DefaultConfigPath() with prefix = %q", got)
	}

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/tmp/state")
	if got := GetStateDir(); got != "/tmp/state" {
		t.Errorf("GetStateDir() override = %q", got)
	}
}
