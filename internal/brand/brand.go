// Package brand provides centralized naming constants for isolator.
//
// Kernel-visible names (the nftables table, the iptables chain, log prefixes
// and rule comments) are all derived from LowerName so that every object the
// tool creates can be found and swept by name.
package brand

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	Name             = "Isolator"
	LowerName        = "isolator"
	Description      = "Process-level network isolation"
	ConfigEnvPrefix  = "ISOLATOR"
	DefaultConfigDir = "/etc/isolator"
	DefaultStateDir  = "/var/lib/isolator"
	BinaryName       = "isolator"
	ConfigFileName   = "isolator.hcl"
	AuditDBName      = "audit.db"
)

var (
	// Version is set at build time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
)

// TableName is the dedicated nftables table (family inet).
func TableName() string {
	return LowerName
}

// ChainName is the dedicated iptables chain in the filter table.
func ChainName() string {
	return strings.ToUpper(LowerName)
}

// LogPrefix is the marker every LOG rule carries, e.g. ISOLATOR_BLOCK.
func LogPrefix() string {
	return strings.ToUpper(LowerName) + "_BLOCK"
}

// CommentPrefix tags every rule comment, e.g. "isolator:".
func CommentPrefix() string {
	return LowerName + ":"
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: ISOLATOR_STATE_DIR > ISOLATOR_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: ISOLATOR_CONFIG_DIR > ISOLATOR_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// DefaultConfigPath is the config file used when none is given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}
