package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/config"
	"grimm.is/isolator/internal/events"
)

func TestLoadConfig_DefaultWhenMissing(t *testing.T) {
	isolateConfigDir(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Isolation.Backend)
	assert.True(t, cfg.Isolation.CleanupEnabled())
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	dir := isolateConfigDir(t)
	writeConfig(t, dir, `
isolation {
  backend = "nftables"
}
`)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "nftables", cfg.Isolation.Backend)
}

func TestLoadConfig_ExplicitMissing(t *testing.T) {
	_, err := loadConfig("/nonexistent/isolator.hcl")
	assert.Error(t, err)
}

func TestOpenAudit_Disabled(t *testing.T) {
	store, closeFn, err := openAudit(&config.AuditConfig{}, events.NewHub(), nil)
	require.NoError(t, err)
	assert.Nil(t, store)
	closeFn()
}

func TestOpenAudit_PersistsEvents(t *testing.T) {
	dir := isolateConfigDir(t)
	cfg := config.Default()
	cfg.Audit.Enabled = true
	assert.True(t, strings.HasPrefix(cfg.Audit.Path, dir))

	hub := events.NewHub()
	logger, closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	store, closeFn, err := openAudit(cfg.Audit, hub, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	hub.EmitIsolation(events.EventIsolated, events.IsolationData{PID: 99, Backend: "iptables", Rules: 3})
	closeFn()

	buf := captureOutput(t)
	require.NoError(t, RunAudit([]string{"-pid", "99"}))
	assert.Contains(t, buf.String(), "isolation.isolated")
}

func TestSetupLogging_SyslogFailureNotFatal(t *testing.T) {
	lc := &config.LoggingConfig{
		Level:  "debug",
		Syslog: &config.SyslogConfig{Enabled: true, Host: "127.0.0.1", Port: 1, Protocol: "tcp"},
	}
	logger, closeLog := setupLogging(lc)
	defer closeLog()
	assert.NotNil(t, logger)
}

func TestRunVersion(t *testing.T) {
	buf := captureOutput(t)
	RunVersion()
	assert.Contains(t, buf.String(), brand.BinaryName+" "+brand.Version)
}

func TestRunDoctor_ReportsEveryCheck(t *testing.T) {
	isolateConfigDir(t)
	buf := captureOutput(t)

	// The outcome depends on the host; the table is always printed.
	_ = RunDoctor(nil)

	got := buf.String()
	for _, name := range []string{"firewall_tools", "privileges", "procfs", "nftables_netlink", "state_dir"} {
		assert.Contains(t, got, name)
	}
	assert.Contains(t, got, "Overall:")
}
