package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	kind, err := cfg.Isolation.BackendKind()
	require.NoError(t, err)
	assert.Equal(t, firewall.KindAuto, kind)
	assert.False(t, cfg.Isolation.DryRun)
	assert.Equal(t, 10*time.Second, cfg.Isolation.Timeout())
	assert.Equal(t, time.Second, cfg.Isolation.Interval())
	assert.True(t, cfg.Isolation.CleanupEnabled())
	assert.Equal(t, logging.LevelInfo, cfg.Logging.LogLevel())
	assert.Equal(t, "/var/lib/isolator/audit.db", cfg.Audit.Path)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Empty(t, cfg.Metrics.Listen)
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, 20, cfg.Notify.RateLimit)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestParse_Full(t *testing.T) {
	src := `
isolation {
  backend             = "iptables"
  dry_run             = true
  command_timeout     = "3s"
  poll_interval       = "250ms"
  cleanup_on_start    = false
  protected_processes = ["edr-agent", "vault"]
}

logging {
  level = "debug"
  json  = true

  syslog {
    enabled = true
    host    = "logs.internal"
    port    = 1514
    tag     = "isolator-prod"
  }
}

audit {
  enabled        = true
  path           = "/tmp/isolator-audit.db"
  retention_days = 7
}

metrics {
  listen = "127.0.0.1:9477"
}
`
	cfg, err := Parse([]byte(src), "isolator.hcl")
	require.NoError(t, err)

	kind, err := cfg.Isolation.BackendKind()
	require.NoError(t, err)
	assert.Equal(t, firewall.KindIPTables, kind)
	assert.True(t, cfg.Isolation.DryRun)
	assert.Equal(t, 3*time.Second, cfg.Isolation.Timeout())
	assert.Equal(t, 250*time.Millisecond, cfg.Isolation.Interval())
	assert.False(t, cfg.Isolation.CleanupEnabled())
	assert.Equal(t, []string{"edr-agent", "vault"}, cfg.Isolation.ProtectedProcesses)

	assert.Equal(t, logging.LevelDebug, cfg.Logging.LogLevel())
	assert.True(t, cfg.Logging.JSON)
	sys := cfg.Logging.SyslogSettings()
	assert.True(t, sys.Enabled)
	assert.Equal(t, "logs.internal", sys.Host)
	assert.Equal(t, 1514, sys.Port)
	assert.Equal(t, "udp", sys.Protocol)
	assert.Equal(t, "isolator-prod", sys.Tag)

	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "/tmp/isolator-audit.db", cfg.Audit.Path)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)
	assert.Equal(t, "127.0.0.1:9477", cfg.Metrics.Listen)
}

func TestParse_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""), "empty.hcl")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_EnvironmentVariables(t *testing.T) {
	t.Setenv("ISOLATOR_TEST_BACKEND", "nftables")
	src := `isolation { backend = env.ISOLATOR_TEST_BACKEND }`

	cfg, err := Parse([]byte(src), "env.hcl")
	require.NoError(t, err)
	kind, err := cfg.Isolation.BackendKind()
	require.NoError(t, err)
	assert.Equal(t, firewall.KindNFTables, kind)
}

func TestParse_FilenameWithoutExtension(t *testing.T) {
	_, err := Parse([]byte(`metrics { listen = ":9477" }`), "/etc/isolator/config")
	assert.NoError(t, err)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte(`isolation { backend = `), "broken.hcl")
	assert.Error(t, err)
}

func TestParse_UnknownAttribute(t *testing.T) {
	_, err := Parse([]byte(`isolation { allow_pid_1 = true }`), "unknown.hcl")
	assert.Error(t, err)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	src := `
isolation {
  backend             = "pf"
  command_timeout     = "soon"
  poll_interval       = "-1s"
  protected_processes = [" "]
}
logging {
  level = "chatty"
  syslog {
    enabled  = true
    host     = ""
    protocol = "quic"
  }
}
audit { retention_days = -1 }
`
	_, err := Parse([]byte(src), "bad.hcl")
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, v := range verrs {
		fields[v.Field] = true
	}
	for _, f := range []string{
		"isolation.backend",
		"isolation.command_timeout",
		"isolation.poll_interval",
		"isolation.protected_processes[0]",
		"logging.level",
		"logging.syslog.host",
		"logging.syslog.protocol",
		"audit.retention_days",
	} {
		assert.True(t, fields[f], "missing validation error for %s", f)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isolator.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`isolation { dry_run = true }`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Isolation.DryRun)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestParse_NotifyChannels(t *testing.T) {
	src := `
notify {
  enabled    = true
  rate_limit = 5

  channel "ops" {
    type    = "slack"
    url     = "https://hooks.slack.example/T000"
    level   = "warning"
  }

  channel "pager" {
    type    = "ntfy"
    topic   = "isolator-alerts"
    headers = { "X-Priority" = "5" }
  }
}
`
	cfg, err := Parse([]byte(src), "notify.hcl")
	require.NoError(t, err)

	require.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 5, cfg.Notify.RateLimit)
	require.Len(t, cfg.Notify.Channels, 2)
	assert.Equal(t, "ops", cfg.Notify.Channels[0].Name)
	assert.Equal(t, "slack", cfg.Notify.Channels[0].Type)
	assert.Equal(t, "warning", cfg.Notify.Channels[0].Level)
	assert.Equal(t, "isolator-alerts", cfg.Notify.Channels[1].Topic)
	assert.Equal(t, map[string]string{"X-Priority": "5"}, cfg.Notify.Channels[1].Headers)
}

func TestValidate_NotifyChannels(t *testing.T) {
	src := `
notify {
  rate_limit = -1
  channel "a" { type = "webhook" }
  channel "a" {
    type  = "ntfy"
    level = "loud"
  }
  channel "b" { type = "pigeon" }
}
`
	_, err := Parse([]byte(src), "notify.hcl")
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, v := range verrs {
		fields[v.Field] = true
	}
	for _, f := range []string{
		"notify.rate_limit",
		"notify.channel.a",
		"notify.channel.a.url",
		"notify.channel.a.topic",
		"notify.channel.a.level",
		"notify.channel.b.type",
	} {
		assert.True(t, fields[f], "missing validation error for %s", f)
	}
}
