package config

import (
	"path/filepath"
	"time"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/logging"
)

const (
	DefaultCommandTimeout = firewall.DefaultCommandTimeout
	DefaultPollInterval   = time.Second
)

// Config is the root of the configuration file.
type Config struct {
	Isolation *IsolationConfig `hcl:"isolation,block" json:"isolation"`
	Logging   *LoggingConfig   `hcl:"logging,block" json:"logging"`
	Audit     *AuditConfig     `hcl:"audit,block" json:"audit"`
	Metrics   *MetricsConfig   `hcl:"metrics,block" json:"metrics"`
	Notify    *NotifyConfig    `hcl:"notify,block" json:"notify,omitempty"`
}

// IsolationConfig configures the isolation manager.
type IsolationConfig struct {
	// Backend is "auto", "iptables" or "nftables".
	Backend string `hcl:"backend,optional" json:"backend"`

	// DryRun renders firewall commands without executing them.
	DryRun bool `hcl:"dry_run,optional" json:"dry_run"`

	// CommandTimeout bounds each firewall command (Go duration string).
	CommandTimeout string `hcl:"command_timeout,optional" json:"command_timeout"`

	// PollInterval is the process liveness polling interval.
	PollInterval string `hcl:"poll_interval,optional" json:"poll_interval"`

	// CleanupOnStart sweeps rules left by a previous run at startup.
	// Default: true.
	CleanupOnStart *bool `hcl:"cleanup_on_start,optional" json:"cleanup_on_start"`

	// ProtectedProcesses adds process names to the critical process list.
	ProtectedProcesses []string `hcl:"protected_processes,optional" json:"protected_processes,omitempty"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string        `hcl:"level,optional" json:"level"`
	JSON   bool          `hcl:"json,optional" json:"json"`
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig forwards logs to a remote syslog server.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled"`
	Host     string `hcl:"host" json:"host"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
}

// AuditConfig configures the audit logging subsystem.
type AuditConfig struct {
	// Enabled activates audit logging to SQLite.
	Enabled bool `hcl:"enabled,optional" json:"enabled"`

	// Path overrides the default audit database location.
	Path string `hcl:"path,optional" json:"path,omitempty"`

	// RetentionDays is the number of days to retain audit events.
	// Default: 90 days.
	RetentionDays int `hcl:"retention_days,optional" json:"retention_days,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables the listener.
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// NotifyConfig configures alerts sent when processes are isolated.
type NotifyConfig struct {
	Enabled bool `hcl:"enabled,optional" json:"enabled"`

	// RateLimit caps notifications per channel per minute. Default: 20.
	RateLimit int `hcl:"rate_limit,optional" json:"rate_limit,omitempty"`

	Channels []*ChannelConfig `hcl:"channel,block" json:"channels,omitempty"`
}

// ChannelConfig is one notification destination.
type ChannelConfig struct {
	Name string `hcl:"name,label" json:"name"`

	// Type is webhook, slack, discord or ntfy.
	Type string `hcl:"type" json:"type"`

	// URL is the webhook endpoint (webhook, slack, discord) or the ntfy
	// server (default https://ntfy.sh).
	URL   string `hcl:"url,optional" json:"url,omitempty"`
	Topic string `hcl:"topic,optional" json:"topic,omitempty"`
	Token string `hcl:"token,optional" json:"-"`

	// Level is the minimum level delivered: info, warning or critical.
	Level string `hcl:"level,optional" json:"level,omitempty"`

	Headers map[string]string `hcl:"headers,optional" json:"headers,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Isolation == nil {
		c.Isolation = &IsolationConfig{}
	}
	if c.Isolation.Backend == "" {
		c.Isolation.Backend = "auto"
	}
	if c.Isolation.CommandTimeout == "" {
		c.Isolation.CommandTimeout = DefaultCommandTimeout.String()
	}
	if c.Isolation.PollInterval == "" {
		c.Isolation.PollInterval = DefaultPollInterval.String()
	}
	if c.Isolation.CleanupOnStart == nil {
		on := true
		c.Isolation.CleanupOnStart = &on
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(brand.GetStateDir(), brand.AuditDBName)
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}

	if c.Notify == nil {
		c.Notify = &NotifyConfig{}
	}
	if c.Notify.RateLimit == 0 {
		c.Notify.RateLimit = 20
	}
}

// BackendKind returns the parsed backend selector.
func (c *IsolationConfig) BackendKind() (firewall.Kind, error) {
	return firewall.ParseKind(c.Backend)
}

// Timeout returns the parsed command timeout, or the default when unparsable.
func (c *IsolationConfig) Timeout() time.Duration {
	return parseDurationOr(c.CommandTimeout, DefaultCommandTimeout)
}

// Interval returns the parsed poll interval, or the default when unparsable.
func (c *IsolationConfig) Interval() time.Duration {
	return parseDurationOr(c.PollInterval, DefaultPollInterval)
}

// CleanupEnabled reports whether the startup sweep runs.
func (c *IsolationConfig) CleanupEnabled() bool {
	return c.CleanupOnStart == nil || *c.CleanupOnStart
}

// LogLevel returns the configured level, falling back to info.
func (c *LoggingConfig) LogLevel() logging.Level {
	lvl, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return lvl
}

// SyslogSettings converts the syslog block for the logging package.
func (c *LoggingConfig) SyslogSettings() logging.SyslogConfig {
	out := logging.DefaultSyslogConfig()
	if c.Syslog == nil {
		return out
	}
	out.Enabled = c.Syslog.Enabled
	out.Host = c.Syslog.Host
	if c.Syslog.Port != 0 {
		out.Port = c.Syslog.Port
	}
	if c.Syslog.Protocol != "" {
		out.Protocol = c.Syslog.Protocol
	}
	if c.Syslog.Tag != "" {
		out.Tag = c.Syslog.Tag
	}
	return out
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
