package config

import (
	"fmt"
	"strings"
	"time"

	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks every attribute and reports all problems at once.
// It expects defaults to have been applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	check := func(field string, err error) {
		if err != nil {
			add(field, "%s", err)
		}
	}

	if iso := c.Isolation; iso != nil {
		if _, err := iso.BackendKind(); err != nil {
			add("isolation.backend", "must be auto, iptables or nftables (got %q)", iso.Backend)
		}
		checkDuration(add, "isolation.command_timeout", iso.CommandTimeout)
		checkDuration(add, "isolation.poll_interval", iso.PollInterval)
		for i, name := range iso.ProtectedProcesses {
			check(fmt.Sprintf("isolation.protected_processes[%d]", i), validation.ValidateProcessName(name))
		}
	}

	if lg := c.Logging; lg != nil {
		if _, err := logging.ParseLevel(lg.Level); err != nil {
			add("logging.level", "unknown level %q", lg.Level)
		}
		if s := lg.Syslog; s != nil && s.Enabled {
			if s.Host == "" {
				add("logging.syslog.host", "required when syslog is enabled")
			}
			if s.Protocol != "" {
				check("logging.syslog.protocol", validation.ValidateAllowlist(s.Protocol, []string{"udp", "tcp"}))
			}
			if s.Port != 0 {
				check("logging.syslog.port", validation.ValidatePortNumber(s.Port))
			}
		}
	}

	if a := c.Audit; a != nil {
		if a.RetentionDays < 0 {
			add("audit.retention_days", "must not be negative")
		}
		if a.Enabled {
			check("audit.path", validation.ValidatePath(a.Path))
		}
	}

	if n := c.Notify; n != nil {
		if n.RateLimit < 0 {
			add("notify.rate_limit", "must not be negative")
		}
		seen := make(map[string]bool)
		for _, ch := range n.Channels {
			field := "notify.channel." + ch.Name
			check(field, validation.ValidateIdentifier(ch.Name))
			if seen[ch.Name] {
				add(field, "duplicate channel name")
			}
			seen[ch.Name] = true

			switch ch.Type {
			case "webhook", "slack", "discord":
				check(field+".url", validation.ValidateURL(ch.URL))
			case "ntfy":
				if ch.Topic == "" {
					add(field+".topic", "required for ntfy channels")
				}
				if ch.URL != "" {
					check(field+".url", validation.ValidateURL(ch.URL))
				}
			default:
				add(field+".type", "must be webhook, slack, discord or ntfy (got %q)", ch.Type)
			}

			if ch.Level != "" {
				check(field+".level", validation.ValidateAllowlist(ch.Level, []string{"info", "warning", "critical"}))
			}
		}
	}

	return errs
}

func checkDuration(add func(string, string, ...any), field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		add(field, "invalid duration %q", value)
		return
	}
	if d <= 0 {
		add(field, "must be positive (got %s)", value)
	}
}
