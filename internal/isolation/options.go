package isolation

import (
	"time"

	"grimm.is/isolator/internal/clock"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/monitor"
	"grimm.is/isolator/internal/proc"
)

// Config selects the backend and tunes the manager.
type Config struct {
	// Backend selects the firewall backend; KindAuto probes nft, then iptables.
	Backend firewall.Kind
	// DryRun renders firewall commands without executing them.
	DryRun bool
	// CommandTimeout bounds each firewall command (default 10s).
	CommandTimeout time.Duration
	// PollInterval is the exit detection interval (default 1s).
	PollInterval time.Duration
	// ExtraProtected adds process names to the built-in safelist.
	ExtraProtected []string
	// CleanupOnStart sweeps rules left by a previous run during NewManager.
	CleanupOnStart bool
}

// Option customises a Manager.
type Option func(*options)

type options struct {
	backend firewall.Backend
	runner  firewall.CommandRunner
	procs   proc.Table
	clock   clock.Clock
	logger  *logging.Logger
	hub     *events.Hub
	metrics *metrics.Registry
	probe   monitor.Probe
}

// WithBackend uses b instead of constructing one from Config.
func WithBackend(b firewall.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithRunner sets the command runner of the constructed backend. In dry-run
// mode only a *firewall.RecordingRunner is used.
func WithRunner(r firewall.CommandRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithProcessTable sets the process table (default: /proc).
func WithProcessTable(t proc.Table) Option {
	return func(o *options) { o.procs = t }
}

// WithClock sets the clock used to stamp records.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents publishes isolation events on hub.
func WithEvents(hub *events.Hub) Option {
	return func(o *options) { o.hub = hub }
}

// WithMetrics records metrics in r (default: the global registry).
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// WithProbe replaces the liveness probe used for exit detection.
func WithProbe(p monitor.Probe) Option {
	return func(o *options) { o.probe = p }
}
