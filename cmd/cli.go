// Package cmd implements the isolator subcommands dispatched from main.
package cmd

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"grimm.is/isolator/internal/audit"
	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/config"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/health"
	"grimm.is/isolator/internal/i18n"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/notification"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// out receives command output. Tests replace it.
var out io.Writer = os.Stdout

// loadConfig reads path, or the default config file when path is empty.
// A missing default file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = brand.DefaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// setupLogging installs the default logger described by lc. The returned
// function closes the syslog connection, if any.
func setupLogging(lc *config.LoggingConfig) (*logging.Logger, func()) {
	var output io.Writer = os.Stderr
	closer := func() {}

	syslogCfg := lc.SyslogSettings()
	var syslogErr error
	if syslogCfg.Enabled {
		w, err := logging.NewSyslogWriter(syslogCfg)
		if err != nil {
			syslogErr = err
		} else {
			output = logging.MultiWriter(os.Stderr, w)
			closer = func() { _ = w.Close() }
		}
	}

	logger := logging.New(logging.Config{
		Level:  lc.LogLevel(),
		Output: output,
		JSON:   lc.JSON,
	})
	logging.SetDefault(logger)

	if syslogErr != nil {
		logger.Warn("remote syslog disabled", "error", syslogErr)
	}
	return logger, closer
}

// openAudit persists hub events when auditing is enabled. The returned
// function flushes and closes the store; the store is nil when disabled.
func openAudit(ac *config.AuditConfig, hub *events.Hub, logger *logging.Logger) (*audit.Store, func(), error) {
	if !ac.Enabled {
		return nil, func() {}, nil
	}
	store, err := audit.NewStore(ac.Path, ac.RetentionDays)
	if err != nil {
		return nil, nil, err
	}

	detach := store.Attach(hub, logger)
	return store, func() {
		detach()
		if err := store.Close(); err != nil {
			logging.OrDefault(logger).Warn("failed to close audit store", "error", err)
		}
	}, nil
}

// startNotifier forwards hub events to the configured alert channels. The
// dispatcher is nil when notifications are disabled.
func startNotifier(nc *config.NotifyConfig, hub *events.Hub, logger *logging.Logger) (*notification.Dispatcher, func()) {
	d := notification.NewDispatcher(nc,
		notification.WithLogger(logging.OrDefault(logger).WithComponent("notification")),
		notification.WithMetrics(metrics.Get()),
	)
	if !d.Enabled() {
		return nil, func() {}
	}
	return d, d.Attach(hub)
}

// serveMetrics exposes /metrics and /healthz on addr until the returned
// function is called.
func serveMetrics(addr, stateDir string, logger *logging.Logger) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Get().Handler())
	mux.Handle("/healthz", health.NewDefaultChecker(stateDir).Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics listener started", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
