package cmd

import (
	"context"
	"flag"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/firewall"
)

// RunCleanup handles the "cleanup" command: remove every rule and object
// left behind by earlier runs.
func RunCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)

	var (
		configFile, backend string
		dryRun              bool
	)

	fs.StringVar(&configFile, "config", "", "Configuration file")
	fs.StringVar(&configFile, "c", "", "Alias for -config")

	fs.StringVar(&backend, "backend", "", "Firewall backend: auto, iptables, nftables")
	fs.StringVar(&backend, "b", "", "Alias for -backend")

	fs.BoolVar(&dryRun, "dry-run", false, "Print firewall commands without executing them")
	fs.BoolVar(&dryRun, "n", false, "Alias for -dry-run")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Isolation.Backend = backend
	}
	if dryRun {
		cfg.Isolation.DryRun = true
	}
	kind, err := cfg.Isolation.BackendKind()
	if err != nil {
		return err
	}

	logger, closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	b, err := firewall.New(kind, firewall.Options{
		DryRun:  cfg.Isolation.DryRun,
		Timeout: cfg.Isolation.Timeout(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := b.CleanupAllRules(context.Background()); err != nil {
		return err
	}
	logger.Audit("cleanup", "all", map[string]any{"backend": b.Kind().String(), "dry_run": b.DryRun()})
	Printer.Fprintf(out, "Removed all %s rules (%s)\n", brand.LowerName, b.Kind())
	return nil
}
