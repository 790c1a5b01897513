package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/health"
	"grimm.is/isolator/internal/isolation"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/scheduler"
)

const (
	defaultReason  = "manual isolation"
	healthInterval = time.Minute
)

// RunIsolate handles the "isolate" command: isolate a process (or tree),
// hold the isolation until every isolated process exits or the command is
// interrupted, then remove all rules.
func RunIsolate(args []string) error {
	fs := flag.NewFlagSet("isolate", flag.ContinueOnError)

	var (
		configFile, backend, metricsAddr string
		tree, dryRun                     bool
	)

	fs.StringVar(&configFile, "config", "", "Configuration file")
	fs.StringVar(&configFile, "c", "", "Alias for -config")

	fs.BoolVar(&tree, "tree", false, "Also isolate every descendant")
	fs.BoolVar(&tree, "t", false, "Alias for -tree")

	fs.BoolVar(&dryRun, "dry-run", false, "Print firewall commands without executing them")
	fs.BoolVar(&dryRun, "n", false, "Alias for -dry-run")

	fs.StringVar(&backend, "backend", "", "Firewall backend: auto, iptables, nftables")
	fs.StringVar(&backend, "b", "", "Alias for -backend")

	fs.StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: %s isolate [-tree] [-n] [-backend kind] <pid> [reason...]", brand.BinaryName)
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid pid %q", fs.Arg(0))
	}
	reason := strings.Join(fs.Args()[1:], " ")
	if reason == "" {
		reason = defaultReason
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
	if metricsAddr != "" {
		cfg.Metrics.Listen = metricsAddr
	}
	kind, err := cfg.Isolation.BackendKind()
	if err != nil {
		return err
	}

	logger, closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	hub := events.NewHub()
	store, closeAudit, err := openAudit(cfg.Audit, hub, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	notifier, stopNotify := startNotifier(cfg.Notify, hub, logger)
	defer stopNotify()

	stateDir := filepath.Dir(cfg.Audit.Path)
	stopMetrics := serveMetrics(cfg.Metrics.Listen, stateDir, logger)
	defer stopMetrics()

	mgr, err := isolation.NewManager(isolation.Config{
		Backend:        kind,
		DryRun:         cfg.Isolation.DryRun,
		CommandTimeout: cfg.Isolation.Timeout(),
		PollInterval:   cfg.Isolation.Interval(),
		ExtraProtected: cfg.Isolation.ProtectedProcesses,
		CleanupOnStart: cfg.Isolation.CleanupEnabled(),
	}, isolation.WithLogger(logger), isolation.WithEvents(hub))
	if err != nil {
		return err
	}

	sched := scheduler.New(logger)
	sched.AddTask(scheduler.NewActiveGaugeTask(func() int { return mgr.Statistics().ActiveIsolated }, metrics.Get(), cfg.Isolation.Interval()))
	sched.AddTask(scheduler.NewHealthCheckTask(health.NewDefaultChecker(stateDir), healthInterval))
	if store != nil {
		sched.AddTask(scheduler.NewAuditPruneTask(store, logger))
	}
	if notifier != nil {
		sched.AddTask(scheduler.NewThrottlePruneTask(notifier.PruneThrottle))
	}
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := isolate(ctx, mgr, pid, reason, tree); err != nil {
		_ = mgr.Close()
		return err
	}

	printIsolated(mgr)
	if mgr.Granularity() == firewall.GranularityUID {
		Printer.Fprintf(out, "Note: %s rules match by user; every process of the same uid is blocked.\n", mgr.Backend().Kind())
	}
	Printer.Fprintf(out, "Holding isolation until the process exits (Ctrl-C to restore)...\n")

	waitReleased(ctx, mgr, cfg.Isolation.Interval())

	closeErr := mgr.Close()
	stats := mgr.Statistics()
	Printer.Fprintf(out, "Restored. isolated=%d rules=%d cleanups=%d exited=%d\n",
		stats.TotalIsolated, stats.TotalRulesApplied, stats.TotalCleanupOperations, stats.TotalExitCleanups)
	return closeErr
}

func isolate(ctx context.Context, mgr *isolation.Manager, pid int, reason string, tree bool) error {
	if !tree {
		return mgr.IsolateProcess(ctx, pid, reason)
	}

	res, err := mgr.IsolateProcessTree(ctx, pid)
	if err != nil {
		return err
	}
	failed := make([]int, 0, len(res.Failed))
	for p := range res.Failed {
		failed = append(failed, p)
	}
	sort.Ints(failed)
	for _, p := range failed {
		Printer.Fprintf(os.Stderr, "  skipped pid %s: %v\n", strconv.Itoa(p), res.Failed[p])
	}
	return nil
}

func printIsolated(mgr *isolation.Manager) {
	for _, rec := range mgr.ListIsolatedProcesses() {
		Printer.Fprintf(out, "Isolated pid %s (%s) record %s\n", strconv.Itoa(rec.PID), rec.Reason, rec.ID)
		for _, rule := range rec.Rules {
			fmt.Fprintf(out, "  %s\n", rule)
		}
	}
}

// waitReleased returns when no isolated process remains or ctx is done.
func waitReleased(ctx context.Context, mgr *isolation.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mgr.Statistics().ActiveIsolated == 0 {
				return
			}
		}
	}
}
