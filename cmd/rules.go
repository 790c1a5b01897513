package cmd

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/proc"
	"grimm.is/isolator/internal/validation"
)

// RunRules handles the "rules" command: print the commands that isolating
// pid would run, without running them.
func RunRules(args []string) error {
	fs := flag.NewFlagSet("rules", flag.ContinueOnError)

	var configFile, backend, tag string

	fs.StringVar(&configFile, "config", "", "Configuration file")
	fs.StringVar(&configFile, "c", "", "Alias for -config")

	fs.StringVar(&backend, "backend", "", "Firewall backend: auto, iptables, nftables")
	fs.StringVar(&backend, "b", "", "Alias for -backend")

	fs.StringVar(&tag, "tag", "preview", "Record tag embedded in rule comments")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s rules [-backend kind] [-tag tag] <pid>", brand.BinaryName)
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", fs.Arg(0))
	}
	if err := validation.ValidateTag(tag); err != nil {
		return err
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Isolation.Backend = backend
	}
	kind, err := cfg.Isolation.BackendKind()
	if err != nil {
		return err
	}

	// Recorded commands are printed below; keep the dry-run log quiet.
	quiet := logging.New(logging.Config{Level: logging.LevelError})
	rec := firewall.NewRecordingRunner(quiet)
	procs, err := proc.NewFSTable("")
	if err != nil {
		return err
	}

	b, err := firewall.New(kind, firewall.Options{
		DryRun: true,
		Runner: rec,
		Logger: quiet,
		Procs:  procs,
	})
	if err != nil {
		return err
	}

	if _, err := b.ApplyIsolation(context.Background(), pid, tag); err != nil {
		return err
	}

	Printer.Fprintf(out, "# %s rules for pid %s (matches by %s)\n", b.Kind(), strconv.Itoa(pid), b.Granularity())
	for _, c := range rec.Commands() {
		fmt.Fprintln(out, c)
	}
	return nil
}
