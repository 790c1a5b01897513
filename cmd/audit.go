package cmd

import (
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"grimm.is/isolator/internal/audit"
)

// RunAudit handles the "audit" command: list recorded isolation events.
func RunAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)

	var (
		configFile, dbPath, action string
		pid, limit                 int
		since                      time.Duration
	)

	fs.StringVar(&configFile, "config", "", "Configuration file")
	fs.StringVar(&configFile, "c", "", "Alias for -config")

	fs.StringVar(&dbPath, "db", "", "Audit database (overrides the configured path)")

	fs.IntVar(&pid, "pid", 0, "Only events for this pid")
	fs.IntVar(&pid, "p", 0, "Alias for -pid")

	fs.StringVar(&action, "action", "", "Only events of this type (e.g. isolation.isolated)")

	fs.IntVar(&limit, "lines", 50, "Number of events to show")
	fs.IntVar(&limit, "n", 50, "Alias for -lines")

	fs.DurationVar(&since, "since", 0, "Only events newer than this (e.g. 24h)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if dbPath == "" {
		dbPath = cfg.Audit.Path
	}

	store, err := audit.NewStore(dbPath, cfg.Audit.RetentionDays)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	f := audit.Filter{Action: action, PID: pid, Limit: limit}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	evts, err := store.Query(f)
	if err != nil {
		return err
	}

	if len(evts) == 0 {
		Printer.Fprintln(out, "No audit events.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tPID\tBACKEND\tRULES\tDETAIL")
	for _, e := range evts {
		detail := e.Reason
		if e.Error != "" {
			detail = "error: " + e.Error
		}
		backend := e.Backend
		if e.DryRun {
			backend += " (dry-run)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Action, pidString(e.PID), backend, e.Rules, detail)
	}
	return w.Flush()
}

func pidString(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}
