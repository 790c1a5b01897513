package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"grimm.is/isolator/internal/health"
)

// RunDoctor handles the "doctor" command: run the preflight checks and
// fail when any is unhealthy.
func RunDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)

	var configFile string
	fs.StringVar(&configFile, "config", "", "Configuration file")
	fs.StringVar(&configFile, "c", "", "Alias for -config")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	report := health.NewDefaultChecker(filepath.Dir(cfg.Audit.Path)).Check(ctx)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, c := range report.Sorted() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Status, c.Message)
	}
	w.Flush()
	Printer.Fprintf(out, "\nOverall: %s\n", report.Status)

	if report.Status == health.StatusUnhealthy {
		return errors.New("preflight checks failed")
	}
	return nil
}
