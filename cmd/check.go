package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/config"
	"grimm.is/isolator/internal/isolation"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>\nExample: %s check -v %s", brand.BinaryName, brand.BinaryName, brand.DefaultConfigPath())
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	iso := cfg.Isolation
	Printer.Fprintf(out, "Configuration valid!\n")
	Printer.Fprintf(out, "Backend: %s\n", iso.Backend)
	Printer.Fprintf(out, "Dry run: %v\n", iso.DryRun)
	Printer.Fprintf(out, "Command timeout: %s\n", iso.Timeout())
	Printer.Fprintf(out, "Poll interval: %s\n", iso.Interval())
	Printer.Fprintf(out, "Cleanup on start: %v\n", iso.CleanupEnabled())
	Printer.Fprintf(out, "Audit: %s\n", onOff(cfg.Audit.Enabled, cfg.Audit.Path))
	Printer.Fprintf(out, "Metrics: %s\n", onOff(cfg.Metrics.Listen != "", cfg.Metrics.Listen))
	Printer.Fprintf(out, "Notify: %s\n", onOff(cfg.Notify.Enabled && len(cfg.Notify.Channels) > 0, channelNames(cfg.Notify)))

	if verbose {
		Printer.Fprintln(out)
		printSafelist(isolation.NewSafelist(iso.ProtectedProcesses...), iso.ProtectedProcesses)
	}
	return nil
}

func onOff(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	return "enabled (" + detail + ")"
}

func channelNames(nc *config.NotifyConfig) string {
	names := make([]string, 0, len(nc.Channels))
	for _, ch := range nc.Channels {
		names = append(names, ch.Name+"/"+ch.Type)
	}
	return strings.Join(names, ", ")
}

func printSafelist(s *isolation.Safelist, extra []string) {
	configured := make(map[string]bool, len(extra))
	for _, n := range extra {
		configured[strings.TrimSpace(n)] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	Printer.Fprintln(w, "PROTECTED PROCESS\tSOURCE")
	for _, name := range s.Names() {
		source := "built-in"
		if configured[name] {
			source = "config"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, source)
	}
	w.Flush()
}
