package cmd

import "grimm.is/isolator/internal/brand"

// RunVersion prints build information.
func RunVersion() {
	Printer.Fprintf(out, "%s %s (commit %s)\n", brand.BinaryName, brand.Version, brand.GitCommit)
}
