package main

import (
	"errors"
	"flag"
	"os"

	"grimm.is/isolator/cmd"
	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "isolate":
		err = cmd.RunIsolate(os.Args[2:])

	case "rules":
		err = cmd.RunRules(os.Args[2:])

	case "cleanup":
		err = cmd.RunCleanup(os.Args[2:])

	case "audit":
		err = cmd.RunAudit(os.Args[2:])

	case "doctor":
		err = cmd.RunDoctor(os.Args[2:])

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}
		err = cmd.RunCheck(configFile, *verbose)

	case "version", "-V", "--version":
		cmd.RunVersion()

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		printer.Fprintf(os.Stderr, "%s %s: %v\n", brand.BinaryName, os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  isolate   Cut a process off the network until it exits or Ctrl-C
            Options: --tree (-t), --dry-run (-n), --backend (-b) <kind>,
                     --config (-c) <file>, --metrics <addr>
  rules     Print the firewall commands isolating a pid would run
            Options: --backend (-b) <kind>, --tag <tag>
  cleanup   Remove every rule left by earlier runs
            Options: --backend (-b) <kind>, --dry-run (-n)
  audit     List recorded isolation events
            Options: --pid (-p) <pid>, --action <type>, --since <dur>, -n <lines>
  doctor    Run preflight checks (tools, privileges, procfs, netlink)
  check     Validate configuration file
            Options: --verbose (-v)
  version   Show version

Backends: auto (default), iptables (matches the exact pid),
          nftables (matches every process of the pid's user)

Examples:
  %s isolate 4242 "beaconing to unknown host"
  %s isolate --tree --dry-run 4242
  %s rules --backend nftables 4242
  %s cleanup
  %s check -v %s
`,
		brand.Name, brand.Description,
		brand.BinaryName,
		brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName,
		brand.BinaryName, brand.DefaultConfigPath())
}
