package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/proc"
)

// ProcMount is the procfs mount inspected by CheckProcFS.
var ProcMount = "/proc"

// geteuid is replaced by tests.
var geteuid = unix.Geteuid

// CheckFirewallTools reports which firewall tools are installed.
func CheckFirewallTools(ctx context.Context) Check {
	nft, ipt := firewall.NFTablesAvailable(), firewall.IPTablesAvailable()
	switch {
	case nft && ipt:
		return Check{Status: StatusHealthy, Message: "nft and iptables found"}
	case nft:
		return Check{Status: StatusHealthy, Message: "nft found (nftables backend, uid granularity)"}
	case ipt:
		return Check{Status: StatusHealthy, Message: "iptables found (iptables backend, pid granularity)"}
	}
	return Check{Status: StatusUnhealthy, Message: "neither nft nor iptables found in PATH"}
}

// CheckPrivileges verifies the process can change firewall rules.
func CheckPrivileges(ctx context.Context) Check {
	if euid := geteuid(); euid != 0 {
		return Check{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("running as uid %d; firewall changes need root (dry-run still works)", euid),
		}
	}
	return Check{Status: StatusHealthy, Message: "running as root"}
}

// CheckProcFS verifies the process table can be read and reports whether
// the kernel exposes child lists for tree isolation.
func CheckProcFS(ctx context.Context) Check {
	table, err := proc.NewFSTable(ProcMount)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	self := os.Getpid()
	if _, err := table.Comm(self); err != nil {
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("cannot read own process entry: %v", err)}
	}

	children := filepath.Join(ProcMount, strconv.Itoa(self), "task", strconv.Itoa(self), "children")
	if _, err := os.Stat(children); err != nil {
		return Check{Status: StatusDegraded, Message: "kernel child lists unavailable; tree isolation scans every process"}
	}
	return Check{Status: StatusHealthy, Message: "process table readable"}
}

// StateDirCheck verifies dir (audit database location) is writable.
func StateDirCheck(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
		}
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
		}
		f.Close()
		os.Remove(f.Name())
		return Check{Status: StatusHealthy, Message: dir + " writable"}
	}
}
