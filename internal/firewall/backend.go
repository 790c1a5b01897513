package firewall

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/proc"
)

const (
	iptablesBin = "iptables"
	nftBin      = "nft"

	// loopbackNet stays reachable for isolated processes.
	loopbackNet = "127.0.0.0/8"
)

// Kind selects a backend implementation.
type Kind int

const (
	// KindAuto resolves to the first available tool, nftables before iptables.
	KindAuto Kind = iota
	KindIPTables
	KindNFTables
)

func (k Kind) String() string {
	switch k {
	case KindAuto:
		return "auto"
	case KindIPTables:
		return "iptables"
	case KindNFTables:
		return "nftables"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind parses "auto", "iptables" or "nftables" (case-insensitive;
// "nft" is accepted for nftables, "" for auto).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KindAuto, nil
	case "iptables":
		return KindIPTables, nil
	case "nftables", "nft":
		return KindNFTables, nil
	}
	return KindAuto, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Granularity is the precision of a backend's owner match.
type Granularity int

const (
	// GranularityPID matches exactly the isolated process.
	GranularityPID Granularity = iota
	// GranularityUID matches every process of the isolated process's owner.
	GranularityUID
)

func (g Granularity) String() string {
	if g == GranularityUID {
		return "uid"
	}
	return "pid"
}

// Backend applies and removes isolation rules with one firewall mechanism.
type Backend interface {
	Kind() Kind
	Granularity() Granularity
	DryRun() bool

	// ApplyIsolation installs the allow/log/drop rules for pid and returns
	// their descriptors. tag is a per-record identifier embedded in every
	// rule so separate records never share rules. On error nothing is left
	// installed.
	ApplyIsolation(ctx context.Context, pid int, tag string) ([]string, error)

	// RemoveIsolation removes exactly the rules returned by ApplyIsolation.
	// Rules that are already gone are not an error.
	RemoveIsolation(ctx context.Context, pid int, rules []string) error

	// CleanupAllRules removes every rule and object this package created.
	// It is a no-op when nothing exists.
	CleanupAllRules(ctx context.Context) error
}

// Options configures backend construction.
type Options struct {
	// DryRun renders commands instead of executing them.
	DryRun bool
	// Runner executes commands. In dry-run mode only a *RecordingRunner is
	// honoured; anything else is replaced by a fresh one.
	Runner CommandRunner
	// Timeout bounds each command when the default ExecRunner is used.
	Timeout time.Duration
	Logger  *logging.Logger
	// Procs resolves owner uids for the nftables backend.
	Procs proc.Table
}

func (o Options) runner() CommandRunner {
	if o.DryRun {
		if rr, ok := o.Runner.(*RecordingRunner); ok {
			return rr
		}
		return NewRecordingRunner(o.Logger)
	}
	if o.Runner != nil {
		return o.Runner
	}
	return NewExecRunner(o.Timeout)
}

// requireTool checks the tool exists when commands will really execute.
func (o Options) requireTool(bin string) error {
	if o.DryRun || o.Runner != nil {
		return nil
	}
	if _, err := LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, bin, err)
	}
	return nil
}

// LookPath locates firewall tools. Tests replace it.
var LookPath = exec.LookPath

// IPTablesAvailable reports whether the iptables tool is installed.
func IPTablesAvailable() bool {
	_, err := LookPath(iptablesBin)
	return err == nil
}

// NFTablesAvailable reports whether the nft tool is installed.
func NFTablesAvailable() bool {
	_, err := LookPath(nftBin)
	return err == nil
}

// Detect resolves KindAuto: nftables is preferred over iptables.
func Detect() (Kind, error) {
	if NFTablesAvailable() {
		return KindNFTables, nil
	}
	if IPTablesAvailable() {
		return KindIPTables, nil
	}
	return KindAuto, fmt.Errorf("%w: neither %s nor %s found", ErrBackendUnavailable, nftBin, iptablesBin)
}

// New constructs the backend for kind. KindAuto is resolved with Detect;
// in dry-run mode nftables is chosen when no tool is installed.
func New(kind Kind, opts Options) (Backend, error) {
	if kind == KindAuto {
		k, err := Detect()
		if err != nil {
			if !opts.DryRun {
				return nil, err
			}
			k = KindNFTables
		}
		kind = k
	}

	switch kind {
	case KindIPTables:
		b, err := NewIPTablesBackend(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindNFTables:
		b, err := NewNFTablesBackend(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownBackend, kind)
}

// ruleComment is the comment carried by every rule of one isolation record.
func ruleComment(pid int, tag string) string {
	if tag == "" {
		tag = "pid" + strconv.Itoa(pid)
	}
	return brand.CommentPrefix() + tag
}
