package firewall

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/flynn/go-shlex"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/logging"
)

// Failure text iptables prints when the object to remove is already gone.
var iptablesMissing = []string{
	"No chain/target/match",
	"does not exist",
	"Couldn't load target",
	"Bad rule",
}

// IPTablesBackend isolates processes with the iptables owner match
// (--pid-owner). Rules live in a dedicated chain jumped to from OUTPUT, so
// they can be appended in evaluation order and flushed as a unit.
type IPTablesBackend struct {
	runner CommandRunner
	dryRun bool
	chain  string
	logger *logging.Logger

	mu    sync.Mutex
	ready bool // chain exists and is hooked
}

// NewIPTablesBackend creates an iptables backend. Outside dry-run mode the
// iptables tool must be installed.
func NewIPTablesBackend(opts Options) (*IPTablesBackend, error) {
	if err := opts.requireTool(iptablesBin); err != nil {
		return nil, err
	}
	return &IPTablesBackend{
		runner: opts.runner(),
		dryRun: opts.DryRun,
		chain:  brand.ChainName(),
		logger: logging.OrDefault(opts.Logger).WithComponent("firewall.iptables"),
	}, nil
}

func (b *IPTablesBackend) Kind() Kind               { return KindIPTables }
func (b *IPTablesBackend) Granularity() Granularity { return GranularityPID }
func (b *IPTablesBackend) DryRun() bool             { return b.dryRun }

// Rules returns the descriptors ApplyIsolation would install for pid.
func (b *IPTablesBackend) Rules(pid int, tag string) []string {
	match := fmt.Sprintf("-A %s -m owner --pid-owner %d", b.chain, pid)
	comment := fmt.Sprintf("-m comment --comment %q", ruleComment(pid, tag))
	prefix := fmt.Sprintf("%s_PID_%d: ", brand.LogPrefix(), pid)
	return []string{
		fmt.Sprintf("%s -d %s %s -j ACCEPT", match, loopbackNet, comment),
		fmt.Sprintf("%s %s -j LOG --log-prefix %q", match, comment, prefix),
		fmt.Sprintf("%s %s -j DROP", match, comment),
	}
}

// ApplyIsolation appends the allow, log and drop rules for pid. If any rule
// fails the ones already appended are deleted again.
func (b *IPTablesBackend) ApplyIsolation(ctx context.Context, pid int, tag string) ([]string, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("iptables: invalid pid %d", pid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureChain(ctx); err != nil {
		return nil, err
	}

	rules := b.Rules(pid, tag)
	for i, rule := range rules {
		if err := b.exec(ctx, rule); err != nil {
			if rbErr := b.remove(ctx, rules[:i]); rbErr != nil {
				b.logger.Error("rollback of partial isolation failed", "pid", pid, "error", rbErr)
			}
			return nil, fmt.Errorf("iptables: apply rule %d/%d for pid %d: %w", i+1, len(rules), pid, err)
		}
	}

	b.logger.Info("isolation rules applied", "pid", pid, "rules", len(rules))
	return rules, nil
}

// RemoveIsolation deletes the given rules in reverse order. Every rule is
// attempted; failures other than "already gone" are joined and returned.
func (b *IPTablesBackend) RemoveIsolation(ctx context.Context, pid int, rules []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.remove(ctx, rules); err != nil {
		return fmt.Errorf("iptables: remove isolation for pid %d: %w", pid, err)
	}
	b.logger.Info("isolation rules removed", "pid", pid, "rules", len(rules))
	return nil
}

func (b *IPTablesBackend) remove(ctx context.Context, rules []string) error {
	var errs []error
	for i := len(rules) - 1; i >= 0; i-- {
		del, err := deleteForm(rules[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := b.exec(ctx, del); err != nil && !outputContains(err, iptablesMissing...) {
			b.logger.Warn("failed to delete rule", "rule", rules[i], "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanupAllRules removes stray marked rules from OUTPUT, then flushes,
// unhooks and deletes the dedicated chain.
func (b *IPTablesBackend) CleanupAllRules(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if err := b.sweepOutput(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := b.run(ctx, "-F", b.chain); err != nil && !outputContains(err, iptablesMissing...) {
		errs = append(errs, err)
	}
	if err := b.unhook(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.run(ctx, "-X", b.chain); err != nil && !outputContains(err, iptablesMissing...) {
		errs = append(errs, err)
	}
	b.ready = false

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("iptables: cleanup: %w", err)
	}
	b.logger.Info("all isolation rules removed", "chain", b.chain)
	return nil
}

// maxHookDeletes bounds the jump rules unhook removes from OUTPUT.
const maxHookDeletes = 32

// unhook deletes every OUTPUT jump to the chain. Earlier runs or manual
// setup may have inserted more than one.
func (b *IPTablesBackend) unhook(ctx context.Context) error {
	for i := 0; i < maxHookDeletes; i++ {
		err := b.run(ctx, "-D", "OUTPUT", "-j", b.chain)
		if err != nil {
			if outputContains(err, iptablesMissing...) {
				return nil
			}
			return err
		}
		if b.dryRun {
			return nil
		}
	}
	return fmt.Errorf("iptables: more than %d jumps to %s in OUTPUT", maxHookDeletes, b.chain)
}

// sweepOutput deletes OUTPUT rules carrying the block log prefix or the
// rule comment marker. Highest line numbers go first so earlier numbers
// stay valid.
func (b *IPTablesBackend) sweepOutput(ctx context.Context) error {
	out, err := b.runner.Output(ctx, iptablesBin, "-w", "-L", "OUTPUT", "-n", "--line-numbers")
	if err != nil {
		if outputContains(err, iptablesMissing...) {
			return nil
		}
		return err
	}

	lines := markedLines(out, brand.LogPrefix(), "/* "+brand.CommentPrefix())
	var errs []error
	for _, n := range lines {
		if err := b.run(ctx, "-D", "OUTPUT", strconv.Itoa(n)); err != nil && !outputContains(err, iptablesMissing...) {
			errs = append(errs, err)
		}
	}
	if len(lines) > 0 {
		b.logger.Info("removed stray rules from OUTPUT", "count", len(lines))
	}
	return errors.Join(errs...)
}

// markedLines returns, highest first, the line numbers of listing entries
// that contain any marker.
func markedLines(listing []byte, markers ...string) []int {
	var nums []int
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		for _, m := range markers {
			if strings.Contains(line, m) {
				nums = append(nums, n)
				break
			}
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nums)))
	return nums
}

// ensureChain creates the dedicated chain and hooks it from OUTPUT once.
func (b *IPTablesBackend) ensureChain(ctx context.Context) error {
	if b.ready {
		return nil
	}
	if err := b.run(ctx, "-N", b.chain); err != nil && !outputContains(err, "already exists") {
		return fmt.Errorf("iptables: create chain %s: %w", b.chain, err)
	}

	hooked := false
	if !b.dryRun {
		hooked = b.run(ctx, "-C", "OUTPUT", "-j", b.chain) == nil
	}
	if !hooked {
		if err := b.run(ctx, "-I", "OUTPUT", "1", "-j", b.chain); err != nil {
			return fmt.Errorf("iptables: hook chain %s: %w", b.chain, err)
		}
	}
	b.ready = true
	return nil
}

func (b *IPTablesBackend) run(ctx context.Context, args ...string) error {
	return b.runner.Run(ctx, iptablesBin, append([]string{"-w"}, args...)...)
}

// exec runs a rule descriptor.
func (b *IPTablesBackend) exec(ctx context.Context, rule string) error {
	args, err := shlex.Split(rule)
	if err != nil {
		return fmt.Errorf("parse rule %q: %w", rule, err)
	}
	return b.run(ctx, args...)
}

// deleteForm turns an append descriptor into the matching delete.
func deleteForm(rule string) (string, error) {
	if !strings.HasPrefix(rule, "-A ") {
		return "", fmt.Errorf("not an iptables append rule: %q", rule)
	}
	return "-D " + strings.TrimPrefix(rule, "-A "), nil
}
