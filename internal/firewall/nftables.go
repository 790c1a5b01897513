//go:build linux

package firewall

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/userdata"

	"grimm.is/isolator/internal/brand"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/proc"
)

const (
	nftFamily = "inet"
	nftChain  = "output"
)

var (
	nftCommentRe = regexp.MustCompile(`comment "([^"]*)"`)
	nftHandleRe  = regexp.MustCompile(`# handle (\d+)`)
)

// NFTablesBackend isolates processes with nftables in a dedicated
// "inet isolator" table. nftables cannot match on pid, so rules match the
// owner uid of the target: every process of that user is affected.
type NFTablesBackend struct {
	runner CommandRunner
	conn   NFTablesConn // nil: handles are found by listing the chain
	procs  proc.Table
	dryRun bool
	table  string
	logger *logging.Logger

	mu    sync.Mutex
	ready bool
}

// NewNFTablesBackend creates an nftables backend. Outside dry-run mode the
// nft tool must be installed; a netlink connection is opened for rule
// lookups when possible.
func NewNFTablesBackend(opts Options) (*NFTablesBackend, error) {
	var conn NFTablesConn
	if !opts.DryRun && opts.Runner == nil {
		if c, err := nftables.New(); err == nil {
			conn = NewRealNFTablesConn(c)
		} else {
			logging.OrDefault(opts.Logger).Debug("nftables netlink unavailable, using nft listings", "error", err)
		}
	}
	return NewNFTablesBackendWithConn(opts, conn)
}

// NewNFTablesBackendWithConn creates an nftables backend reading kernel
// state through conn (which may be nil).
func NewNFTablesBackendWithConn(opts Options, conn NFTablesConn) (*NFTablesBackend, error) {
	if err := opts.requireTool(nftBin); err != nil {
		return nil, err
	}
	procs := opts.Procs
	if procs == nil {
		t, err := proc.NewFSTable("")
		if err != nil {
			return nil, fmt.Errorf("nftables: %w", err)
		}
		procs = t
	}
	return &NFTablesBackend{
		runner: opts.runner(),
		conn:   conn,
		procs:  procs,
		dryRun: opts.DryRun,
		table:  brand.TableName(),
		logger: logging.OrDefault(opts.Logger).WithComponent("firewall.nftables"),
	}, nil
}

func (b *NFTablesBackend) Kind() Kind               { return KindNFTables }
func (b *NFTablesBackend) Granularity() Granularity { return GranularityUID }
func (b *NFTablesBackend) DryRun() bool             { return b.dryRun }

// Rules returns the descriptors ApplyIsolation would install for a process
// of uid. Each descriptor is a complete nft statement.
func (b *NFTablesBackend) Rules(pid int, uid uint32, tag string) []string {
	base := fmt.Sprintf("add rule %s %s %s meta skuid %d", nftFamily, b.table, nftChain, uid)
	comment := fmt.Sprintf("comment %q", fmt.Sprintf("%s pid=%d", ruleComment(pid, tag), pid))
	prefix := fmt.Sprintf("%s_UID_%d_PID_%d: ", brand.LogPrefix(), uid, pid)
	return []string{
		fmt.Sprintf("%s ip daddr %s accept %s", base, loopbackNet, comment),
		fmt.Sprintf("%s log prefix %q %s", base, prefix, comment),
		fmt.Sprintf("%s drop %s", base, comment),
	}
}

// ApplyIsolation resolves the owner of pid and adds the allow, log and drop
// rules in one nft transaction.
func (b *NFTablesBackend) ApplyIsolation(ctx context.Context, pid int, tag string) ([]string, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("nftables: invalid pid %d", pid)
	}
	uid, err := b.procs.OwnerUID(pid)
	if err != nil {
		return nil, fmt.Errorf("nftables: resolve owner of pid %d: %w", pid, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureTable(ctx); err != nil {
		return nil, err
	}

	rules := b.Rules(pid, uid, tag)
	if err := b.runner.RunInput(ctx, strings.Join(rules, "\n")+"\n", nftBin, "-f", "-"); err != nil {
		return nil, fmt.Errorf("nftables: apply rules for pid %d (uid %d): %w", pid, uid, err)
	}

	b.logger.Info("isolation rules applied", "pid", pid, "uid", uid, "rules", len(rules))
	return rules, nil
}

// RemoveIsolation deletes the kernel rules carrying the comments of the
// given descriptors. Rule handles are looked up at removal time.
func (b *NFTablesBackend) RemoveIsolation(ctx context.Context, pid int, rules []string) error {
	comments := ruleComments(rules)
	if len(comments) == 0 {
		if len(rules) == 0 {
			return nil
		}
		return fmt.Errorf("nftables: no rule comments in descriptors for pid %d", pid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dryRun {
		// Handles only exist in the kernel; render the deletes by comment.
		var script strings.Builder
		for _, r := range rules {
			if m := nftCommentRe.FindStringSubmatch(r); m != nil {
				fmt.Fprintf(&script, "delete rule %s %s %s handle <handle of comment %q>\n", nftFamily, b.table, nftChain, m[1])
			}
		}
		return b.runner.RunInput(ctx, script.String(), nftBin, "-f", "-")
	}

	handles, err := b.findHandles(ctx, comments)
	if err != nil {
		if outputContains(err, "No such file or directory") {
			return nil
		}
		return fmt.Errorf("nftables: find rules for pid %d: %w", pid, err)
	}
	if len(handles) == 0 {
		b.logger.Debug("no kernel rules left to remove", "pid", pid)
		return nil
	}

	var script strings.Builder
	for _, h := range handles {
		fmt.Fprintf(&script, "delete rule %s %s %s handle %d\n", nftFamily, b.table, nftChain, h)
	}
	if err := b.runner.RunInput(ctx, script.String(), nftBin, "-f", "-"); err != nil {
		return fmt.Errorf("nftables: remove rules for pid %d: %w", pid, err)
	}

	b.logger.Info("isolation rules removed", "pid", pid, "rules", len(handles))
	return nil
}

// CleanupAllRules deletes the dedicated table.
func (b *NFTablesBackend) CleanupAllRules(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		exists, err := b.tableExists()
		if err == nil && !exists {
			b.ready = false
			return nil
		}
	}

	err := b.runner.Run(ctx, nftBin, "delete", "table", nftFamily, b.table)
	if err != nil && !outputContains(err, "No such file or directory", "does not exist") {
		return fmt.Errorf("nftables: delete table %s %s: %w", nftFamily, b.table, err)
	}
	b.ready = false
	b.logger.Info("all isolation rules removed", "table", b.table)
	return nil
}

func (b *NFTablesBackend) tableExists() (bool, error) {
	tables, err := b.conn.ListTables()
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t.Name == b.table && t.Family == nftables.TableFamilyINet {
			return true, nil
		}
	}
	return false, nil
}

// ensureTable creates the table and hooked chain once.
func (b *NFTablesBackend) ensureTable(ctx context.Context) error {
	if b.ready {
		return nil
	}
	script := fmt.Sprintf("add table %[1]s %[2]s\n"+
		"add chain %[1]s %[2]s %[3]s { type filter hook output priority 0; policy accept; }\n",
		nftFamily, b.table, nftChain)
	if err := b.runner.RunInput(ctx, script, nftBin, "-f", "-"); err != nil && !outputContains(err, "File exists", "already exists") {
		return fmt.Errorf("nftables: create table %s %s: %w", nftFamily, b.table, err)
	}
	b.ready = true
	return nil
}

// findHandles returns the handles of chain rules whose comment is in
// comments, via netlink when available and the nft listing otherwise.
func (b *NFTablesBackend) findHandles(ctx context.Context, comments map[string]bool) ([]uint64, error) {
	if b.conn != nil {
		t := &nftables.Table{Name: b.table, Family: nftables.TableFamilyINet}
		rules, err := b.conn.GetRules(t, &nftables.Chain{Name: nftChain, Table: t})
		if err == nil {
			var handles []uint64
			for _, r := range rules {
				if c, ok := userdata.GetString(r.UserData, userdata.TypeComment); ok && comments[c] {
					handles = append(handles, r.Handle)
				}
			}
			return handles, nil
		}
		b.logger.Debug("netlink rule lookup failed, listing chain", "error", err)
	}

	out, err := b.runner.Output(ctx, nftBin, "-a", "list", "chain", nftFamily, b.table, nftChain)
	if err != nil {
		return nil, err
	}
	return parseHandles(out, comments), nil
}

// parseHandles extracts "# handle N" from listing lines whose comment is
// in comments.
func parseHandles(listing []byte, comments map[string]bool) []uint64 {
	var handles []uint64
	sc := bufio.NewScanner(bytes.NewReader(listing))
	for sc.Scan() {
		line := sc.Text()
		c := nftCommentRe.FindStringSubmatch(line)
		h := nftHandleRe.FindStringSubmatch(line)
		if c == nil || h == nil || !comments[c[1]] {
			continue
		}
		if n, err := strconv.ParseUint(h[1], 10, 64); err == nil {
			handles = append(handles, n)
		}
	}
	return handles
}

func ruleComments(rules []string) map[string]bool {
	comments := make(map[string]bool)
	for _, r := range rules {
		if m := nftCommentRe.FindStringSubmatch(r); m != nil {
			comments[m[1]] = true
		}
	}
	return comments
}
