// Package isolation cuts individual processes off the network.
//
// A Manager validates targets against the critical process safelist, asks
// a firewall backend for allow/log/drop rules, records what it applied and
// watches the target. When the target exits its rules are torn down
// automatically; RestoreProcess does the same on demand and CleanupAll
// tears down everything.
//
// Precision depends on the backend: iptables matches the exact pid,
// nftables matches every process of the target's uid. Granularity reports
// which one is in effect.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/isolator/internal/clock"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/logging"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/monitor"
	"grimm.is/isolator/internal/proc"
)

// Reasons recorded by IsolateProcessTree.
const (
	TreeRootReason        = "process tree isolation"
	treeDescendantReasonF = "descendant of %d"
)

// IsolatedProcess is the record of one isolated process.
type IsolatedProcess struct {
	// ID is unique per record and is embedded in the firewall rules.
	ID         string
	PID        int
	Reason     string
	IsolatedAt time.Time
	// Rules are the backend descriptors needed to undo the isolation.
	Rules []string
}

func (p *IsolatedProcess) clone() IsolatedProcess {
	c := *p
	c.Rules = append([]string(nil), p.Rules...)
	return c
}

// Statistics are process-wide counters.
type Statistics struct {
	TotalIsolated          uint64 // cumulative successful isolations
	TotalRulesApplied      uint64
	TotalCleanupOperations uint64 // records torn down by restore, exit or cleanup
	TotalExitCleanups      uint64 // subset of the above triggered by process exit
	ActiveIsolated         int
}

// TreeResult reports per-member outcomes of IsolateProcessTree.
type TreeResult struct {
	Isolated []int
	Failed   map[int]error
}

type pendingIsolation struct {
	done chan struct{}
}

// Manager orchestrates process isolation.
type Manager struct {
	backend   firewall.Backend
	procs     proc.Table
	clock     clock.Clock
	logger    *logging.Logger
	hub       *events.Hub
	metrics   *metrics.Registry
	safelist  *Safelist
	selfPID   int
	monitor   *monitor.ProcessMonitor
	teardown  *teardownQueue
	treeWarn  sync.Once
	closeOnce sync.Once

	// backendMu serialises backend commands. mu is never held across one.
	backendMu sync.Mutex

	mu      sync.Mutex
	records map[int]*IsolatedProcess
	pending map[int]*pendingIsolation
	stats   Statistics
	closed  bool
}

// NewManager selects a backend, optionally sweeps stale rules and starts
// exit monitoring. Close must be called to stop it.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger).WithComponent("isolation")

	procs := o.procs
	if procs == nil {
		t, err := proc.NewFSTable("")
		if err != nil {
			return nil, err
		}
		procs = t
	}

	backend := o.backend
	if backend == nil {
		b, err := firewall.New(cfg.Backend, firewall.Options{
			DryRun:  cfg.DryRun,
			Runner:  o.runner,
			Timeout: cfg.CommandTimeout,
			Logger:  o.logger,
			Procs:   procs,
		})
		if err != nil {
			if cfg.Backend == firewall.KindAuto && errors.Is(err, firewall.ErrBackendUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrNoSupportedBackend, err)
			}
			return nil, err
		}
		backend = b
	}

	m := &Manager{
		backend:  backend,
		procs:    procs,
		clock:    o.clock,
		logger:   logger,
		hub:      o.hub,
		metrics:  o.metrics,
		safelist: NewSafelist(cfg.ExtraProtected...),
		selfPID:  os.Getpid(),
		records:  make(map[int]*IsolatedProcess),
		pending:  make(map[int]*pendingIsolation),
	}
	if m.clock == nil {
		m.clock = clock.Real
	}
	if m.metrics == nil {
		m.metrics = metrics.Get()
	}

	logger.Info("isolation manager started",
		"backend", backend.Kind().String(),
		"granularity", backend.Granularity().String(),
		"dry_run", backend.DryRun())
	if backend.Granularity() == firewall.GranularityUID {
		logger.Warn("backend matches by uid: isolating a process also isolates every process of its user")
	}

	if cfg.CleanupOnStart {
		m.backendMu.Lock()
		err := backend.CleanupAllRules(context.Background())
		m.backendMu.Unlock()
		if err != nil {
			m.metrics.RecordBackendError("cleanup")
			logger.Error("startup cleanup of stale rules failed", "error", err)
		}
	}

	probe := o.probe
	if probe == nil {
		probe = m.alive
	}
	m.teardown = newTeardownQueue(m.teardownExited)
	m.monitor = monitor.NewProcessMonitor(m.onProcessExit,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithLogger(o.logger),
		monitor.WithProbe(probe))

	return m, nil
}

// alive is the default liveness probe: signal 0, with zombies counted as
// dead since they no longer own sockets.
func (m *Manager) alive(pid int) bool {
	if !monitor.SignalProbe(pid) {
		return false
	}
	state, err := m.procs.State(pid)
	if err != nil {
		return !errors.Is(err, proc.ErrNoSuchProcess)
	}
	return state != "Z"
}

// Backend returns the active backend.
func (m *Manager) Backend() firewall.Backend {
	return m.backend
}

// Granularity returns the precision of the active backend.
func (m *Manager) Granularity() firewall.Granularity {
	return m.backend.Granularity()
}

// Safelist returns the critical process safelist.
func (m *Manager) Safelist() *Safelist {
	return m.safelist
}

// checkProtected rejects critical processes before any backend interaction.
func (m *Manager) checkProtected(pid int) error {
	if IsProtectedPID(pid) {
		return fmt.Errorf("%w: pid %d", ErrCriticalProcess, pid)
	}
	if pid == m.selfPID {
		return fmt.Errorf("%w: pid %d is the isolation manager itself", ErrCriticalProcess, pid)
	}

	comm, err := m.procs.Comm(pid)
	if err != nil {
		return fmt.Errorf("resolve name of pid %d: %w", pid, err)
	}
	if m.safelist.Contains(comm) {
		return fmt.Errorf("%w: pid %d (%s)", ErrCriticalProcess, pid, comm)
	}

	if m.backend.Granularity() == firewall.GranularityUID {
		uid, err := m.procs.OwnerUID(pid)
		if err != nil {
			return fmt.Errorf("resolve owner of pid %d: %w", pid, err)
		}
		if uid == 0 {
			return fmt.Errorf("%w: pid %d (%s) runs as root and the %s backend would isolate every root process",
				ErrCriticalProcess, pid, comm, m.backend.Kind())
		}
	}
	return nil
}

// IsolateProcess blocks pid from the network. Isolating an already isolated
// pid only updates its reason. On error no rules and no record remain.
func (m *Manager) IsolateProcess(ctx context.Context, pid int, reason string) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	if err := m.checkProtected(pid); err != nil {
		if errors.Is(err, ErrCriticalProcess) {
			m.metrics.RecordCriticalRejection()
			m.logger.Warn("refusing to isolate protected process", "pid", pid, "reason", reason, "error", err)
		}
		m.emit(events.EventFailed, events.IsolationData{PID: pid, Reason: reason, Error: err.Error()})
		return err
	}

	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if rec, ok := m.records[pid]; ok {
			rec.Reason = reason
			m.mu.Unlock()
			m.logger.Info("process already isolated, reason updated", "pid", pid, "reason", reason)
			return nil
		}
		p, inFlight := m.pending[pid]
		if !inFlight {
			break
		}
		m.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	p := &pendingIsolation{done: make(chan struct{})}
	m.pending[pid] = p
	m.mu.Unlock()

	id := uuid.NewString()
	m.backendMu.Lock()
	rules, err := m.backend.ApplyIsolation(ctx, pid, id)
	m.backendMu.Unlock()

	m.mu.Lock()
	delete(m.pending, pid)
	close(p.done)

	if err != nil {
		m.mu.Unlock()
		m.metrics.RecordBackendError("apply")
		m.logger.Error("failed to isolate process", "pid", pid, "error", err)
		m.emit(events.EventFailed, events.IsolationData{RecordID: id, PID: pid, Reason: reason, Error: err.Error()})
		return fmt.Errorf("isolate pid %d: %w", pid, err)
	}

	rec := &IsolatedProcess{
		ID:         id,
		PID:        pid,
		Reason:     reason,
		IsolatedAt: m.clock.Now(),
		Rules:      rules,
	}
	if m.closed {
		// Close ran while rules were being applied.
		m.mu.Unlock()
		_ = m.removeRules(context.Background(), rec)
		return ErrClosed
	}
	m.records[pid] = rec
	m.stats.TotalIsolated++
	m.stats.TotalRulesApplied += uint64(len(rules))
	m.stats.ActiveIsolated++
	m.metrics.SetActive(m.stats.ActiveIsolated)
	if err := m.monitor.Monitor(pid); err != nil {
		m.logger.Warn("exit monitoring unavailable", "pid", pid, "error", err)
	}
	m.mu.Unlock()

	m.metrics.RecordIsolation(len(rules))
	m.logger.Audit("isolate", fmt.Sprintf("pid:%d", pid), map[string]any{
		"record":  id,
		"reason":  reason,
		"backend": m.backend.Kind().String(),
		"rules":   len(rules),
		"dry_run": m.backend.DryRun(),
	})
	m.emit(events.EventIsolated, events.IsolationData{RecordID: id, PID: pid, Reason: reason, Rules: len(rules)})
	return nil
}

// IsolateProcessTree isolates root and every descendant found in the
// process table at call time. Members are isolated independently: a failed
// descendant is reported in the result and does not undo the others. The
// returned error is the root's.
func (m *Manager) IsolateProcessTree(ctx context.Context, root int) (TreeResult, error) {
	res := TreeResult{Failed: make(map[int]error)}

	if m.backend.Granularity() == firewall.GranularityUID {
		m.treeWarn.Do(func() {
			m.logger.Warn("tree isolation under a uid-granular backend also isolates unrelated processes of the same users")
		})
	}

	if err := m.IsolateProcess(ctx, root, TreeRootReason); err != nil {
		res.Failed[root] = err
		return res, err
	}
	res.Isolated = append(res.Isolated, root)

	descendants, err := proc.Descendants(m.procs, root)
	if err != nil {
		m.logger.Warn("could not enumerate descendants", "pid", root, "error", err)
		return res, nil
	}

	reason := fmt.Sprintf(treeDescendantReasonF, root)
	for _, pid := range descendants {
		if err := m.IsolateProcess(ctx, pid, reason); err != nil {
			res.Failed[pid] = err
			continue
		}
		res.Isolated = append(res.Isolated, pid)
	}

	if len(res.Failed) > 0 {
		m.logger.Warn("process tree partially isolated", "root", root,
			"isolated", len(res.Isolated), "failed", len(res.Failed))
	}
	return res, nil
}

// RestoreProcess removes the isolation of pid. A pid without a record is
// not an error. Backend failures are logged, not returned.
func (m *Manager) RestoreProcess(ctx context.Context, pid int) error {
	rec, err := m.take(pid, false)
	if errors.Is(err, ErrNotIsolated) {
		m.logger.Debug("restore of non-isolated process ignored", "pid", pid)
		return nil
	}

	_ = m.removeRules(ctx, rec)

	m.metrics.RecordCleanup(metrics.TriggerRestore)
	m.logger.Audit("restore", fmt.Sprintf("pid:%d", pid), map[string]any{
		"record": rec.ID,
		"reason": rec.Reason,
	})
	m.emit(events.EventRestored, events.IsolationData{RecordID: rec.ID, PID: pid, Reason: rec.Reason, Rules: len(rec.Rules)})
	return nil
}

// onProcessExit is the monitor callback. It runs on the monitor goroutine,
// so it only updates bookkeeping and queues the rule removal.
func (m *Manager) onProcessExit(pid int) {
	rec, err := m.take(pid, true)
	if err != nil {
		return
	}
	m.logger.Info("isolated process exited, removing rules", "pid", pid, "record", rec.ID)
	m.teardown.enqueue(rec)
}

func (m *Manager) teardownExited(rec *IsolatedProcess) {
	_ = m.removeRules(context.Background(), rec)
	m.metrics.RecordCleanup(metrics.TriggerExit)
	m.emit(events.EventExited, events.IsolationData{RecordID: rec.ID, PID: rec.PID, Reason: rec.Reason, Rules: len(rec.Rules)})
}

// take removes the record of pid, stops monitoring it and updates
// statistics. Records and the monitored set change together under mu.
func (m *Manager) take(pid int, exited bool) (*IsolatedProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pid]
	if !ok {
		return nil, ErrNotIsolated
	}
	delete(m.records, pid)
	m.monitor.Unmonitor(pid)
	m.stats.ActiveIsolated--
	m.metrics.SetActive(m.stats.ActiveIsolated)
	m.stats.TotalCleanupOperations++
	if exited {
		m.stats.TotalExitCleanups++
	}
	return rec, nil
}

func (m *Manager) removeRules(ctx context.Context, rec *IsolatedProcess) error {
	m.backendMu.Lock()
	err := m.backend.RemoveIsolation(ctx, rec.PID, rec.Rules)
	m.backendMu.Unlock()
	if err != nil {
		m.metrics.RecordBackendError("remove")
		m.logger.Error("failed to remove isolation rules", "pid", rec.PID, "record", rec.ID, "error", err)
	}
	return err
}

// CleanupAll restores every isolated process and then sweeps all rules the
// backend ever created, including ones from earlier runs. Every step runs
// even when earlier ones fail; the failures are joined into the result.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.teardown.drain()

	m.mu.Lock()
	recs := make([]*IsolatedProcess, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
		m.monitor.Unmonitor(rec.PID)
	}
	clear(m.records)
	m.stats.ActiveIsolated = 0
	m.metrics.SetActive(0)
	m.stats.TotalCleanupOperations += uint64(len(recs))
	m.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].PID < recs[j].PID })

	var errs []error
	for _, rec := range recs {
		if err := m.removeRules(ctx, rec); err != nil {
			errs = append(errs, err)
		}
		m.metrics.RecordCleanup(metrics.TriggerSweep)
	}

	m.backendMu.Lock()
	err := m.backend.CleanupAllRules(ctx)
	m.backendMu.Unlock()
	if err != nil {
		m.metrics.RecordBackendError("cleanup")
		m.logger.Error("final rule sweep failed", "error", err)
		errs = append(errs, err)
	}

	m.logger.Audit("cleanup", "all", map[string]any{"restored": len(recs), "errors": len(errs)})
	m.emit(events.EventCleanup, events.IsolationData{Rules: len(recs)})
	return errors.Join(errs...)
}

// Close stops exit monitoring, waits for in-flight isolations, runs
// CleanupAll and stops the teardown worker. Later calls return nil.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		inFlight := make([]*pendingIsolation, 0, len(m.pending))
		for _, p := range m.pending {
			inFlight = append(inFlight, p)
		}
		m.mu.Unlock()

		m.monitor.Stop()
		for _, p := range inFlight {
			<-p.done
		}
		err = m.CleanupAll(context.Background())
		m.teardown.close()
		m.logger.Info("isolation manager stopped")
	})
	return err
}

// ListIsolatedProcesses returns a snapshot of current records, by pid.
func (m *Manager) ListIsolatedProcesses() []IsolatedProcess {
	m.mu.Lock()
	out := make([]IsolatedProcess, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// IsProcessIsolated reports whether pid has a record.
func (m *Manager) IsProcessIsolated(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pid]
	return ok
}

// Statistics returns a copy of the counters.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) emit(t events.EventType, data events.IsolationData) {
	data.Backend = m.backend.Kind().String()
	data.DryRun = m.backend.DryRun()
	m.hub.EmitIsolation(t, data)
}
