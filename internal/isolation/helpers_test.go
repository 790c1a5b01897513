package isolation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"grimm.is/isolator/internal/firewall"
	"grimm.is/isolator/internal/metrics"
	"grimm.is/isolator/internal/proc"
)

// spyBackend is a firewall.Backend that records calls.
type spyBackend struct {
	granularity firewall.Granularity
	applyDelay  time.Duration

	mu           sync.Mutex
	applyErr     error
	removeErr    error
	cleanupErr   error
	applyCalls   int
	cleanupCalls int
	tags         []string
	removed      map[int][][]string
}

func newSpyBackend() *spyBackend {
	return &spyBackend{removed: make(map[int][][]string)}
}

func (s *spyBackend) Kind() firewall.Kind               { return firewall.KindIPTables }
func (s *spyBackend) Granularity() firewall.Granularity { return s.granularity }
func (s *spyBackend) DryRun() bool                      { return true }

func (s *spyBackend) ApplyIsolation(_ context.Context, pid int, tag string) ([]string, error) {
	if s.applyDelay > 0 {
		time.Sleep(s.applyDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	s.tags = append(s.tags, tag)
	return []string{
		fmt.Sprintf("allow loopback pid=%d tag=%s", pid, tag),
		fmt.Sprintf("log pid=%d tag=%s", pid, tag),
		fmt.Sprintf("drop pid=%d tag=%s", pid, tag),
	}, nil
}

func (s *spyBackend) RemoveIsolation(_ context.Context, pid int, rules []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[pid] = append(s.removed[pid], rules)
	return s.removeErr
}

func (s *spyBackend) CleanupAllRules(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupCalls++
	return s.cleanupErr
}

func (s *spyBackend) applies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCalls
}

func (s *spyBackend) cleanups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupCalls
}

func (s *spyBackend) removals(pid int) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.removed[pid]...)
}

func (s *spyBackend) setApplyErr(err error) {
	s.mu.Lock()
	s.applyErr = err
	s.mu.Unlock()
}

// fakeProc is one process of a fakeTable.
type fakeProc struct {
	comm     string
	uid      uint32
	children []int
}

// fakeTable is an in-memory proc.Table that also acts as the liveness probe.
type fakeTable struct {
	mu    sync.Mutex
	procs map[int]fakeProc
}

func newFakeTable(procs map[int]fakeProc) *fakeTable {
	return &fakeTable{procs: procs}
}

func (f *fakeTable) get(pid int) (fakeProc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return fakeProc{}, fmt.Errorf("pid %d: %w", pid, proc.ErrNoSuchProcess)
	}
	return p, nil
}

func (f *fakeTable) Comm(pid int) (string, error) {
	p, err := f.get(pid)
	return p.comm, err
}

func (f *fakeTable) OwnerUID(pid int) (uint32, error) {
	p, err := f.get(pid)
	return p.uid, err
}

func (f *fakeTable) Children(pid int) ([]int, error) {
	p, err := f.get(pid)
	return p.children, err
}

func (f *fakeTable) State(pid int) (string, error) {
	_, err := f.get(pid)
	return "S", err
}

func (f *fakeTable) kill(pid int) {
	f.mu.Lock()
	delete(f.procs, pid)
	f.mu.Unlock()
}

func (f *fakeTable) alive(pid int) bool {
	_, err := f.get(pid)
	return err == nil
}

func testMetrics() *metrics.Registry {
	reg := prometheus.NewRegistry()
	return metrics.NewRegistry(reg, reg)
}

// newTestManager builds a manager over a spy backend and fake table with a
// fast poll interval.
func newTestManager(t *testing.T, b firewall.Backend, table *fakeTable, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithBackend(b),
		WithProcessTable(table),
		WithProbe(table.alive),
		WithMetrics(testMetrics()),
	}
	m, err := NewManager(Config{PollInterval: 10 * time.Millisecond}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// userProcs returns a table of unprotected processes owned by uid 1000.
func userProcs(pids ...int) *fakeTable {
	procs := make(map[int]fakeProc)
	for _, pid := range pids {
		procs[pid] = fakeProc{comm: fmt.Sprintf("worker-%d", pid), uid: 1000}
	}
	return newFakeTable(procs)
}

// activeGauge reads isolator_active_isolations from reg.
func activeGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "isolator_active_isolations" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("isolator_active_isolations not registered")
	return 0
}
