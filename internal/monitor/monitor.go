// Package monitor watches processes and reports when they exit.
//
// A ProcessMonitor polls every monitored pid on a fixed interval with a
// liveness probe that needs no cooperation from the target. When a pid is
// found dead, the exit callback runs on the monitor goroutine and the pid is
// dropped from the set. Callbacks must return quickly: every other pid waits
// until they do.
package monitor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/isolator/internal/logging"
)

// DefaultInterval is the polling interval when none is configured.
const DefaultInterval = time.Second

// ErrStopped is returned by Monitor after Stop.
var ErrStopped = errors.New("process monitor stopped")

// ExitCallback is invoked once for each monitored pid found dead.
type ExitCallback func(pid int)

// Probe reports whether pid is alive.
type Probe func(pid int) bool

// Option configures a ProcessMonitor.
type Option func(*ProcessMonitor)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *ProcessMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *ProcessMonitor) {
		if l != nil {
			m.logger = l.WithComponent("monitor")
		}
	}
}

// WithProbe replaces the signal-0 liveness probe.
func WithProbe(p Probe) Option {
	return func(m *ProcessMonitor) {
		if p != nil {
			m.probe = p
		}
	}
}

// ProcessMonitor polls a set of pids for liveness on one goroutine.
type ProcessMonitor struct {
	onExit   ExitCallback
	probe    Probe
	interval time.Duration
	logger   *logging.Logger

	mu   sync.Mutex
	pids map[int]uint64 // pid -> generation of its latest Monitor call
	gen  uint64

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProcessMonitor creates a monitor and starts its polling goroutine.
// Stop must be called to release it.
func NewProcessMonitor(onExit ExitCallback, opts ...Option) *ProcessMonitor {
	m := &ProcessMonitor{
		onExit:   onExit,
		probe:    SignalProbe,
		interval: DefaultInterval,
		logger:   logging.WithComponent("monitor"),
		pids:     make(map[int]uint64),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.run()
	return m
}

// Monitor adds pid to the monitored set. Adding a pid twice keeps a single
// entry. A pid re-added from its own exit callback stays monitored.
func (m *ProcessMonitor) Monitor(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("monitor: invalid pid %d", pid)
	}
	if m.stopped.Load() {
		return ErrStopped
	}
	m.mu.Lock()
	m.gen++
	m.pids[pid] = m.gen
	m.mu.Unlock()
	m.logger.Debug("monitoring process", "pid", pid)
	return nil
}

// Unmonitor removes pid from the monitored set. No callback fires for it.
func (m *ProcessMonitor) Unmonitor(pid int) {
	m.mu.Lock()
	delete(m.pids, pid)
	m.mu.Unlock()
}

// IsMonitored reports whether pid is in the monitored set.
func (m *ProcessMonitor) IsMonitored(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pids[pid]
	return ok
}

// Monitored returns the monitored pids in ascending order.
func (m *ProcessMonitor) Monitored() []int {
	m.mu.Lock()
	pids := make([]int, 0, len(m.pids))
	for pid := range m.pids {
		pids = append(pids, pid)
	}
	m.mu.Unlock()
	sort.Ints(pids)
	return pids
}

// Len returns the number of monitored pids.
func (m *ProcessMonitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pids)
}

// Stop ends polling, waits for the goroutine to exit and clears the set.
// It is safe to call more than once and from several goroutines, but not
// from the exit callback.
func (m *ProcessMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	clear(m.pids)
	m.mu.Unlock()
}

func (m *ProcessMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll probes a snapshot of the set so Monitor and Unmonitor never wait on
// probes or callbacks.
func (m *ProcessMonitor) poll() {
	for _, pid := range m.Monitored() {
		if m.stopped.Load() {
			return
		}
		if m.probe(pid) {
			continue
		}
		// Unmonitored since the snapshot.
		gen, ok := m.generation(pid)
		if !ok {
			continue
		}

		m.logger.Info("monitored process exited", "pid", pid)
		m.fire(pid)
		m.unmonitorGeneration(pid, gen)
	}
}

func (m *ProcessMonitor) generation(pid int) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.pids[pid]
	return gen, ok
}

// unmonitorGeneration removes pid only if no Monitor call replaced the entry
// observed as gen.
func (m *ProcessMonitor) unmonitorGeneration(pid int, gen uint64) {
	m.mu.Lock()
	if cur, ok := m.pids[pid]; ok && cur == gen {
		delete(m.pids, pid)
	}
	m.mu.Unlock()
}

func (m *ProcessMonitor) fire(pid int) {
	if m.onExit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("exit callback panicked", "pid", pid, "panic", r)
		}
	}()
	m.onExit(pid)
}
