// Package proc reads the operating-system process table.
//
// It answers the three questions isolation needs: what a pid is called (for
// the critical-process safelist), which uid owns it (for uid-granular
// firewall rules) and which pids descend from it (for tree isolation).
// Everything is read-only.
package proc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// ErrNoSuchProcess is returned when a pid is not present in the table.
var ErrNoSuchProcess = errors.New("no such process")

// Table is the read-only view of the process table used by isolation.
type Table interface {
	// Comm returns the short command name (/proc/<pid>/comm).
	Comm(pid int) (string, error)
	// OwnerUID returns the effective uid owning the process.
	OwnerUID(pid int) (uint32, error)
	// Children returns the direct children of pid.
	Children(pid int) ([]int, error)
	// State returns the single-letter scheduler state ("R", "S", "Z", ...).
	State(pid int) (string, error)
}

// FSTable implements Table on top of a procfs mount.
type FSTable struct {
	fs    procfs.FS
	mount string
}

// NewFSTable opens the procfs mounted at mount (procfs.DefaultMountPoint when empty).
func NewFSTable(mount string) (*FSTable, error) {
	if mount == "" {
		mount = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(mount)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mount, err)
	}
	return &FSTable{fs: pfs, mount: mount}, nil
}

func (t *FSTable) proc(pid int) (procfs.Proc, error) {
	if pid <= 0 {
		return procfs.Proc{}, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	p, err := t.fs.Proc(pid)
	if err != nil {
		return procfs.Proc{}, notExist(pid, err)
	}
	return p, nil
}

func notExist(pid int, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}

// Comm returns the process command name.
func (t *FSTable) Comm(pid int) (string, error) {
	p, err := t.proc(pid)
	if err != nil {
		return "", err
	}
	comm, err := p.Comm()
	if err != nil {
		return "", notExist(pid, err)
	}
	return comm, nil
}

// OwnerUID returns the effective uid from /proc/<pid>/status. Sockets are
// charged to the credentials in force when they are created, which is the
// effective uid for ordinary processes.
func (t *FSTable) OwnerUID(pid int) (uint32, error) {
	p, err := t.proc(pid)
	if err != nil {
		return 0, err
	}
	st, err := p.NewStatus()
	if err != nil {
		return 0, notExist(pid, err)
	}
	return uint32(st.UIDs[1]), nil
}

// State returns the scheduler state letter from /proc/<pid>/stat.
func (t *FSTable) State(pid int) (string, error) {
	p, err := t.proc(pid)
	if err != nil {
		return "", err
	}
	st, err := p.Stat()
	if err != nil {
		return "", notExist(pid, err)
	}
	return st.State, nil
}

// Children returns the direct children of pid. The kernel's
// task/<pid>/children list is used when available; kernels built without
// CONFIG_PROC_CHILDREN fall back to scanning every process's parent pid.
func (t *FSTable) Children(pid int) ([]int, error) {
	if _, err := t.proc(pid); err != nil {
		return nil, err
	}

	// procfs has no accessor for the children file.
	path := filepath.Join(t.mount, strconv.Itoa(pid), "task", strconv.Itoa(pid), "children")
	data, err := os.ReadFile(path)
	if err == nil {
		return parsePIDList(string(data)), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t.scanChildren(pid)
}

func (t *FSTable) scanChildren(pid int) ([]int, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var children []int
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			// raced with exit
			continue
		}
		if st.PPID == pid {
			children = append(children, p.PID)
		}
	}
	sort.Ints(children)
	return children, nil
}

func parsePIDList(s string) []int {
	var pids []int
	for _, field := range strings.Fields(s) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// Descendants returns every descendant of root (excluding root itself) in
// breadth-first order. A child that disappears mid-walk is skipped; a cycle in
// a corrupt table cannot loop forever.
func Descendants(t Table, root int) ([]int, error) {
	seen := map[int]bool{root: true}
	queue := []int{root}
	var out []int

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		children, err := t.Children(pid)
		if err != nil {
			if pid == root {
				return nil, err
			}
			continue
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}
