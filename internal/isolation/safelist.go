package isolation

import (
	"sort"
	"strings"
)

// commLen is the longest name the kernel reports in /proc/<pid>/comm.
const commLen = 15

// builtinProtected lists processes whose loss of network would take the host
// down or lock operators out.
var builtinProtected = []string{
	"systemd",
	"init",
	"sshd",
	"systemd-resolved",
	"systemd-networkd",
	"NetworkManager",
	"dbus-daemon",
	"dbus-broker",
	"systemd-journald",
	"systemd-logind",
}

// Safelist is the set of process names that are never isolated. Built-in
// names are always present; callers can only add to them.
type Safelist struct {
	names map[string]struct{}
}

// NewSafelist returns the built-in safelist extended with extra names.
func NewSafelist(extra ...string) *Safelist {
	s := &Safelist{names: make(map[string]struct{})}
	for _, n := range builtinProtected {
		s.add(n)
	}
	for _, n := range extra {
		s.add(n)
	}
	return s
}

func (s *Safelist) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.names[name] = struct{}{}
}

// Contains reports whether a process name is protected. Names longer than
// the kernel's comm limit also match in truncated form, so "systemd-resolve"
// read from /proc matches "systemd-resolved".
func (s *Safelist) Contains(comm string) bool {
	if _, ok := s.names[comm]; ok {
		return true
	}
	if len(comm) != commLen {
		return false
	}
	for name := range s.names {
		if len(name) > commLen && name[:commLen] == comm {
			return true
		}
	}
	return false
}

// Names returns the protected names, sorted.
func (s *Safelist) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsProtectedPID reports whether pid is protected regardless of its name.
func IsProtectedPID(pid int) bool {
	return pid == 1
}
