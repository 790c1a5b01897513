package isolation

import "errors"

var (
	// ErrNoSupportedBackend is returned by NewManager when automatic
	// selection finds neither nft nor iptables.
	ErrNoSupportedBackend = errors.New("no supported firewall backend")

	// ErrCriticalProcess is returned for processes that must never be
	// isolated. It is never retried and cannot be overridden.
	ErrCriticalProcess = errors.New("critical process is protected")

	// ErrInvalidPID is returned for non-positive pids.
	ErrInvalidPID = errors.New("invalid pid")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("isolation manager closed")

	// ErrNotIsolated marks a pid without a record. Restore treats it as
	// success; it never reaches callers.
	ErrNotIsolated = errors.New("process not isolated")
)
