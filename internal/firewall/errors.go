package firewall

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendUnavailable is returned when the firewall tool for a backend
	// cannot be found.
	ErrBackendUnavailable = errors.New("firewall backend unavailable")

	// ErrCommandFailed matches every error produced by a failed external
	// firewall command.
	ErrCommandFailed = errors.New("firewall command failed")

	// ErrCommandTimeout matches commands killed by their deadline.
	ErrCommandTimeout = errors.New("firewall command timed out")

	// ErrUnknownBackend is returned by ParseKind and New for unrecognised kinds.
	ErrUnknownBackend = errors.New("unknown firewall backend")
)

// CommandError describes a failed external command.
type CommandError struct {
	Command string // rendered command line
	Output  string // combined stderr/stdout, trimmed
	Timeout bool
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.Timeout {
		msg = fmt.Sprintf("%s: timed out: %v", e.Command, e.Err)
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches this error kind.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrCommandFailed:
		return true
	case ErrCommandTimeout:
		return e.Timeout
	}
	return false
}

// outputContains reports whether a command failure mentions any of the given
// fragments. Tools report benign conditions ("already exists", "No chain")
// only through their exit text.
func outputContains(err error, fragments ...string) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	var cerr *CommandError
	if errors.As(err, &cerr) {
		text = cerr.Output + "\n" + text
	}
	for _, f := range fragments {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}
