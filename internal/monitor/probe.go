package monitor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// SignalProbe sends signal 0 to pid. Only ESRCH means the process is gone;
// EPERM means it exists under another user.
func SignalProbe(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || !errors.Is(err, unix.ESRCH)
}
