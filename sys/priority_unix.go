//go:build linux || darwin

package sys

import (
	"golang.org/x/sys/unix"
)

// SetBackgroundPriority lowers the calling process to a background-friendly
// nice level so a long batch run yields to interactive work. Best effort:
// callers treat a failure as advisory.
func SetBackgroundPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, 10)
}
