//go:build windows

package sys

import (
	"golang.org/x/sys/windows"
)

// SetBackgroundPriority drops the current process to the below-normal
// priority class so a long batch run yields to interactive work. Best
// effort: callers treat a failure as advisory.
func SetBackgroundPriority() error {
	return windows.SetPriorityClass(windows.CurrentProcess(), windows.BELOW_NORMAL_PRIORITY_CLASS)
}
