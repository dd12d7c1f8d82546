//go:build !linux

package sandbox

import "syscall"

// pdeathsigAttr is a no-op outside Linux; Pdeathsig has no equivalent on
// macOS or other platforms this runtime targets.
func pdeathsigAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
