//go:build linux

package sandbox

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// pdeathsigAttr binds the sandbox helper's lifetime to this process: if the
// core agent dies unexpectedly, the kernel delivers SIGKILL to the helper
// instead of leaving it orphaned.
func pdeathsigAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}
}
