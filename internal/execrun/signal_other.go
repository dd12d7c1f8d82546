//go:build windows

package execrun

import "os/exec"

// signalFrom has no Windows equivalent; exit status there is a plain code.
func signalFrom(ee *exec.ExitError) (int, bool) {
	return 0, false
}
