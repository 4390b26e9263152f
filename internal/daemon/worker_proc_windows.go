//go:build windows

package daemon

import (
	"os"
	"os/exec"
)

// setWorkerProcGroup is a no-op on Windows.
func setWorkerProcGroup(cmd *exec.Cmd) {}

// terminateWorkerProcess has no graceful-signal equivalent on Windows
// reachable from os.Process, so it goes straight to Kill; stop()'s
// escalation path is then a no-op retry of the same thing.
func terminateWorkerProcess(p *os.Process) {
	p.Kill()
}
