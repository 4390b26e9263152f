//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// setWorkerProcGroup puts the worker in its own process group so its own
// browser-launch children can be reached as a unit if ever needed.
func setWorkerProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateWorkerProcess sends SIGTERM, the polite first step; stop()
// escalates to Kill if the worker doesn't exit in time.
func terminateWorkerProcess(p *os.Process) {
	p.Signal(syscall.SIGTERM)
}
