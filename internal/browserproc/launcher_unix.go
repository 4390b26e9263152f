//go:build !windows

package browserproc

import (
	"os/exec"
	"syscall"
	"time"
)

// platformExtraArgs returns POSIX-specific Chrome launch arguments.
func platformExtraArgs() []string {
	return nil
}

// setProcGroup puts the browser in its own process group so a SIGKILL can
// be directed at the whole tree with kill(-pgid, ...).
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killByPid sends SIGTERM, the polite first step; verified escalation to
// SIGKILL-of-group lives in the lifecycle package.
func killByPid(pid int) {
	syscall.Kill(pid, syscall.SIGTERM)
}

// KillGroup sends SIGKILL to the process group rooted at pid, falling back
// to killing just pid if the group signal fails (e.g. the process was never
// placed in its own group).
func KillGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

// isProcessAlive checks whether a process with the given PID exists.
func isProcessAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// waitForProcessesDead polls until all PIDs have exited or timeout elapses.
func waitForProcessesDead(pids []int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allDead := true
		for _, pid := range pids {
			if isProcessAlive(pid) {
				allDead = false
				break
			}
		}
		if allDead {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
