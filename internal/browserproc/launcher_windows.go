//go:build windows

package browserproc

import (
	"bytes"
	"fmt"
	"os/exec"
	"time"
)

// platformExtraArgs returns Windows-specific Chrome launch arguments.
// Chrome for Testing's sandbox cannot access its own executable in AppData
// under Windows filesystem permission restrictions.
func platformExtraArgs() []string {
	return []string{"--no-sandbox"}
}

// setProcGroup is a no-op on Windows; process trees are killed via taskkill.
func setProcGroup(cmd *exec.Cmd) {}

// killByPid kills a process tree by PID on Windows.
func killByPid(pid int) {
	exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", pid)).Run()
}

// KillGroup on Windows is the same as killByPid: taskkill /T /F already
// tears down the whole process tree, there is no separate group concept.
func KillGroup(pid int) {
	killByPid(pid)
}

// isProcessAlive checks whether a process with the given PID is still
// running by shelling out to tasklist.
func isProcessAlive(pid int) bool {
	out, err := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
	if err != nil {
		return false
	}
	return len(out) > 0 && bytes.Contains(out, []byte(fmt.Sprintf("%d", pid)))
}

// waitForProcessesDead polls until all PIDs have exited or timeout elapses.
func waitForProcessesDead(pids []int, timeout time.Duration) {
	time.Sleep(50 * time.Millisecond)

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
		time.Sleep(100 * time.Millisecond)
	}
}
