// Package lifecycle implements the worker's teardown sequence (spec.md
// §4.8): a single Cleanup(reason) entry point, guarded against re-entrancy,
// that persists the browser pid, captures a best-effort final DOM
// snapshot, runs collector cleanups, closes the browser connection,
// escalates the browser kill from SIGTERM to SIGKILL-of-group, and writes
// the session output file.
package lifecycle

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/tabctl/tabctl/internal/browserproc"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctllog"
	"github.com/tabctl/tabctl/internal/telemetry"
)

// Reason is why cleanup is running; it changes which steps run (a final
// DOM snapshot is only attempted on Normal) and whether the session output
// is marked partial.
type Reason string

const (
	Normal  Reason = "normal"
	Crash   Reason = "crash"
	Timeout Reason = "timeout"
)

const (
	killPollInterval = 500 * time.Millisecond
	killPollTimeout  = 5 * time.Second
)

// Collector is a telemetry collector that may need to unsubscribe or
// otherwise release resources at shutdown.
type Collector interface {
	Cleanup() error
}

// Manager owns the re-entrancy guard and the collaborators Cleanup needs.
type Manager struct {
	Store      *telemetry.Store
	Paths      session.Paths
	Collectors []Collector

	// Browser is the managed browser handle, or nil if an external browser
	// is in use and this worker does not own its lifetime.
	Browser *browserproc.Handle

	// CaptureDOMSnapshot, if set, is called on normal shutdown to capture a
	// final DOM snapshot into the store before collectors clean up.
	CaptureDOMSnapshot func() error

	// CloseConnection closes the CDP connection, if one is open.
	CloseConnection func() error

	cleaned atomic.Bool
}

// Cleanup runs the teardown sequence exactly once; subsequent calls (e.g.
// a signal arriving while crash cleanup is already running) are no-ops.
// sync.Once isn't used because it can't carry the reason argument across
// racing callers — the first caller's reason wins, which atomic.Bool's
// CompareAndSwap gives us directly.
func (m *Manager) Cleanup(reason Reason) {
	if !m.cleaned.CompareAndSwap(false, true) {
		return
	}

	if m.Browser != nil {
		if err := session.WritePID(m.Paths.ChromePID, m.Browser.PID()); err != nil {
			tabctllog.Warn("failed to persist chrome.pid", "error", err)
		}
	}

	domActive := false
	for _, kind := range m.Store.ActiveTelemetry() {
		if kind == "dom" {
			domActive = true
			break
		}
	}
	if reason == Normal && domActive && m.CaptureDOMSnapshot != nil {
		if err := m.CaptureDOMSnapshot(); err != nil {
			tabctllog.Warn("final DOM snapshot failed", "error", err)
		}
	}

	for _, c := range m.Collectors {
		func() {
			defer func() {
				if r := recover(); r != nil {
					tabctllog.Warn("collector cleanup panicked", "recover", r)
				}
			}()
			if err := c.Cleanup(); err != nil {
				tabctllog.Warn("collector cleanup failed", "error", err)
			}
		}()
	}

	if m.CloseConnection != nil {
		if err := m.CloseConnection(); err != nil {
			tabctllog.Warn("failed to close browser connection", "error", err)
		}
	}

	if m.Browser != nil {
		terminateBrowser(m.Browser)
	}

	out := m.Store.BuildOutput(reason != Normal)
	if err := session.WriteAtomic(m.Paths.SessionOutput, out); err != nil {
		tabctllog.Warn("failed to write session output", "error", err)
	}

	// session.pid and session.json must not outlive the worker they
	// describe (spec.md §3): the on-disk metadata exists iff the pid it
	// names is live, and this is the one teardown path every exit reason
	// — normal, crash, or timeout — funnels through.
	if err := session.RemovePID(m.Paths.WorkerPID); err != nil {
		tabctllog.Warn("failed to remove session.pid", "error", err)
	}
	if err := os.Remove(m.Paths.SessionJSON); err != nil && !os.IsNotExist(err) {
		tabctllog.Warn("failed to remove session.json", "error", err)
	}
}

// terminateBrowser sends the polite kill (SIGTERM equivalent), polls for
// exit, and escalates to a process-group SIGKILL if the browser outlives
// the poll window.
func terminateBrowser(h *browserproc.Handle) {
	pid := h.PID()
	h.Kill()

	deadline := time.Now().Add(killPollTimeout)
	for time.Now().Before(deadline) {
		if !browserproc.IsAlive(pid) {
			return
		}
		time.Sleep(killPollInterval)
	}

	if browserproc.IsAlive(pid) {
		browserproc.KillGroup(pid)
		browserproc.WaitForDead([]int{pid}, killPollTimeout)
		if browserproc.IsAlive(pid) {
			tabctllog.Warn("browser process survived SIGKILL", "pid", pid)
		}
	}
}
