// Package session centralizes the on-disk session layout (SPEC_FULL §6.9):
// the daemon socket, PID files, session metadata, the daemon startup lock,
// and the worker's output/query caches, all under one per-user directory.
package session

import (
	"os"
	"path/filepath"
)

// Paths is the set of file locations under one per-user session directory.
type Paths struct {
	Dir            string
	DaemonSocket   string
	DaemonPID      string
	DaemonLock     string
	WorkerPID      string
	SessionJSON    string
	ChromePID      string
	SessionOutput  string
	QueryCache     string
}

// Default returns the conventional path set, rooted at
// $XDG_STATE_HOME/tabctl, falling back to ~/.local/state/tabctl, falling
// back to $TMPDIR/tabctl if even the home directory can't be resolved.
func Default() Paths {
	return New(baseDir())
}

// New builds a Paths rooted at dir, centralizing every file name in one
// place per spec §4.7 ("implementations must centralize it").
func New(dir string) Paths {
	return Paths{
		Dir:           dir,
		DaemonSocket:  filepath.Join(dir, "daemon.sock"),
		DaemonPID:     filepath.Join(dir, "daemon.pid"),
		DaemonLock:    filepath.Join(dir, "daemon.lock"),
		WorkerPID:     filepath.Join(dir, "session.pid"),
		SessionJSON:   filepath.Join(dir, "session.json"),
		ChromePID:     filepath.Join(dir, "chrome.pid"),
		SessionOutput: filepath.Join(dir, "session-output.json"),
		QueryCache:    filepath.Join(dir, "query-cache.json"),
	}
}

func baseDir() string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, "tabctl")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "tabctl")
	}
	return filepath.Join(os.TempDir(), "tabctl")
}

// EnsureDir creates the session directory if it doesn't already exist.
func (p Paths) EnsureDir() error {
	return os.MkdirAll(p.Dir, 0755)
}
