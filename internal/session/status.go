package session

import (
	"os"

	"github.com/tabctl/tabctl/internal/browserproc"
)

// Metadata is the contents of session.json: a snapshot of the running
// worker's identity. The worker writes it at the end of startup, the
// daemon overwrites it once the worker reports ready, and the worker's
// cleanup removes it.
type Metadata struct {
	WorkerPID int    `json:"workerPid"`
	ChromePID int    `json:"chromePid,omitempty"`
	URL       string `json:"url"`
	Port      int    `json:"port"`
	StartedAt string `json:"startedAt"`
}

// IsRunning reports whether the daemon PID file names a live process.
func IsRunning(p Paths) bool {
	pid, err := ReadPID(p.DaemonPID)
	if err != nil {
		return false
	}
	return browserproc.IsAlive(pid)
}

// WorkerRunning reports whether the worker PID file names a live process.
func WorkerRunning(p Paths) bool {
	pid, err := ReadPID(p.WorkerPID)
	if err != nil {
		return false
	}
	return browserproc.IsAlive(pid)
}

// CleanStale removes session files left behind by a daemon or worker that
// died without cleaning up after itself (PID files, the Unix socket and
// session.json), called before a fresh daemon start once no live daemon
// owns them. It never touches SessionOutput or
// QueryCache: those are the last worker run's results, and a caller may
// still want to read them after the session has ended.
func CleanStale(p Paths) {
	os.Remove(p.DaemonPID)
	os.Remove(p.DaemonSocket)
	os.Remove(p.WorkerPID)
	os.Remove(p.ChromePID)
	os.Remove(p.SessionJSON)
}
