// Package daemon implements the daemon process (spec.md §4.6): it accepts
// client connections over a Unix socket (named pipe on Windows), routes
// commands to the worker subprocess it supervises, and forwards a handful
// of requests to local handlers (handshake, status, peek, start/stop
// session). Grounded on the teacher's daemon.go accept loop and
// sync.Once-guarded Shutdown, adapted from a one-shot JSON-RPC-per-
// connection protocol to the spec's persistent framed-codec connections
// and worker-forwarding model.
package daemon

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tabctl/tabctl/internal/pending"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctllog"
)

// Options configures a new Daemon.
type Options struct {
	Paths        session.Paths
	WorkerExecPath string // argv[0] for self-re-exec; defaults to os.Args[0]
	ReadyTimeout time.Duration
}

// Daemon accepts client connections and supervises at most one worker
// subprocess at a time.
type Daemon struct {
	paths        session.Paths
	workerExec   string
	readyTimeout time.Duration

	listener  net.Listener
	startTime time.Time

	pending *pending.Registry

	mu     sync.Mutex // guards the fields below
	worker *workerSession

	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a Daemon. Call Run to start accepting connections.
func New(opts Options) *Daemon {
	execPath := opts.WorkerExecPath
	if execPath == "" {
		execPath = os.Args[0]
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 15 * time.Second
	}
	return &Daemon{
		paths:        opts.Paths,
		workerExec:   execPath,
		readyTimeout: readyTimeout,
		pending:      pending.New(time.Now().UnixNano()),
		done:         make(chan struct{}),
	}
}

// Run binds the socket, writes the daemon PID file, and accepts
// connections until Shutdown is called or the listener errors.
func (d *Daemon) Run() error {
	if err := d.paths.EnsureDir(); err != nil {
		return fmt.Errorf("daemon: create session dir: %w", err)
	}

	lock, ok, err := session.AcquireLock(d.paths.DaemonLock)
	if err != nil {
		return fmt.Errorf("daemon: acquire startup lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("daemon: another daemon is already starting")
	}

	os.Remove(d.paths.DaemonSocket)

	listener, err := listen(d.paths.DaemonSocket)
	if err != nil {
		lock.Release()
		return fmt.Errorf("daemon: bind socket: %w", err)
	}
	d.listener = listener
	d.startTime = time.Now()

	if err := session.WritePID(d.paths.DaemonPID, os.Getpid()); err != nil {
		listener.Close()
		lock.Release()
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	// The startup lock only needs to span "is another daemon mid-boot";
	// once daemon.pid is durable on disk, that question is answered for
	// any later starter, so release it here rather than holding it for
	// the daemon's entire run (spec.md §4.7).
	lock.Release()

	tabctllog.Info("daemon started", "socket", d.paths.DaemonSocket, "pid", os.Getpid())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-d.done:
				return nil
			default:
				tabctllog.Debug("daemon: accept error", "error", err)
				continue
			}
		}
		go d.handleConnection(conn)
	}
}

// Shutdown stops accepting connections, disposes the worker, and removes
// the socket and PID files (spec.md §4.8's daemon shutdown sequence).
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		tabctllog.Info("daemon shutting down")
		close(d.done)

		d.mu.Lock()
		w := d.worker
		d.worker = nil
		d.mu.Unlock()
		if w != nil {
			w.stop()
		}

		if d.listener != nil {
			d.listener.Close()
		}

		removeIgnoreNotExist(d.paths.DaemonSocket)
		removeIgnoreNotExist(d.paths.DaemonPID)
	})
}

// Dial connects to a running daemon's socket (named pipe on Windows) for
// client use, wrapping the platform-specific dial implementation so
// cmd/tabctl doesn't need its own Unix/Windows split.
func Dial(socketPath string, timeout time.Duration) (net.Conn, error) {
	return dial(socketPath, timeout)
}

func removeIgnoreNotExist(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		tabctllog.Warn("daemon: failed to remove file", "path", path, "error", err)
	}
}
