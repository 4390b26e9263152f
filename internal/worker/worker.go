// Package worker implements the worker process: it owns the browser
// connection, activates telemetry before navigating, runs the stdin
// command loop, and tears itself down via internal/lifecycle on signal,
// timeout, or crash (spec.md §4.5).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tabctl/tabctl/internal/browserproc"
	"github.com/tabctl/tabctl/internal/cdptransport"
	"github.com/tabctl/tabctl/internal/commands"
	"github.com/tabctl/tabctl/internal/config"
	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/lifecycle"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctllog"
	"github.com/tabctl/tabctl/internal/telemetry"
)

// readyTimeout bounds how long step 4 waits for the launched browser to
// expose a debugging target before the worker gives up.
const readyTimeout = 30 * time.Second

// pageReadyTimeout bounds step 8 (waiting for page readiness).
const pageReadyTimeout = 20 * time.Second

// Worker bundles the CDP connection, browser handle, telemetry store,
// command context, and session paths for one run.
type Worker struct {
	opts  config.Options
	paths session.Paths

	store   *telemetry.Store
	conn    *cdptransport.Connection
	browser *browserproc.Handle
	cache   *commands.QueryCache
	cmdCtx  *commands.Context

	lifecycle *lifecycle.Manager

	stdin  io.Reader
	stdout io.Writer

	autoStop time.Duration
}

// New constructs a Worker from parsed launch options and session paths.
// stdin/stdout default to os.Stdin/os.Stdout when nil, overridable for
// tests.
func New(opts config.Options, paths session.Paths, stdin io.Reader, stdout io.Writer) *Worker {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	w := &Worker{opts: opts, paths: paths, stdin: stdin, stdout: stdout}
	if opts.TimeoutSec > 0 {
		w.autoStop = time.Duration(opts.TimeoutSec) * time.Second
	}
	return w
}

// Run executes the startup sequence (spec.md §4.5 steps 1-13) and then the
// command loop. It returns only on clean shutdown; fatal startup errors
// are reported to the caller, which is responsible for crash cleanup and
// a non-zero exit.
func (w *Worker) Run(ctx context.Context) error {
	if err := session.WritePID(w.paths.WorkerPID, os.Getpid()); err != nil {
		return fmt.Errorf("worker: write pid file: %w", err)
	}

	w.store = telemetry.New(w.opts.Telemetry)
	w.store.ResetSessionStart()

	target, err := w.acquireTarget(ctx)
	if err != nil {
		return fmt.Errorf("worker: acquire target: %w", err)
	}

	conn, err := cdptransport.Connect(target.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("worker: connect to target: %w", err)
	}
	w.conn = conn

	w.cache = commands.NewQueryCache(w.paths.QueryCache)
	w.cmdCtx = &commands.Context{Conn: w.conn, Store: w.store, Cache: w.cache}

	w.lifecycle = &lifecycle.Manager{
		Store:   w.store,
		Paths:   w.paths,
		Browser: w.browser,
		CloseConnection: func() error {
			return w.conn.Close()
		},
		CaptureDOMSnapshot: func() error {
			return w.captureFinalDOMSnapshot(context.Background())
		},
	}

	disconnected := make(chan struct{}, 1)
	conn.OnDisconnect(func() {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	w.store.SetTargetInfo(telemetry.TargetInfo{
		ID: target.ID, Type: target.Type, URL: target.URL, Title: target.Title,
		WSURL: target.WebSocketDebuggerURL,
	})

	// Step 6: activate telemetry collectors BEFORE navigating — enabling
	// the network/console domains after navigation would miss initial
	// page-load events.
	if err := w.activateTelemetry(ctx); err != nil {
		return fmt.Errorf("worker: activate telemetry: %w", err)
	}

	if w.opts.URL != "" {
		if _, err := conn.SendToSession(ctx, "", "Page.navigate", map[string]any{"url": w.opts.URL}); err != nil {
			return fmt.Errorf("worker: navigate: %w", err)
		}
		if err := w.waitForPageReady(ctx); err != nil {
			tabctllog.Warn("page readiness wait did not complete cleanly", "error", err)
		}
		w.refreshTargetInfo(ctx)
	}

	if err := session.WriteAtomic(w.paths.SessionJSON, session.Metadata{
		WorkerPID: os.Getpid(),
		ChromePID: w.browserPID(),
		URL:       w.store.TargetInfo().URL,
		Port:      w.opts.Port,
		StartedAt: w.store.SessionStart().UTC().Format(time.RFC3339),
	}); err != nil {
		tabctllog.Warn("failed to write session metadata", "error", err)
	}

	enc := ipc.NewEncoder(w.stdout)
	if err := enc.Encode(map[string]any{
		"type":      "worker_ready",
		"requestId": "ready",
		"workerPid": os.Getpid(),
		"chromePid": w.browserPID(),
		"port":      w.opts.Port,
		"target": map[string]string{
			"url":   w.store.TargetInfo().URL,
			"title": w.store.TargetInfo().Title,
		},
	}); err != nil {
		return fmt.Errorf("worker: write ready line: %w", err)
	}

	return w.runLifecycle(ctx, disconnected, enc)
}

// runLifecycle installs signal handlers and the optional auto-stop timer,
// then runs the command loop, whichever fires first.
func (w *Worker) runLifecycle(ctx context.Context, disconnected <-chan struct{}, enc *ipc.Encoder) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var autoStopCh <-chan time.Time
	if w.autoStop > 0 {
		timer := time.NewTimer(w.autoStop)
		defer timer.Stop()
		autoStopCh = timer.C
	}

	cmdDone := make(chan error, 1)
	go func() { cmdDone <- w.commandLoop(ctx, enc) }()

	select {
	case sig := <-sigCh:
		tabctllog.Info("worker received signal, shutting down", "signal", sig.String())
		w.lifecycle.Cleanup(lifecycle.Normal)
		return nil

	case <-autoStopCh:
		tabctllog.Info("worker auto-stop timer fired")
		w.lifecycle.Cleanup(lifecycle.Timeout)
		return nil

	case <-disconnected:
		tabctllog.Error("browser connection lost, crash cleanup")
		w.lifecycle.Cleanup(lifecycle.Crash)
		return fmt.Errorf("worker: browser connection lost")

	case err := <-cmdDone:
		if err != nil && err != io.EOF {
			w.lifecycle.Cleanup(lifecycle.Crash)
			return err
		}
		w.lifecycle.Cleanup(lifecycle.Normal)
		return nil
	}
}

// commandLoop decodes stdin and dispatches each line through the command
// registry, serialized on this single goroutine per spec.md §5.
func (w *Worker) commandLoop(ctx context.Context, enc *ipc.Encoder) error {
	dec := ipc.NewDecoder(w.stdin)
	return dec.Each(func(raw json.RawMessage) bool {
		w.handleRequest(ctx, enc, raw)
		return true
	})
}

type requestEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

func (w *Worker) handleRequest(ctx context.Context, enc *ipc.Encoder, raw json.RawMessage) {
	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		tabctllog.Debug("worker: dropping request with no type", "error", err)
		return
	}

	name := strings.TrimSuffix(env.Type, "_request")
	handler, ok := commands.Lookup(name)
	if !ok {
		tabctllog.Debug("worker: unknown command, dropping", "type", env.Type)
		return
	}

	data, err := w.runHandlerSafely(ctx, handler, raw)
	if err != nil {
		enc.Encode(map[string]any{
			"type":      name + "_response",
			"requestId": env.RequestID,
			"success":   false,
			"error":     err.Error(),
		})
		return
	}

	enc.Encode(map[string]any{
		"type":      name + "_response",
		"requestId": env.RequestID,
		"success":   true,
		"data":      data,
	})
}

// runHandlerSafely recovers a panicking handler into an error response: an
// uncaught exception must still produce a failure response, not take down
// the worker (spec.md §4.5).
func (w *Worker) runHandlerSafely(ctx context.Context, handler commands.Handler, raw json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, w.cmdCtx, raw)
}

func (w *Worker) browserPID() int {
	if w.browser == nil {
		return 0
	}
	return w.browser.PID()
}
