package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tabctl/tabctl/internal/daemon"
	"github.com/tabctl/tabctl/internal/session"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the tabctl daemon (background browser supervisor)",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var detach bool
	var internal bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tabctl daemon",
		Example: `  tabctl daemon start
  # Starts the daemon in the foreground

  tabctl daemon start -d
  # Starts the daemon in the background`,
		Run: func(cmd *cobra.Command, args []string) {
			if detach && !internal {
				daemonizeDaemon()
				return
			}
			runDaemonForeground()
		},
	}

	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "Run daemon in background")
	cmd.Flags().BoolVar(&internal, "_internal", false, "Internal flag for the detached child")
	cmd.Flags().MarkHidden("_internal")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the tabctl daemon",
		Run: func(cmd *cobra.Command, args []string) {
			paths := session.Default()
			if !session.IsRunning(paths) {
				fmt.Println("Daemon is not running.")
				return
			}
			pid, err := session.ReadPID(paths.DaemonPID)
			if err != nil {
				fail(fmt.Errorf("read daemon pid: %w", err))
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				fail(fmt.Errorf("find daemon process: %w", err))
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				fail(fmt.Errorf("signal daemon: %w", err))
			}
			fmt.Println("Daemon stopped.")
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		Run: func(cmd *cobra.Command, args []string) {
			paths := session.Default()
			if !session.IsRunning(paths) {
				if jsonOutput {
					printResult(map[string]any{"data": map[string]any{"running": false}})
					return
				}
				fmt.Println("Daemon is not running.")
				return
			}

			resp, err := roundTrip(map[string]any{
				"type": "status_request", "sessionId": newSessionID(),
			})
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
}

// runDaemonForeground runs the daemon in the current process until it
// receives SIGTERM/SIGINT.
func runDaemonForeground() {
	paths := session.Default()

	if session.IsRunning(paths) {
		fmt.Fprintln(os.Stderr, "Daemon is already running.")
		os.Exit(1)
	}
	session.CleanStale(paths)

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	d := daemon.New(daemon.Options{
		Paths:          paths,
		WorkerExecPath: exe,
		ReadyTimeout:   15 * time.Second,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ntabctl daemon shutting down...")
		d.Shutdown()
	}()

	fmt.Fprintf(os.Stderr, "tabctl daemon starting (pid %d, socket %s)\n", os.Getpid(), paths.DaemonSocket)
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		os.Exit(1)
	}
}

// daemonizeDaemon re-execs the current binary as a detached child running
// `daemon start --_internal`, then waits for its socket to come up — the
// teacher's daemonize() self-re-exec trick, applied to the daemon itself
// rather than the worker it in turn spawns.
func daemonizeDaemon() {
	paths := session.Default()

	if session.IsRunning(paths) {
		fmt.Println("Daemon is already running.")
		return
	}
	session.CleanStale(paths)

	exe, err := os.Executable()
	if err != nil {
		fail(fmt.Errorf("find executable: %w", err))
	}

	cmd := exec.Command(exe, "daemon", "start", "--_internal")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("start daemon: %w", err))
	}

	if err := waitForSocket(paths.DaemonSocket, 5*time.Second); err != nil {
		fail(fmt.Errorf("daemon failed to start: %w", err))
	}
	fmt.Printf("Daemon started (pid %d)\n", cmd.Process.Pid)
}

func waitForSocket(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		conn, err := daemon.Dial(socketPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(interval)
		if interval < 500*time.Millisecond {
			interval *= 2
		}
	}
	return fmt.Errorf("socket not available after %s", timeout)
}
