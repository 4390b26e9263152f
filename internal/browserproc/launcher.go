// Package browserproc launches and tears down the browser process. It
// implements exactly the external-collaborator contract SPEC_FULL §6.5
// calls for: given launch options, a Handle exposing PID and Kill, plus the
// one piece of "launching the browser binary" detail this spec keeps in
// scope — discovering the debugger WebSocket URL for a page-type target via
// the standard DevTools /json/list endpoint.
package browserproc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// candidateExecutables is the short list of binary names probed via
// exec.LookPath, in preference order.
var candidateExecutables = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// LaunchOptions configures a managed browser launch.
type LaunchOptions struct {
	Port          int
	UserDataDir   string
	Headless      bool
	ExtraFlags    []string
	ExecutablePath string // overrides the candidate-list lookup when set
}

// Target describes one entry from the DevTools /json/list endpoint.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Handle is a running (or once-running) browser process.
type Handle struct {
	cmd  *exec.Cmd
	port int
	pid  int
}

// Launch starts a browser binary with remote debugging enabled on opts.Port.
func Launch(opts LaunchOptions) (*Handle, error) {
	exe := opts.ExecutablePath
	if exe == "" {
		var err error
		exe, err = findExecutable()
		if err != nil {
			return nil, err
		}
	}

	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
			return nil, fmt.Errorf("browserproc: create user data dir: %w", err)
		}
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", opts.Port),
		"--no-first-run",
		"--no-default-browser-check",
	}
	if opts.UserDataDir != "" {
		args = append(args, "--user-data-dir="+opts.UserDataDir)
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, platformExtraArgs()...)
	args = append(args, opts.ExtraFlags...)
	args = append(args, "about:blank")

	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browserproc: start %s: %w", exe, err)
	}

	return &Handle{cmd: cmd, port: opts.Port, pid: cmd.Process.Pid}, nil
}

func findExecutable() (string, error) {
	for _, name := range candidateExecutables {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("browserproc: no browser executable found (tried %v)", candidateExecutables)
}

// PID returns the browser process's id.
func (h *Handle) PID() int { return h.pid }

// Port returns the remote-debugging port the browser was launched with.
func (h *Handle) Port() int { return h.port }

// Kill sends the platform termination signal to the browser process.
// Verified, polled teardown (SIGTERM then SIGKILL-of-process-group on
// timeout) is the lifecycle layer's job (SPEC_FULL §6.10); Kill here is the
// single "ask it to die" primitive the Handle contract promises.
func (h *Handle) Kill() {
	killByPid(h.pid)
}

// Wait blocks until the browser process exits.
func (h *Handle) Wait() error {
	return h.cmd.Wait()
}

// IsAlive reports whether pid still refers to a live process.
func IsAlive(pid int) bool {
	return isProcessAlive(pid)
}

// WaitForDead polls until every pid in pids has exited or timeout elapses.
func WaitForDead(pids []int, timeout time.Duration) {
	waitForProcessesDead(pids, timeout)
}

// DiscoverTargets hits the DevTools /json/list endpoint on the given port
// and returns the available debugging targets.
func DiscoverTargets(ctx context.Context, port int) ([]Target, error) {
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browserproc: discover targets: %w", err)
	}
	defer resp.Body.Close()

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("browserproc: decode target list: %w", err)
	}
	return targets, nil
}

// FirstPageTarget returns the first page-type target, or an error listing
// what was seen if none qualifies.
func FirstPageTarget(targets []Target) (Target, error) {
	for _, t := range targets {
		if t.Type == "page" {
			return t, nil
		}
	}
	seen := make([]string, 0, len(targets))
	for _, t := range targets {
		seen = append(seen, t.Type)
	}
	return Target{}, fmt.Errorf("browserproc: no page target available (saw types: %v)", seen)
}
