package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/session"
)

// workerReadyMsg is the shape of the single line the worker emits on
// stdout once startup completes (spec.md §4.5 step 11).
type workerReadyMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	WorkerPID int    `json:"workerPid"`
	ChromePID int    `json:"chromePid"`
	Port      int    `json:"port"`
	Target    struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"target"`
}

// workerSession tracks one spawned worker subprocess and its IO.
type workerSession struct {
	cmd   *exec.Cmd
	enc   *ipc.Encoder
	ready workerReadyMsg
	meta  session.Metadata

	exited chan struct{}
}

// startWorker spawns the worker via self-re-exec (argv[0] + the hidden
// --_internal-worker flag + the launch config as its sole JSON argument),
// mirroring the teacher's daemonize() self-re-exec convention. It blocks
// until the worker's ready line arrives or readyTimeout elapses, then
// hands every subsequent decoded response line to onResponse until the
// worker's stdout closes. onExit runs once the worker process has exited
// and been reaped.
func startWorker(execPath string, configJSON []byte, readyTimeout time.Duration, onResponse func(json.RawMessage), onExit func()) (*workerSession, error) {
	cmd := exec.Command(execPath, "--_internal-worker", string(configJSON))
	setWorkerProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("daemon: worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("daemon: worker stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("daemon: spawn worker: %w", err)
	}

	ws := &workerSession{
		cmd:    cmd,
		enc:    ipc.NewEncoder(stdin),
		exited: make(chan struct{}),
	}

	reader := bufio.NewReader(stdout)
	readyCh := make(chan workerReadyMsg, 1)
	readyErrCh := make(chan error, 1)

	go func() {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			readyErrCh <- fmt.Errorf("daemon: worker closed before ready: %w", err)
			return
		}
		var msg workerReadyMsg
		if err := json.Unmarshal(line, &msg); err != nil || msg.Type != "worker_ready" {
			readyErrCh <- fmt.Errorf("daemon: malformed worker_ready line: %q", line)
			return
		}
		readyCh <- msg
	}()

	select {
	case msg := <-readyCh:
		ws.ready = msg
	case err := <-readyErrCh:
		cmd.Process.Kill()
		return nil, err
	case <-time.After(readyTimeout):
		cmd.Process.Kill()
		return nil, fmt.Errorf("daemon: worker did not become ready within %s", readyTimeout)
	}

	go func() {
		ws.cmd.Wait()
		close(ws.exited)
		if onExit != nil {
			onExit()
		}
	}()

	go func() {
		dec := ipc.NewDecoder(reader)
		dec.Each(func(raw json.RawMessage) bool {
			if onResponse != nil {
				onResponse(raw)
			}
			return true
		})
	}()

	return ws, nil
}

func (ws *workerSession) send(v any) error {
	return ws.enc.Encode(v)
}

// stop sends the polite termination signal and waits briefly for the
// worker to exit before escalating to Kill.
func (ws *workerSession) stop() {
	if ws.cmd.Process != nil {
		terminateWorkerProcess(ws.cmd.Process)
	}
	select {
	case <-ws.exited:
	case <-time.After(5 * time.Second):
		if ws.cmd.Process != nil {
			ws.cmd.Process.Kill()
		}
	}
}
