package daemon

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
	"github.com/tabctl/tabctl/internal/tabctllog"
)

func (d *Daemon) connEncoder(connID string) *ipc.Encoder {
	enc, _ := connEncoders.Load(connID)
	replyEnc, _ := enc.(*ipc.Encoder)
	return replyEnc
}

// handleStatus answers status_request. If a worker is attached it forwards
// to worker_status and merges the reply into the base daemon data
// (spec.md §4.6); otherwise it answers from daemon-local facts alone.
func (d *Daemon) handleStatus(connID string, env clientEnvelope) {
	d.mu.Lock()
	hasWorker := d.worker != nil
	d.mu.Unlock()

	if !hasWorker {
		writeResponse(d.connEncoder(connID), "status_response", env.SessionID, d.baseStatusData(), "")
		return
	}

	raw, _ := json.Marshal(map[string]any{"type": "worker_status_request", "sessionId": env.SessionID})
	d.forwardCommand(connID, clientEnvelope{Type: "worker_status_request", SessionID: env.SessionID}, raw)
}

// handlePeek answers peek_request by forwarding to the worker's
// worker_peek command with a default window of 10 when the client didn't
// specify one.
func (d *Daemon) handlePeek(connID string, env clientEnvelope, raw json.RawMessage) {
	d.mu.Lock()
	hasWorker := d.worker != nil
	d.mu.Unlock()
	if !hasWorker {
		writeResponse(d.connEncoder(connID), "peek_response", env.SessionID, nil, "no active worker process")
		return
	}

	var body map[string]any
	json.Unmarshal(raw, &body)
	if body == nil {
		body = map[string]any{}
	}
	if _, ok := body["lastN"]; !ok {
		body["lastN"] = 10
	}
	body["type"] = "worker_peek_request"
	body["sessionId"] = env.SessionID
	forwardRaw, _ := json.Marshal(body)

	d.forwardCommand(connID, clientEnvelope{Type: "worker_peek_request", SessionID: env.SessionID}, forwardRaw)
}

func (d *Daemon) handleStartSession(connID string, env clientEnvelope, raw json.RawMessage) {
	enc := d.connEncoder(connID)

	d.mu.Lock()
	existing := d.worker
	d.mu.Unlock()
	if existing != nil {
		writeCodedError(enc, "start_session_response", env.SessionID,
			tabctlerrors.New(tabctlerrors.CodeSessionAlreadyRunning,
				"a session is already running (worker pid %d, url %s, started %s, duration %s)",
				existing.meta.WorkerPID, existing.meta.URL, existing.meta.StartedAt, sessionDuration(existing.meta.StartedAt)))
		return
	}

	if err := d.paths.EnsureDir(); err != nil {
		writeCodedError(enc, "start_session_response", env.SessionID,
			tabctlerrors.New(tabctlerrors.CodeDaemonError, "create session dir: %v", err))
		return
	}
	removeIgnoreNotExist(d.paths.WorkerPID)
	removeIgnoreNotExist(d.paths.ChromePID)
	removeIgnoreNotExist(d.paths.SessionJSON)

	launchConfig, err := buildLaunchConfig(raw)
	if err != nil {
		writeCodedError(enc, "start_session_response", env.SessionID,
			tabctlerrors.New(tabctlerrors.CodeWorkerStartFailed, "invalid launch config: %v", err))
		return
	}

	ws, err := startWorker(d.workerExec, launchConfig, d.readyTimeout, d.onWorkerResponse, d.onWorkerExit)
	if err != nil {
		writeCodedError(enc, "start_session_response", env.SessionID, classifyStartError(err))
		return
	}

	ws.meta = session.Metadata{
		WorkerPID: ws.ready.WorkerPID,
		ChromePID: ws.ready.ChromePID,
		URL:       ws.ready.Target.URL,
		Port:      ws.ready.Port,
		StartedAt: nowRFC3339(),
	}
	session.WriteAtomic(d.paths.SessionJSON, ws.meta)

	d.mu.Lock()
	d.worker = ws
	d.mu.Unlock()

	writeResponse(enc, "start_session_response", env.SessionID, map[string]any{
		"workerPid": ws.ready.WorkerPID,
		"chromePid": ws.ready.ChromePID,
		"port":      ws.ready.Port,
		"target":    ws.ready.Target,
	}, "")
}

func (d *Daemon) handleStopSession(connID string, env clientEnvelope) {
	enc := d.connEncoder(connID)

	d.mu.Lock()
	w := d.worker
	d.worker = nil
	d.mu.Unlock()

	if w == nil {
		writeCodedError(enc, "stop_session_response", env.SessionID,
			tabctlerrors.New(tabctlerrors.CodeNoSession, "no active session"))
		return
	}

	chromePID := w.ready.ChromePID
	w.stop()

	for _, e := range d.pending.Clear() {
		if re := d.connEncoder(e.SocketID); re != nil {
			writeResponse(re, clientResponseType(e.Command), e.SessionID, nil, "session stopped")
		}
	}

	removeIgnoreNotExist(d.paths.WorkerPID)
	removeIgnoreNotExist(d.paths.ChromePID)
	removeIgnoreNotExist(d.paths.SessionJSON)
	writeResponse(enc, "stop_session_response", env.SessionID, map[string]any{"chromePid": chromePID}, "")
}

// classifyStartError maps startWorker's plain errors onto the closed error
// code set: a worker that never produced a ready line within the deadline
// reached the browser (or not) somewhere past the self-exec boot, which is
// the CDP-handshake phase from the daemon's point of view; anything else
// (pipe setup, spawn, malformed ready line) never got that far.
func classifyStartError(err error) *tabctlerrors.CodedError {
	msg := err.Error()
	if strings.Contains(msg, "did not become ready within") {
		return tabctlerrors.New(tabctlerrors.CodeCDPTimeout, "%s", msg)
	}
	return tabctlerrors.New(tabctlerrors.CodeWorkerStartFailed, "%s", msg)
}

func writeCodedError(enc *ipc.Encoder, typ, sessionID string, ce *tabctlerrors.CodedError) {
	if enc == nil {
		return
	}
	if err := enc.Encode(map[string]any{
		"type": typ, "sessionId": sessionID,
		"status": "error", "error": ce.Message, "code": string(ce.Code),
	}); err != nil {
		tabctllog.Debug("daemon: failed to write coded error response", "error", err)
	}
}

// buildLaunchConfig strips the client envelope fields and re-encodes the
// remainder as the worker's single JSON launch argument.
func buildLaunchConfig(raw json.RawMessage) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	delete(body, "type")
	delete(body, "sessionId")
	return json.Marshal(body)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// sessionDuration renders how long a session has been running, for the
// already-running rejection message. An unparseable startedAt (shouldn't
// happen, since nowRFC3339 is the only writer) renders as "unknown".
func sessionDuration(startedAt string) string {
	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return "unknown"
	}
	return time.Since(started).Round(time.Second).String()
}
