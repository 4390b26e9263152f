package daemon

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/pending"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctllog"
)

// genericForwardTimeout is the deadline for most worker commands; the two
// polling-style commands below get a tighter one so a stuck browser never
// makes a status check feel as slow as a DOM round trip (spec.md §4.6).
const genericForwardTimeout = 10 * time.Second
const pollForwardTimeout = 5 * time.Second

func forwardTimeoutFor(command string) time.Duration {
	if command == "worker_peek" || command == "worker_status" {
		return pollForwardTimeout
	}
	return genericForwardTimeout
}

// clientResponseType maps a worker command name onto the response type a
// client actually sees. worker_peek and worker_status are reshaped under
// the local-request names they were forwarded on behalf of (peek_request,
// status_request); every other command's response type is just its own
// name with the suffix swapped.
func clientResponseType(command string) string {
	switch command {
	case "worker_peek":
		return "peek_response"
	case "worker_status":
		return "status_response"
	default:
		return command + "_response"
	}
}

// forwardCommand dispatches a worker-command request from connID to the
// attached worker, arming a deadline timer that replies with an error if
// the worker never responds in time (worker_status instead answers with
// the daemon-local base data alone).
func (d *Daemon) forwardCommand(connID string, env clientEnvelope, raw json.RawMessage) {
	enc, _ := connEncoders.Load(connID)
	replyEnc, _ := enc.(*ipc.Encoder)

	name := strings.TrimSuffix(env.Type, "_request")
	clientType := clientResponseType(name)

	d.mu.Lock()
	w := d.worker
	d.mu.Unlock()
	if w == nil {
		writeResponse(replyEnc, clientType, env.SessionID, nil, "no active worker process")
		return
	}

	id := d.pending.NextID()

	var baseData any
	if name == "worker_status" {
		baseData = d.baseStatusData()
	}

	timer := time.AfterFunc(forwardTimeoutFor(name), func() {
		if _, ok := d.pending.Remove(id); ok {
			if baseData != nil {
				writeResponse(replyEnc, clientType, env.SessionID, baseData, "")
				return
			}
			writeResponse(replyEnc, clientType, env.SessionID, nil, "worker did not respond in time")
		}
	})
	d.pending.Add(id, &pending.Entry{
		SocketID: connID, SessionID: env.SessionID, Command: name, BaseData: baseData,
	}, timer)

	outbound, err := buildWorkerRequest(name, id, raw)
	if err != nil {
		d.pending.Remove(id)
		writeResponse(replyEnc, clientType, env.SessionID, nil, "malformed request: "+err.Error())
		return
	}

	if err := w.send(outbound); err != nil {
		d.pending.Remove(id)
		writeResponse(replyEnc, clientType, env.SessionID, nil, "write to worker failed: "+err.Error())
		return
	}
}

// buildWorkerRequest re-encodes the client's request body under the
// worker-facing envelope: {type, requestId, ...originalParams}.
func buildWorkerRequest(name, id string, raw json.RawMessage) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	delete(body, "type")
	delete(body, "sessionId")
	body["type"] = name + "_request"
	body["requestId"] = id
	return body, nil
}

// workerResponseEnvelope is the shape the worker sends back over stdout
// (spec.md §6): {type, requestId, success, data?, error?}.
type workerResponseEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// onWorkerResponse is wired as startWorker's onResponse callback: it looks
// up the pending entry by requestId, transforms the worker's reply into a
// client-facing response, and writes it to the originating connection.
func (d *Daemon) onWorkerResponse(raw json.RawMessage) {
	var wr workerResponseEnvelope
	if err := json.Unmarshal(raw, &wr); err != nil {
		tabctllog.Warn("daemon: malformed worker response", "error", err)
		return
	}

	entry, ok := d.pending.Remove(wr.RequestID)
	if !ok {
		tabctllog.Debug("daemon: worker response with no matching pending entry", "requestId", wr.RequestID)
		return
	}

	enc, _ := connEncoders.Load(entry.SocketID)
	replyEnc, _ := enc.(*ipc.Encoder)
	if replyEnc == nil {
		return // client disconnected before the worker replied
	}

	clientType := clientResponseType(entry.Command)

	switch entry.Command {
	case "worker_status":
		d.writeStatusResponse(replyEnc, entry, wr)
	case "worker_peek":
		d.writePeekResponse(replyEnc, entry, wr)
	default:
		if wr.Success {
			replyEnc.Encode(map[string]any{
				"type": clientType, "sessionId": entry.SessionID,
				"status": "ok", "data": wr.Data,
			})
		} else {
			writeResponse(replyEnc, clientType, entry.SessionID, nil, wr.Error)
		}
	}
}

// onWorkerExit is wired as startWorker's onExit callback: every request
// still in flight gets a uniform failure, since the worker can no longer
// answer any of them (spec.md §4.6, §7: "worker-exit errors produce a
// uniform failure for every in-flight request").
func (d *Daemon) onWorkerExit() {
	d.mu.Lock()
	d.worker = nil
	d.mu.Unlock()

	for _, entry := range d.pending.Clear() {
		enc, _ := connEncoders.Load(entry.SocketID)
		replyEnc, _ := enc.(*ipc.Encoder)
		if replyEnc == nil {
			continue
		}
		writeResponse(replyEnc, clientResponseType(entry.Command), entry.SessionID, nil, "worker process exited")
	}
	tabctllog.Warn("daemon: worker exited; session ended")
}

func writeResponse(enc *ipc.Encoder, typ, sessionID string, data any, errMsg string) {
	if enc == nil {
		return
	}
	msg := map[string]any{"type": typ, "sessionId": sessionID}
	if errMsg != "" {
		msg["status"] = "error"
		msg["error"] = errMsg
		if data != nil {
			msg["data"] = data
		}
	} else {
		msg["status"] = "ok"
		if data != nil {
			msg["data"] = data
		}
	}
	if err := enc.Encode(msg); err != nil {
		tabctllog.Debug("daemon: failed to write client response", "error", err)
	}
}

// baseStatusData captures the daemon-local half of a status response at
// forward time, so a worker_status timeout or failure can still answer
// with daemon-level facts instead of nothing at all.
func (d *Daemon) baseStatusData() map[string]any {
	return map[string]any{
		"daemonPid":      os.Getpid(),
		"uptime":         time.Since(d.startTime).Milliseconds(),
		"sessionRunning": session.WorkerRunning(d.paths),
	}
}

func (d *Daemon) writeStatusResponse(enc *ipc.Encoder, entry *pending.Entry, wr workerResponseEnvelope) {
	base, _ := entry.BaseData.(map[string]any)
	if base == nil {
		base = map[string]any{}
	}
	if !wr.Success {
		// Worker failed to answer worker_status; still return the base
		// daemon-level data, but surface the failure rather than silently
		// reporting ok (spec.md §4.6).
		writeResponse(enc, "status_response", entry.SessionID, base, wr.Error)
		return
	}
	var workerData map[string]any
	json.Unmarshal(wr.Data, &workerData)
	merged := map[string]any{}
	for k, v := range base {
		merged[k] = v
	}
	merged["worker"] = workerData
	writeResponse(enc, "status_response", entry.SessionID, merged, "")
}

func (d *Daemon) writePeekResponse(enc *ipc.Encoder, entry *pending.Entry, wr workerResponseEnvelope) {
	if !wr.Success {
		writeResponse(enc, "peek_response", entry.SessionID, nil, wr.Error)
		return
	}
	pid, _ := session.ReadPID(d.paths.WorkerPID)
	writeResponse(enc, "peek_response", entry.SessionID, map[string]any{
		"sessionPid": pid,
		"preview":    json.RawMessage(wr.Data),
	}, "")
}
