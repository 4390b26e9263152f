package daemon

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/tabctllog"
)

var connCounter atomic.Uint64

// localRequestTypes is the closed set of daemon-terminated request names
// (spec.md §6).
var localRequestTypes = map[string]bool{
	"handshake_request":     true,
	"status_request":        true,
	"peek_request":          true,
	"start_session_request": true,
	"stop_session_request":  true,
}

// clientEnvelope is the minimal shape every client message must satisfy
// to be routed at all (spec.md §4.6: "must be an object with a string
// type and a sessionId field").
type clientEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// connEncoders maps a connection id to its reply encoder, so a worker
// response or timeout firing on another goroutine can find its way back
// to the right socket.
var connEncoders sync.Map // map[string]*ipc.Encoder

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := strconv.FormatUint(connCounter.Add(1), 10)
	enc := ipc.NewEncoder(conn)
	connEncoders.Store(connID, enc)
	defer connEncoders.Delete(connID)

	dec := ipc.NewDecoder(conn)
	dec.Each(func(raw json.RawMessage) bool {
		d.handleClientMessage(connID, enc, raw)
		return true
	})
}

func (d *Daemon) handleClientMessage(connID string, enc *ipc.Encoder, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			tabctllog.Error("daemon: panic handling client message", "recover", r)
			enc.Encode(map[string]any{"type": "error_response", "status": "error", "error": "internal error"})
		}
	}()

	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		tabctllog.Debug("daemon: dropping malformed client message")
		return
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil || fields["sessionId"] == nil {
		tabctllog.Debug("daemon: dropping client message without sessionId", "type", env.Type)
		return
	}

	if strings.HasSuffix(env.Type, "_response") {
		tabctllog.Debug("daemon: dropping client-sent response (one-way contract)", "type", env.Type)
		return
	}

	if localRequestTypes[env.Type] {
		d.dispatchLocal(connID, env, raw)
		return
	}

	name := strings.TrimSuffix(env.Type, "_request")
	if _, ok := commandNames[name]; !ok {
		tabctllog.Debug("daemon: unrecognized request type, dropping", "type", env.Type)
		return
	}
	d.forwardCommand(connID, env, raw)
}

// commandNames is the closed worker command set (spec.md §6), duplicated
// here (rather than importing internal/commands) to keep the daemon from
// depending on command implementations it never executes directly — it
// only forwards by name.
var commandNames = map[string]bool{
	"dom_query": true, "dom_get": true, "dom_highlight": true, "dom_screenshot": true,
	"worker_peek": true, "worker_details": true, "worker_status": true, "cdp_call": true,
}

func (d *Daemon) dispatchLocal(connID string, env clientEnvelope, raw json.RawMessage) {
	switch env.Type {
	case "handshake_request":
		d.connEncoder(connID).Encode(map[string]any{
			"type": "handshake_response", "sessionId": env.SessionID,
			"status": "ok", "message": "tabctl daemon ready",
		})
	case "status_request":
		d.handleStatus(connID, env)
	case "peek_request":
		d.handlePeek(connID, env, raw)
	case "start_session_request":
		d.handleStartSession(connID, env, raw)
	case "stop_session_request":
		d.handleStopSession(connID, env)
	}
}
