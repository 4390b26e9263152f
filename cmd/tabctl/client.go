package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabctl/tabctl/internal/daemon"
	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/session"
)

// dialTimeout bounds how long the client waits to connect to the daemon's
// socket before giving up (the daemon itself may still be starting up).
const dialTimeout = 3 * time.Second

// roundTrip sends one request to the daemon and returns its single
// response. The CLI is one-shot per invocation, so a fresh connection per
// command is simpler than keeping one open across invocations.
func roundTrip(req map[string]any) (map[string]any, error) {
	paths := session.Default()
	conn, err := daemon.Dial(paths.DaemonSocket, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon (is it running? try `tabctl daemon start`): %w", err)
	}
	defer conn.Close()

	enc := ipc.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	dec := ipc.NewDecoder(conn)
	raw, err := dec.Next()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp["status"] == "error" {
		if code, ok := resp["code"].(string); ok && code != "" {
			return resp, fmt.Errorf("%s: %v", code, resp["error"])
		}
		return resp, fmt.Errorf("%v", resp["error"])
	}
	return resp, nil
}

// newSessionID gives every CLI invocation a distinct correlation id for the
// client<->daemon exchange; the daemon treats it as an opaque echo field.
func newSessionID() string {
	return fmt.Sprintf("cli-%d", time.Now().UnixNano())
}
