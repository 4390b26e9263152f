package daemon

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/pending"
	"github.com/tabctl/tabctl/internal/session"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return &Daemon{
		paths:        session.New(t.TempDir()),
		workerExec:   "unused",
		readyTimeout: time.Second,
		pending:      pending.New(1),
		done:         make(chan struct{}),
		startTime:    time.Now(),
	}
}

// attachFakeConn wires a connID to an in-memory pipe so handlers can write
// responses and a test can read them back through a real ipc.Decoder.
func attachFakeConn(d *Daemon, connID string) (serverSide net.Conn, clientSide net.Conn) {
	a, b := net.Pipe()
	connEncoders.Store(connID, ipc.NewEncoder(a))
	return a, b
}

func readOneMessage(t *testing.T, conn net.Conn) map[string]any {
	t.Helper()
	msg, err := readOneMessageErr(conn)
	require.NoError(t, err)
	return msg
}

// readOneMessageErr is the goroutine-safe variant: testify's require.* must
// only be called from the test's own goroutine, so concurrent readers (the
// worker-exit fan-out test) report errors through a channel instead.
func readOneMessageErr(conn net.Conn) (map[string]any, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	dec := ipc.NewDecoder(conn)
	raw, err := dec.Next()
	if err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func TestHandleClientMessage_DropsMalformed(t *testing.T) {
	d := newTestDaemon(t)
	_, client := attachFakeConn(d, "c1")
	defer client.Close()
	connEnc, _ := connEncoders.Load("c1")

	d.handleClientMessage("c1", connEnc.(*ipc.Encoder), json.RawMessage(`not json`))

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.Error(t, err) // nothing written, read times out
}

func TestHandleClientMessage_DropsResponseVariant(t *testing.T) {
	d := newTestDaemon(t)
	_, client := attachFakeConn(d, "c1")
	defer client.Close()
	connEnc, _ := connEncoders.Load("c1")

	raw, _ := json.Marshal(map[string]string{"type": "worker_status_response", "sessionId": "s1"})
	d.handleClientMessage("c1", connEnc.(*ipc.Encoder), raw)

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.Error(t, err)
}

func TestDispatchLocal_Handshake(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()

	go d.dispatchLocal("c1", clientEnvelope{Type: "handshake_request", SessionID: "s1"}, nil)

	msg := readOneMessage(t, client)
	assert.Equal(t, "handshake_response", msg["type"])
	assert.Equal(t, "ok", msg["status"])
}

func TestHandleStatus_NoWorker(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()

	go d.handleStatus("c1", clientEnvelope{Type: "status_request", SessionID: "s1"})

	msg := readOneMessage(t, client)
	assert.Equal(t, "status_response", msg["type"])
	assert.Equal(t, "ok", msg["status"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, false, data["sessionRunning"])
}

func TestForwardCommand_NoWorkerRepliesImmediately(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()

	raw, _ := json.Marshal(map[string]string{"type": "dom_query_request", "sessionId": "s1"})
	go d.forwardCommand("c1", clientEnvelope{Type: "dom_query_request", SessionID: "s1"}, raw)

	msg := readOneMessage(t, client)
	assert.Equal(t, "error", msg["status"])
	assert.Contains(t, msg["error"], "no active worker process")
}

// withFakeWorker installs a workerSession backed by an in-memory pipe as
// d.worker, returning the fake worker's end of the pipe: the test reads
// from it the requests the daemon writes to the worker.
func withFakeWorker(d *Daemon) (toWorker net.Conn) {
	a, b := net.Pipe()
	ws := &workerSession{
		enc:    ipc.NewEncoder(b),
		exited: make(chan struct{}),
	}
	d.worker = ws
	return a
}

func TestForwardCommand_SendsRequestAndRoutesResponseBack(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()
	toWorker := withFakeWorker(d)
	defer toWorker.Close()

	raw, _ := json.Marshal(map[string]string{"type": "dom_query_request", "sessionId": "s1", "selector": "a"})
	go d.forwardCommand("c1", clientEnvelope{Type: "dom_query_request", SessionID: "s1"}, raw)

	// Read what the daemon wrote to the "worker" and extract its requestId.
	outbound := readOneMessage(t, toWorker)
	assert.Equal(t, "dom_query_request", outbound["type"])
	reqID, _ := outbound["requestId"].(string)
	require.NotEmpty(t, reqID)
	assert.Equal(t, "a", outbound["selector"])

	resp, _ := json.Marshal(map[string]any{
		"type": "dom_query_response", "requestId": reqID, "success": true,
		"data": map[string]any{"matches": []any{}},
	})
	go d.onWorkerResponse(resp)

	clientMsg := readOneMessage(t, client)
	assert.Equal(t, "dom_query_response", clientMsg["type"])
	assert.Equal(t, "ok", clientMsg["status"])
}

func TestForwardCommand_WorkerFailureBecomesErrorResponse(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()
	toWorker := withFakeWorker(d)
	defer toWorker.Close()

	raw, _ := json.Marshal(map[string]string{"type": "cdp_call_request", "sessionId": "s1"})
	go d.forwardCommand("c1", clientEnvelope{Type: "cdp_call_request", SessionID: "s1"}, raw)

	outbound := readOneMessage(t, toWorker)
	reqID := outbound["requestId"].(string)

	resp, _ := json.Marshal(map[string]any{
		"type": "cdp_call_response", "requestId": reqID, "success": false, "error": "method is required",
	})
	go d.onWorkerResponse(resp)

	clientMsg := readOneMessage(t, client)
	assert.Equal(t, "error", clientMsg["status"])
	assert.Equal(t, "method is required", clientMsg["error"])
}

func TestWorkerPeekForwarding_ReshapesResponse(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()
	toWorker := withFakeWorker(d)
	defer toWorker.Close()
	require.NoError(t, session.WritePID(d.paths.WorkerPID, 4242))

	raw, _ := json.Marshal(map[string]string{"type": "peek_request", "sessionId": "s1"})
	go d.handlePeek("c1", clientEnvelope{Type: "peek_request", SessionID: "s1"}, raw)

	outbound := readOneMessage(t, toWorker)
	assert.Equal(t, "worker_peek_request", outbound["type"])
	assert.Equal(t, float64(10), outbound["lastN"])
	reqID := outbound["requestId"].(string)

	resp, _ := json.Marshal(map[string]any{
		"type": "worker_peek_response", "requestId": reqID, "success": true,
		"data": map[string]any{"network": []any{}, "console": []any{}},
	})
	go d.onWorkerResponse(resp)

	clientMsg := readOneMessage(t, client)
	assert.Equal(t, "peek_response", clientMsg["type"])
	data := clientMsg["data"].(map[string]any)
	assert.Equal(t, float64(4242), data["sessionPid"])
	assert.NotNil(t, data["preview"])
}

func TestOnWorkerExit_FansOutUniformError(t *testing.T) {
	d := newTestDaemon(t)
	server1, client1 := attachFakeConn(d, "c1")
	server2, client2 := attachFakeConn(d, "c2")
	defer server1.Close()
	defer client1.Close()
	defer server2.Close()
	defer client2.Close()
	withFakeWorker(d)

	timer1 := time.AfterFunc(time.Hour, func() {})
	timer2 := time.AfterFunc(time.Hour, func() {})
	d.pending.Add("id1", &pending.Entry{SocketID: "c1", SessionID: "s1", Command: "dom_query"}, timer1)
	d.pending.Add("id2", &pending.Entry{SocketID: "c2", SessionID: "s2", Command: "worker_status"}, timer2)

	go d.onWorkerExit()

	// Fan-out order across connections is unspecified (map iteration), so
	// read both concurrently rather than assuming which arrives first.
	type result struct {
		msg map[string]any
		err error
	}
	results := make(chan result, 2)
	go func() { m, err := readOneMessageErr(client1); results <- result{m, err} }()
	go func() { m, err := readOneMessageErr(client2); results <- result{m, err} }()
	r1, r2 := <-results, <-results
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "error", r1.msg["status"])
	assert.Equal(t, "error", r2.msg["status"])
	assert.Equal(t, 0, d.pending.Size())

	d.mu.Lock()
	w := d.worker
	d.mu.Unlock()
	assert.Nil(t, w)
}

func TestClassifyStartError(t *testing.T) {
	timeoutErr := assert.AnError
	ce := classifyStartError(timeoutErr)
	assert.Equal(t, "WORKER_START_FAILED", string(ce.Code))

	readyTimeout := errAsText("daemon: worker did not become ready within 15s")
	ce2 := classifyStartError(readyTimeout)
	assert.Equal(t, "CDP_TIMEOUT", string(ce2.Code))
}

type errAsText string

func (e errAsText) Error() string { return string(e) }

func TestCommandNamesMatchesRegistrySet(t *testing.T) {
	expected := []string{"dom_query", "dom_highlight", "dom_get", "dom_screenshot", "worker_peek", "worker_details", "worker_status", "cdp_call"}
	assert.Len(t, commandNames, len(expected))
	for _, name := range expected {
		assert.True(t, commandNames[name], name)
	}
}

func TestLocalRequestTypesClosedSet(t *testing.T) {
	expected := []string{"handshake_request", "status_request", "peek_request", "start_session_request", "stop_session_request"}
	assert.Len(t, localRequestTypes, len(expected))
	for _, name := range expected {
		assert.True(t, localRequestTypes[name], name)
	}
}

func TestHandleStopSession_NoActiveSession(t *testing.T) {
	d := newTestDaemon(t)
	server, client := attachFakeConn(d, "c1")
	defer server.Close()
	defer client.Close()

	go d.handleStopSession("c1", clientEnvelope{Type: "stop_session_request", SessionID: "s1"})

	msg := readOneMessage(t, client)
	assert.Equal(t, "error", msg["status"])
	assert.Equal(t, "NO_SESSION", msg["code"])
}
