package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabctl/tabctl/internal/commands"
	"github.com/tabctl/tabctl/internal/ipc"
	"github.com/tabctl/tabctl/internal/telemetry"
)

func newTestWorker() *Worker {
	w := &Worker{store: telemetry.New(nil)}
	w.cache = commands.NewQueryCache("")
	w.cmdCtx = &commands.Context{Store: w.store, Cache: w.cache}
	return w
}

func TestHandleRequest_UnknownCommandIsDropped(t *testing.T) {
	w := newTestWorker()
	var out bytes.Buffer
	enc := ipc.NewEncoder(&out)

	raw, _ := json.Marshal(map[string]string{"type": "bogus_request", "requestId": "1"})
	w.handleRequest(context.Background(), enc, raw)

	assert.Empty(t, out.String())
}

func TestHandleRequest_SuccessShapesResponse(t *testing.T) {
	w := newTestWorker()
	var out bytes.Buffer
	enc := ipc.NewEncoder(&out)

	raw, _ := json.Marshal(map[string]any{"type": "worker_status_request", "requestId": "req-1"})
	w.handleRequest(context.Background(), enc, raw)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.Equal(t, "worker_status_response", resp["type"])
	assert.Equal(t, "req-1", resp["requestId"])
	assert.Equal(t, true, resp["success"])
	assert.NotNil(t, resp["data"])
}

func TestHandleRequest_FailureShapesResponse(t *testing.T) {
	w := newTestWorker()
	var out bytes.Buffer
	enc := ipc.NewEncoder(&out)

	// cdp_call with no method fails synchronous validation.
	raw, _ := json.Marshal(map[string]any{"type": "cdp_call_request", "requestId": "req-2"})
	w.handleRequest(context.Background(), enc, raw)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.Equal(t, "cdp_call_response", resp["type"])
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["error"])
}

func TestHandleRequest_MalformedEnvelopeDropped(t *testing.T) {
	w := newTestWorker()
	var out bytes.Buffer
	enc := ipc.NewEncoder(&out)

	w.handleRequest(context.Background(), enc, json.RawMessage(`not an object`))
	assert.Empty(t, out.String())
}

func TestRunHandlerSafely_RecoversPanic(t *testing.T) {
	w := newTestWorker()
	panicking := commands.Handler(func(context.Context, *commands.Context, json.RawMessage) (any, error) {
		panic("boom")
	})

	_, err := w.runHandlerSafely(context.Background(), panicking, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandLoop_ProcessesMultipleLinesInOrder(t *testing.T) {
	w := newTestWorker()
	input := bytes.NewBufferString(
		`{"type":"worker_status_request","requestId":"a"}` + "\n" +
			`{"type":"worker_status_request","requestId":"b"}` + "\n",
	)
	w.stdin = input

	var out bytes.Buffer
	enc := ipc.NewEncoder(&out)

	err := w.commandLoop(context.Background(), enc)
	require.Error(t, err) // io.EOF once stdin is exhausted

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "a", first["requestId"])
	assert.Equal(t, "b", second["requestId"])
}

func TestBrowserPID_NilBrowserReturnsZero(t *testing.T) {
	w := newTestWorker()
	assert.Equal(t, 0, w.browserPID())
}
