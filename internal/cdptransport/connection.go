// Package cdptransport implements the worker's WebSocket connection to the
// browser's remote-debugging endpoint: a typed event/command facade over a
// JSON-RPC-style WebSocket (Chrome DevTools Protocol framing). The wire
// protocol itself — the exact CDP method/params/result shapes — is treated
// as an external collaborator per SPEC_FULL §1; this package only owns
// framing, correlation, and the disconnect signal.
package cdptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
)

// maxMessageSize accommodates large screenshot frames (10MB).
const maxMessageSize = 10 * 1024 * 1024

// readDeadline must exceed pingInterval so pongs have time to arrive.
const readDeadline = 120 * time.Second

// pingInterval is how often a keepalive ping is sent.
const pingInterval = 30 * time.Second

// cdpRequest is the wire shape of an outbound command.
type cdpRequest struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// cdpMessage is the wire shape of anything arriving on the socket — either
// a command response (has ID) or an event (has Method, no ID).
type cdpMessage struct {
	ID        uint64          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Event is a CDP event delivered to a subscriber.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

// Connection is a single WebSocket connection to one CDP endpoint (a
// browser-level or page-level debugger URL).
type Connection struct {
	conn      *websocket.Conn
	mu        sync.Mutex // guards writes
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	nextID  atomic.Uint64
	waiters sync.Map // map[uint64]chan cdpMessage

	subsMu sync.Mutex
	subs   map[string][]func(Event)

	onDisconnect func()
}

// Connect dials url (the browser's webSocketDebuggerUrl) and starts the
// read pump. No auto-reconnect: if the socket drops, onDisconnect (if set
// via OnDisconnect) fires exactly once.
func Connect(url string) (*Connection, error) {
	return ConnectWithHeaders(url, nil)
}

// ConnectWithHeaders is like Connect but allows custom HTTP headers on the
// handshake (e.g. for an externally supplied, authenticated debugger URL).
func ConnectWithHeaders(url string, headers http.Header) (*Connection, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
		HandshakeTimeout: 30 * time.Second,
	}
	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		return nil, &tabctlerrors.ConnectionError{URL: url, Cause: err}
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	c := &Connection{
		conn: conn,
		done: make(chan struct{}),
		subs: make(map[string][]func(Event)),
	}
	go c.pingLoop()
	go c.readLoop()
	return c, nil
}

// OnDisconnect registers fn to run once, when the read loop observes the
// connection close for any reason (remote close, read error, or our own
// Close). The worker uses this to trigger crash cleanup.
func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.handleDisconnect()
	for {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Method != "" {
			c.dispatchEvent(Event{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID})
			continue
		}

		if ch, ok := c.waiters.LoadAndDelete(msg.ID); ok {
			ch.(chan cdpMessage) <- msg
		}
	}
}

func (c *Connection) handleDisconnect() {
	c.mu.Lock()
	c.closed = true
	fn := c.onDisconnect
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	if fn != nil {
		fn()
	}
}

func (c *Connection) dispatchEvent(ev Event) {
	c.subsMu.Lock()
	handlers := append([]func(Event){}, c.subs[ev.Method]...)
	c.subsMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers fn to be called for every event with the given CDP
// method name (e.g. "Network.requestWillBeSent").
func (c *Connection) Subscribe(method string, fn func(Event)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[method] = append(c.subs[method], fn)
}

// Send issues a CDP command and blocks for its response.
func (c *Connection) Send(method string, params any) (json.RawMessage, error) {
	return c.SendToSession(context.Background(), "", method, params)
}

// SendToSession is like Send but scopes the command to a specific CDP
// session id (flat-session-mode commands targeting an attached target).
func (c *Connection) SendToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &tabctlerrors.BrowserError{Method: method, Cause: fmt.Errorf("connection closed")}
	}

	id := c.nextID.Add(1)
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			c.mu.Unlock()
			return nil, &tabctlerrors.BrowserError{Method: method, Cause: err}
		}
	}

	ch := make(chan cdpMessage, 1)
	c.waiters.Store(id, ch)

	req := cdpRequest{ID: id, Method: method, Params: raw, SessionID: sessionID}
	data, err := json.Marshal(req)
	if err != nil {
		c.waiters.Delete(id)
		c.mu.Unlock()
		return nil, &tabctlerrors.BrowserError{Method: method, Cause: err}
	}

	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()
	if err != nil {
		c.waiters.Delete(id)
		return nil, &tabctlerrors.BrowserError{Method: method, Cause: err}
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, &tabctlerrors.BrowserError{Method: method, Cause: fmt.Errorf("%s", msg.Error.Message)}
		}
		return msg.Result, nil
	case <-ctx.Done():
		c.waiters.Delete(id)
		return nil, &tabctlerrors.BrowserError{Method: method, Cause: ctx.Err()}
	case <-c.done:
		c.waiters.Delete(id)
		return nil, &tabctlerrors.BrowserError{Method: method, Cause: fmt.Errorf("connection closed")}
	}
}

// Close closes the WebSocket connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
