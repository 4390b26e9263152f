// Package ipc implements the framed-stream codec: newline-delimited JSON
// over an arbitrary byte stream (a Unix socket, a child process's stdio
// pipe). One JSON object per line, UTF-8, LF-terminated. The codec never
// raises on malformed input — a bad line is logged and dropped, decoding
// resumes at the next line — and tolerates byte-level fragmentation,
// including a multi-byte UTF-8 sequence split across reads.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tabctl/tabctl/internal/tabctllog"
)

// maxLineSize bounds a single decoded line (10MB accommodates a base64
// screenshot payload riding along in a command result).
const maxLineSize = 10 * 1024 * 1024

// Decoder accumulates bytes from a reader and yields one decoded message per
// complete line. It owns a rolling carry buffer so fragmented writes never
// lose or corrupt a message.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r for line-oriented JSON decoding.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next blocks until the next well-formed decoded line is available,
// skipping empty lines and malformed JSON along the way. It returns
// io.EOF when the underlying reader is exhausted.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		line := bytes.TrimRight(d.scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if !json.Valid(line) {
			tabctllog.Debug("ipc: dropping malformed line", "bytes", len(line))
			continue
		}

		msg := make(json.RawMessage, len(line))
		copy(msg, line)
		return msg, nil
	}
}

// Each calls fn for every decoded line until the reader is exhausted or fn
// returns false. It returns the terminal error (io.EOF on clean close).
func (d *Decoder) Each(fn func(json.RawMessage) bool) error {
	for {
		msg, err := d.Next()
		if err != nil {
			return err
		}
		if !fn(msg) {
			return nil
		}
	}
}

// Encoder serializes values as single JSONL lines. Safe for concurrent use:
// the daemon's forwarder and its worker-exit handler may both write to the
// same underlying stream.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w for line-oriented JSON encoding.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it followed by a single newline.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
