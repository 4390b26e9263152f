package ipc

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Type string `json:"type"`
	N    int    `json:"n"`
}

func TestDecoder_TwoMessagesOneChunk(t *testing.T) {
	m1, _ := json.Marshal(sample{Type: "a", N: 1})
	m2, _ := json.Marshal(sample{Type: "b", N: 2})
	buf := bytes.NewBuffer(append(append(m1, '\n'), append(m2, '\n')...))

	d := NewDecoder(buf)
	var got []sample
	err := d.Each(func(raw json.RawMessage) bool {
		var s sample
		require.NoError(t, json.Unmarshal(raw, &s))
		got = append(got, s)
		return true
	})
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Type)
	assert.Equal(t, "b", got[1].Type)
}

// pipeReader lets a test drip bytes into a Decoder across multiple writes
// with a delay between them, simulating fragmented delivery.
type pipeReader struct {
	chunks [][]byte
	delay  time.Duration
}

func (p *pipeReader) Read(buf []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	p.chunks = p.chunks[1:]
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return copy(buf, chunk), nil
}

func TestDecoder_FragmentedUTF8(t *testing.T) {
	msg, _ := json.Marshal(sample{Type: "héllo-wörld", N: 7})
	line := append(msg, '\n')

	// Bisect between the lead and continuation byte of the two-byte "é", so
	// the first chunk ends in the middle of a UTF-8 sequence.
	mid := bytes.Index(line, []byte("é")) + 1
	r := &pipeReader{chunks: [][]byte{line[:mid], line[mid:]}}

	d := NewDecoder(r)
	got, err := d.Next()
	require.NoError(t, err)

	var s sample
	require.NoError(t, json.Unmarshal(got, &s))
	assert.Equal(t, "héllo-wörld", s.Type)
	assert.Equal(t, 7, s.N)
}

func TestDecoder_EmptyAndWhitespaceLinesSkipped(t *testing.T) {
	input := "\n   \n" + `{"type":"x","n":1}` + "\n\t\n"
	d := NewDecoder(strings.NewReader(input))

	got, err := d.Next()
	require.NoError(t, err)
	var s sample
	require.NoError(t, json.Unmarshal(got, &s))
	assert.Equal(t, "x", s.Type)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_MalformedLinesSkippedNotFatal(t *testing.T) {
	input := "not json at all\n" + `{"type":"ok","n":9}` + "\n{also not json\n"
	d := NewDecoder(strings.NewReader(input))

	got, err := d.Next()
	require.NoError(t, err)
	var s sample
	require.NoError(t, json.Unmarshal(got, &s))
	assert.Equal(t, "ok", s.Type)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoder_PartialTrailingLineWaits(t *testing.T) {
	msg, _ := json.Marshal(sample{Type: "partial", N: 3})
	r := &pipeReader{chunks: [][]byte{msg[:len(msg)-2], msg[len(msg)-2:], []byte("\n")}}

	d := NewDecoder(r)
	got, err := d.Next()
	require.NoError(t, err)
	var s sample
	require.NoError(t, json.Unmarshal(got, &s))
	assert.Equal(t, "partial", s.Type)
}

func TestEncoder_EncodesOneLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)

	require.NoError(t, e.Encode(sample{Type: "x", N: 1}))
	require.NoError(t, e.Encode(sample{Type: "y", N: 2}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var s1, s2 sample
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &s1))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &s2))
	assert.Equal(t, "x", s1.Type)
	assert.Equal(t, "y", s2.Type)
}

func TestDecoder_CRLFInput(t *testing.T) {
	input := `{"type":"crlf","n":1}` + "\r\n"
	d := NewDecoder(strings.NewReader(input))
	got, err := d.Next()
	require.NoError(t, err)
	var s sample
	require.NoError(t, json.Unmarshal(got, &s))
	assert.Equal(t, "crlf", s.Type)
}
