//go:build windows

package daemon

import (
	"hash/fnv"
	"net"
	"strconv"

	winio "github.com/Microsoft/go-winio"
)

// listen creates a named pipe listener on Windows. socketPath is mapped to
// a pipe name under \\.\pipe\ by the caller, since session.Paths always
// produces a Unix-socket-shaped path.
func listen(socketPath string) (net.Listener, error) {
	return winio.ListenPipe(pipeName(socketPath), nil)
}

func pipeName(socketPath string) string {
	h := fnv.New64a()
	h.Write([]byte(socketPath))
	return `\\.\pipe\tabctl-` + strconv.FormatUint(h.Sum64(), 16)
}
