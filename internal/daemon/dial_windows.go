//go:build windows

package daemon

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// dial connects to the daemon named pipe. addr is the Unix-socket-shaped
// session path; it's mapped through the same pipeName scheme listen uses.
func dial(addr string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return winio.DialPipeContext(ctx, pipeName(addr))
}
