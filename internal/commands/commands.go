// Package commands implements the worker's closed eight-command set
// (SPEC_FULL §6.4 / §7): typed parameter and result structs per command,
// registered in a dispatch table the worker's stdin loop consults after
// stripping the `_request` suffix from an incoming message's type.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tabctl/tabctl/internal/cdptransport"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
	"github.com/tabctl/tabctl/internal/telemetry"
)

// Context bundles everything a handler needs: the CDP session to issue
// commands against, the telemetry store to read from, and the query cache
// for index-based element resolution.
type Context struct {
	Conn      *cdptransport.Connection
	SessionID string
	Store     *telemetry.Store
	Cache     *QueryCache
}

// Handler executes one command, given its raw JSON params, and returns a
// result value to be marshaled into the `<command>_response` payload's
// `data` field.
type Handler func(ctx context.Context, c *Context, raw json.RawMessage) (any, error)

// Registry is the closed set of command name -> Handler.
var Registry = map[string]Handler{
	"dom_query":      handleDomQuery,
	"dom_highlight":  handleDomHighlight,
	"dom_get":        handleDomGet,
	"dom_screenshot": handleDomScreenshot,
	"worker_peek":    handleWorkerPeek,
	"worker_details": handleWorkerDetails,
	"worker_status":  handleWorkerStatus,
	"cdp_call":       handleCdpCall,
}

// Lookup returns the handler registered for name, or ok=false if name is
// not one of the eight recognized commands.
func Lookup(name string) (Handler, bool) {
	h, ok := Registry[name]
	return h, ok
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &tabctlerrors.ValidationError{Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
