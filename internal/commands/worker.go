package commands

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tabctl/tabctl/internal/tabctlerrors"
	"github.com/tabctl/tabctl/internal/telemetry"
)

const maxPeekWindow = 100

// WorkerPeekParams is worker_peek's parameter shape.
type WorkerPeekParams struct {
	LastN int `json:"lastN,omitempty"`
}

// NetworkPreview is a trimmed network record, as returned by worker_peek
// (spec.md §4.4: "trimmed network entries expose only id, timestamp,
// method, url, status, mime").
type NetworkPreview struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	MimeType  string    `json:"mimeType,omitempty"`
}

// WorkerPeekResult is worker_peek's result shape.
type WorkerPeekResult struct {
	Version   string                     `json:"version"`
	StartTime string                     `json:"startTime"`
	Duration  int64                      `json:"duration"`
	Target    telemetry.TargetInfo       `json:"target"`
	Network   []NetworkPreview           `json:"network"`
	Console   []telemetry.ConsoleMessage `json:"console"`
}

func handleWorkerPeek(_ context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params WorkerPeekParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.LastN <= 0 {
		params.LastN = 10
	}
	if params.LastN > maxPeekWindow {
		params.LastN = maxPeekWindow
	}

	network, console := c.Store.Peek(params.LastN)
	previews := make([]NetworkPreview, 0, len(network))
	for _, n := range network {
		previews = append(previews, NetworkPreview{
			ID: n.RequestID, Timestamp: n.Timestamp, Method: n.Method,
			URL: n.URL, Status: n.Status, MimeType: n.MimeType,
		})
	}

	start := c.Store.SessionStart()
	return WorkerPeekResult{
		Version:   telemetry.SchemaVersion,
		StartTime: start.Format(time.RFC3339),
		Duration:  time.Since(start).Milliseconds(),
		Target:    c.Store.TargetInfo(),
		Network:   previews,
		Console:   console,
	}, nil
}

// WorkerDetailsParams is worker_details's parameter shape.
type WorkerDetailsParams struct {
	ItemType string `json:"itemType"`
	ID       string `json:"id"`
}

// WorkerDetailsResult is worker_details's result shape.
type WorkerDetailsResult struct {
	Item any `json:"item"`
}

func handleWorkerDetails(_ context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params WorkerDetailsParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	switch params.ItemType {
	case "network":
		record, ok := c.Store.NetworkByID(params.ID)
		if !ok {
			return nil, &tabctlerrors.NotFoundError{Kind: "network request", Key: params.ID}
		}
		return WorkerDetailsResult{Item: record}, nil

	case "console":
		index, err := strconv.Atoi(params.ID)
		if err != nil || index < 0 {
			return nil, &tabctlerrors.ValidationError{Message: "console id must be a non-negative integer index"}
		}
		record, ok := c.Store.ConsoleByIndex(index)
		if !ok {
			count := c.Store.ConsoleCount()
			return nil, &tabctlerrors.ValidationError{Message: invalidConsoleIndexMsg(index, count)}
		}
		return WorkerDetailsResult{Item: record}, nil

	default:
		return nil, &tabctlerrors.ValidationError{Message: "itemType must be network or console"}
	}
}

func invalidConsoleIndexMsg(index, count int) string {
	if count == 0 {
		return "no console messages captured yet"
	}
	return "console index " + strconv.Itoa(index) + " out of range [0," + strconv.Itoa(count-1) + "]"
}

// WorkerStatusParams is worker_status's (empty) parameter shape.
type WorkerStatusParams struct{}

// ActivitySummary is the live activity counters included in worker_status.
type ActivitySummary struct {
	NetworkRequestsCaptured int        `json:"networkRequestsCaptured"`
	ConsoleMessagesCaptured int        `json:"consoleMessagesCaptured"`
	LastNetworkRequestAt    *time.Time `json:"lastNetworkRequestAt,omitempty"`
	LastConsoleMessageAt    *time.Time `json:"lastConsoleMessageAt,omitempty"`
}

// WorkerStatusResult is worker_status's result shape.
type WorkerStatusResult struct {
	StartTime       string               `json:"startTime"`
	Duration        int64                `json:"duration"`
	Target          telemetry.TargetInfo `json:"target"`
	ActiveTelemetry []string             `json:"activeTelemetry"`
	Activity        ActivitySummary      `json:"activity"`
}

func handleWorkerStatus(_ context.Context, c *Context, _ json.RawMessage) (any, error) {
	networkCount, consoleCount := c.Store.Counts()
	lastNetwork, lastConsole := c.Store.LastTimestamps()
	start := c.Store.SessionStart()

	return WorkerStatusResult{
		StartTime:       start.Format(time.RFC3339),
		Duration:        time.Since(start).Milliseconds(),
		Target:          c.Store.TargetInfo(),
		ActiveTelemetry: c.Store.ActiveTelemetry(),
		Activity: ActivitySummary{
			NetworkRequestsCaptured: networkCount,
			ConsoleMessagesCaptured: consoleCount,
			LastNetworkRequestAt:    lastNetwork,
			LastConsoleMessageAt:    lastConsole,
		},
	}, nil
}

// CdpCallParams is cdp_call's parameter shape: a direct passthrough to the
// browser's remote-debugging endpoint.
type CdpCallParams struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CdpCallResult is cdp_call's result shape.
type CdpCallResult struct {
	Result json.RawMessage `json:"result"`
}

func handleCdpCall(ctx context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params CdpCallParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Method == "" {
		return nil, &tabctlerrors.ValidationError{Message: "method is required"}
	}

	var cdpParams any
	if len(params.Params) > 0 {
		cdpParams = params.Params
	} else {
		cdpParams = map[string]any{}
	}

	result, err := c.Conn.SendToSession(ctx, c.SessionID, params.Method, cdpParams)
	if err != nil {
		return nil, err
	}
	return CdpCallResult{Result: result}, nil
}
