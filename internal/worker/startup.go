package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabctl/tabctl/internal/browserproc"
	"github.com/tabctl/tabctl/internal/cdptransport"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
	"github.com/tabctl/tabctl/internal/telemetry"
)

// cdpEvent is a local alias kept for readability at each Subscribe call
// site below.
type cdpEvent = cdptransport.Event

// acquireTarget implements spec.md §4.5 step 4: either attach to an
// externally supplied browser WebSocket URL, or launch a managed browser
// and pick its first page-type target.
func (w *Worker) acquireTarget(ctx context.Context) (browserproc.Target, error) {
	if w.opts.ExternalWS != "" {
		return browserproc.Target{
			ID:                   "external",
			Type:                 "page",
			WebSocketDebuggerURL: w.opts.ExternalWS,
		}, nil
	}

	handle, err := browserproc.Launch(browserproc.LaunchOptions{
		Port:        w.opts.Port,
		UserDataDir: w.opts.UserDataDir,
		Headless:    w.opts.Headless,
	})
	if err != nil {
		return browserproc.Target{}, &tabctlerrors.ConnectionError{URL: fmt.Sprintf("127.0.0.1:%d", w.opts.Port), Cause: err}
	}
	w.browser = handle

	if err := session.WritePID(w.paths.ChromePID, handle.PID()); err != nil {
		return browserproc.Target{}, fmt.Errorf("worker: cache browser pid: %w", err)
	}

	discoverCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var targets []browserproc.Target
	deadline := time.Now().Add(readyTimeout)
	for {
		targets, err = browserproc.DiscoverTargets(discoverCtx, w.opts.Port)
		if err == nil && len(targets) > 0 {
			break
		}
		if time.Now().After(deadline) {
			return browserproc.Target{}, fmt.Errorf("worker: browser did not expose any targets within %s (last error: %v)", readyTimeout, err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	page, err := browserproc.FirstPageTarget(targets)
	if err != nil {
		return browserproc.Target{}, fmt.Errorf("worker: %w", err)
	}
	return page, nil
}

// activateTelemetry enables the CDP domains for every requested telemetry
// kind and subscribes the store to their events. It must run before
// navigation (step 6): enabling network/console after the page has
// started loading would miss the initial events.
func (w *Worker) activateTelemetry(ctx context.Context) error {
	for _, kind := range w.opts.Telemetry {
		switch kind {
		case "network":
			if _, err := w.conn.SendToSession(ctx, "", "Network.enable", map[string]any{}); err != nil {
				return fmt.Errorf("enable Network domain: %w", err)
			}
			w.subscribeNetwork()
		case "console":
			if _, err := w.conn.SendToSession(ctx, "", "Runtime.enable", map[string]any{}); err != nil {
				return fmt.Errorf("enable Runtime domain: %w", err)
			}
			w.subscribeConsole()
		case "dom":
			if _, err := w.conn.SendToSession(ctx, "", "DOM.enable", map[string]any{}); err != nil {
				return fmt.Errorf("enable DOM domain: %w", err)
			}
		}
	}
	if _, err := w.conn.SendToSession(ctx, "", "Page.enable", map[string]any{}); err != nil {
		return fmt.Errorf("enable Page domain: %w", err)
	}
	w.subscribeNavigation()
	return nil
}

func (w *Worker) subscribeNetwork() {
	w.conn.Subscribe("Network.requestWillBeSent", func(ev cdpEvent) {
		var params struct {
			RequestID string `json:"requestId"`
			Request   struct {
				Method  string `json:"method"`
				URL     string `json:"url"`
				Headers map[string]string `json:"headers"`
			} `json:"request"`
			Type string `json:"type"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		w.store.AppendNetworkRequest(telemetry.NetworkRequest{
			RequestID:      params.RequestID,
			Method:         params.Request.Method,
			URL:            params.Request.URL,
			ResourceType:   params.Type,
			RequestHeaders: params.Request.Headers,
		})
	})

	w.conn.Subscribe("Network.responseReceived", func(ev cdpEvent) {
		var params struct {
			RequestID string `json:"requestId"`
			Response  struct {
				Status          int               `json:"status"`
				MimeType        string            `json:"mimeType"`
				Headers         map[string]string `json:"headers"`
			} `json:"response"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		w.store.UpdateNetworkRequest(params.RequestID, func(r *telemetry.NetworkRequest) {
			r.Status = params.Response.Status
			r.MimeType = params.Response.MimeType
			r.ResponseHeaders = params.Response.Headers
		})
	})

	w.conn.Subscribe("Network.loadingFailed", func(ev cdpEvent) {
		var params struct {
			RequestID     string `json:"requestId"`
			ErrorText     string `json:"errorText"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		w.store.UpdateNetworkRequest(params.RequestID, func(r *telemetry.NetworkRequest) {
			r.Failed = true
			r.Error = params.ErrorText
		})
	})
}

func (w *Worker) subscribeConsole() {
	w.conn.Subscribe("Runtime.consoleAPICalled", func(ev cdpEvent) {
		var params struct {
			Type string `json:"type"`
			Args []struct {
				Value       json.RawMessage `json:"value"`
				Description string          `json:"description"`
			} `json:"args"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		args := make([]string, 0, len(params.Args))
		for _, a := range params.Args {
			if a.Description != "" {
				args = append(args, a.Description)
			} else {
				args = append(args, string(a.Value))
			}
		}
		text := ""
		if len(args) > 0 {
			text = args[0]
		}
		w.store.AppendConsoleMessage(telemetry.ConsoleMessage{Level: params.Type, Text: text, Args: args})
	})

	w.conn.Subscribe("Runtime.exceptionThrown", func(ev cdpEvent) {
		var params struct {
			ExceptionDetails struct {
				Text      string `json:"text"`
				Exception struct {
					Description string `json:"description"`
				} `json:"exception"`
			} `json:"exceptionDetails"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		text := params.ExceptionDetails.Exception.Description
		if text == "" {
			text = params.ExceptionDetails.Text
		}
		w.store.AppendConsoleMessage(telemetry.ConsoleMessage{Level: "error", Text: text})
	})
}

func (w *Worker) subscribeNavigation() {
	w.conn.Subscribe("Page.frameNavigated", func(ev cdpEvent) {
		var params struct {
			Frame struct {
				ParentID string `json:"parentId"`
				URL      string `json:"url"`
			} `json:"frame"`
		}
		if json.Unmarshal(ev.Params, &params) != nil {
			return
		}
		if params.Frame.ParentID != "" {
			return // sub-frame navigation, not a main-frame one
		}
		id := w.store.AppendNavigation(params.Frame.URL)
		w.store.SetNavigationResolver(func() int { return id })
	})
}

// waitForPageReady blocks until the main frame reports load completion via
// Page.loadEventFired, bounded by pageReadyTimeout.
func (w *Worker) waitForPageReady(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, pageReadyTimeout)
	defer cancel()

	done := make(chan struct{}, 1)
	w.conn.Subscribe("Page.loadEventFired", func(cdpEvent) {
		select {
		case done <- struct{}{}:
		default:
		}
	})

	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
		return &tabctlerrors.TimeoutError{Timeout: pageReadyTimeout, Reason: "page load event never arrived"}
	}
}

// refreshTargetInfo re-reads the target's URL/title post-navigation (and
// any redirects) so the session metadata and worker_ready line reflect
// where the page actually ended up.
func (w *Worker) refreshTargetInfo(ctx context.Context) {
	result, err := w.conn.SendToSession(ctx, "", "Target.getTargetInfo", map[string]any{})
	if err != nil {
		return
	}
	var info struct {
		TargetInfo struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			URL      string `json:"url"`
			Title    string `json:"title"`
		} `json:"targetInfo"`
	}
	if json.Unmarshal(result, &info) != nil {
		return
	}
	current := w.store.TargetInfo()
	w.store.SetTargetInfo(telemetry.TargetInfo{
		ID: current.ID, Type: info.TargetInfo.Type,
		URL: info.TargetInfo.URL, Title: info.TargetInfo.Title, WSURL: current.WSURL,
	})
}

// captureFinalDOMSnapshot fetches the document's outer HTML for the
// session output's best-effort final DOM snapshot (lifecycle step 2).
func (w *Worker) captureFinalDOMSnapshot(ctx context.Context) error {
	result, err := w.conn.SendToSession(ctx, "", "DOM.getOuterHTML", map[string]any{"nodeId": 0})
	if err != nil {
		return err
	}
	var html struct {
		OuterHTML string `json:"outerHTML"`
	}
	if err := json.Unmarshal(result, &html); err != nil {
		return err
	}
	target := w.store.TargetInfo()
	w.store.SetDomData(telemetry.DOMSnapshot{URL: target.URL, Title: target.Title, OuterHTML: html.OuterHTML})
	return nil
}
