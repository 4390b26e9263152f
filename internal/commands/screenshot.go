package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctlerrors"
)

// DomScreenshotParams is dom_screenshot's parameter shape.
type DomScreenshotParams struct {
	Path     string `json:"path"`
	Format   string `json:"format,omitempty"`   // "png" or "jpeg", default "png"
	Quality  *int   `json:"quality,omitempty"`  // jpeg only, 0-100
	FullPage *bool  `json:"fullPage,omitempty"` // default true
}

// Viewport records the viewport dimensions used for a non-full-page
// screenshot.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DomScreenshotResult is dom_screenshot's result shape.
type DomScreenshotResult struct {
	Path     string    `json:"path"`
	Format   string    `json:"format"`
	Quality  *int      `json:"quality,omitempty"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Size     int       `json:"size"`
	Viewport *Viewport `json:"viewport,omitempty"`
	FullPage bool      `json:"fullPage"`
}

func handleDomScreenshot(ctx context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params DomScreenshotParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Path == "" {
		return nil, &tabctlerrors.ValidationError{Message: "path is required"}
	}

	format := params.Format
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "jpeg" {
		return nil, &tabctlerrors.ValidationError{Message: fmt.Sprintf("unsupported format %q (want png or jpeg)", format)}
	}
	if params.Quality != nil {
		if format != "jpeg" {
			return nil, &tabctlerrors.ValidationError{Message: "quality is only valid for jpeg"}
		}
		if *params.Quality < 0 || *params.Quality > 100 {
			return nil, &tabctlerrors.ValidationError{Message: fmt.Sprintf("quality %d out of range [0,100]", *params.Quality)}
		}
	}

	// FullPage defaults to true: a nil pointer means "true" everywhere it's
	// read, so this is the one place the default lives (SPEC_FULL §7).
	fullPage := true
	if params.FullPage != nil {
		fullPage = *params.FullPage
	}

	layoutResult, err := c.Conn.SendToSession(ctx, c.SessionID, "Page.getLayoutMetrics", nil)
	if err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "Page.getLayoutMetrics", Cause: err}
	}
	var layout struct {
		LayoutViewport struct {
			ClientWidth  int `json:"clientWidth"`
			ClientHeight int `json:"clientHeight"`
		} `json:"layoutViewport"`
		CSSContentSize struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"cssContentSize"`
	}
	json.Unmarshal(layoutResult, &layout)

	captureParams := map[string]any{"format": format}
	if params.Quality != nil {
		captureParams["quality"] = *params.Quality
	}

	width, height := layout.LayoutViewport.ClientWidth, layout.LayoutViewport.ClientHeight
	var viewportOut *Viewport
	if fullPage {
		width, height = int(layout.CSSContentSize.Width), int(layout.CSSContentSize.Height)
		captureParams["captureBeyondViewport"] = true
		captureParams["clip"] = map[string]any{
			"x": 0, "y": 0,
			"width": layout.CSSContentSize.Width, "height": layout.CSSContentSize.Height,
			"scale": 1,
		}
	} else {
		viewportOut = &Viewport{Width: width, Height: height}
	}

	captureResult, err := c.Conn.SendToSession(ctx, c.SessionID, "Page.captureScreenshot", captureParams)
	if err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "Page.captureScreenshot", Cause: err}
	}
	var capture struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(captureResult, &capture); err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "Page.captureScreenshot", Cause: err}
	}

	imgBytes, err := base64.StdEncoding.DecodeString(capture.Data)
	if err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "Page.captureScreenshot", Cause: fmt.Errorf("decode screenshot data: %w", err)}
	}

	if err := os.MkdirAll(filepath.Dir(params.Path), 0755); err != nil {
		return nil, fmt.Errorf("create screenshot directory: %w", err)
	}
	if err := session.WriteAtomicBytes(params.Path, imgBytes); err != nil {
		return nil, fmt.Errorf("write screenshot: %w", err)
	}

	return DomScreenshotResult{
		Path: params.Path, Format: format, Quality: params.Quality,
		Width: width, Height: height, Size: len(imgBytes),
		Viewport: viewportOut, FullPage: fullPage,
	}, nil
}
