package main

import (
	"github.com/spf13/cobra"
)

func newDomQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dom-query <selector>",
		Short: "Query elements matching a CSS selector and cache their indices",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{
				"type": "dom_query_request", "sessionId": newSessionID(),
				"selector": args[0],
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	return cmd
}

func newDomGetCmd() *cobra.Command {
	var index int
	var selector string
	var nodeID int
	var nth int
	var all bool

	cmd := &cobra.Command{
		Use:   "dom-get",
		Short: "Fetch tag, attributes, classes, and outer HTML for a resolved element",
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{"type": "dom_get_request", "sessionId": newSessionID()}
			addElementRef(req, index, selector, nodeID, nth)
			if all {
				req["all"] = true
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "Cached query result index (from dom-query)")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector to resolve directly")
	cmd.Flags().IntVar(&nodeID, "node-id", 0, "A raw CDP node id")
	cmd.Flags().IntVar(&nth, "nth", -1, "Narrow a selector match to the nth element (1-based)")
	cmd.Flags().BoolVar(&all, "all", false, "Return every match instead of just the first")
	return cmd
}

func newDomHighlightCmd() *cobra.Command {
	var index int
	var selector string
	var nodeID int
	var nth int
	var first bool
	var color string
	var opacity string

	cmd := &cobra.Command{
		Use:   "dom-highlight",
		Short: "Draw the browser's inspector overlay over a resolved element",
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{"type": "dom_highlight_request", "sessionId": newSessionID()}
			addElementRef(req, index, selector, nodeID, nth)
			if first {
				req["first"] = true
			}
			if color != "" {
				req["color"] = color
			}
			if opacity != "" {
				req["opacity"] = opacity
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().IntVar(&index, "index", -1, "Cached query result index (from dom-query)")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector to resolve directly")
	cmd.Flags().IntVar(&nodeID, "node-id", 0, "A raw CDP node id")
	cmd.Flags().IntVar(&nth, "nth", -1, "Narrow a selector match to the nth element (1-based)")
	cmd.Flags().BoolVar(&first, "first", false, "Highlight only the first match")
	cmd.Flags().StringVar(&color, "color", "", "Overlay fill color (rgba css)")
	cmd.Flags().StringVar(&opacity, "opacity", "", "Overlay opacity, appended to color")
	return cmd
}

func newDomScreenshotCmd() *cobra.Command {
	var (
		path     string
		format   string
		quality  int
		fullPage bool
	)

	cmd := &cobra.Command{
		Use:   "dom-screenshot",
		Short: "Capture a screenshot to a file",
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{
				"type": "dom_screenshot_request", "sessionId": newSessionID(),
				"path": path, "fullPage": fullPage,
			}
			if format != "" {
				req["format"] = format
			}
			if quality > 0 {
				req["quality"] = quality
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Output file path")
	cmd.Flags().StringVar(&format, "format", "png", "Image format: png or jpeg")
	cmd.Flags().IntVar(&quality, "quality", 0, "JPEG quality 0-100 (jpeg only)")
	cmd.Flags().BoolVar(&fullPage, "full-page", true, "Capture the full scrollable page rather than the viewport")
	cmd.MarkFlagRequired("path")
	return cmd
}

// addElementRef fills req with whichever element-reference field the user
// supplied; resolveElement (worker side) tries nodeId, then index, then
// selector, in that order.
func addElementRef(req map[string]any, index int, selector string, nodeID int, nth int) {
	if nodeID != 0 {
		req["nodeId"] = nodeID
	}
	if index >= 0 {
		req["index"] = index
	}
	if selector != "" {
		req["selector"] = selector
	}
	if nth >= 0 {
		req["nth"] = nth
	}
}
