package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tabctl/tabctl/internal/tabctlerrors"
)

// DomQueryParams is dom_query's parameter shape: a single CSS selector.
type DomQueryParams struct {
	Selector string `json:"selector"`
}

// DomQueryNode is one match in a dom_query result.
type DomQueryNode struct {
	Index   int    `json:"index"` // 1-based
	NodeID  int    `json:"nodeId"`
	Tag     string `json:"tag,omitempty"`
	Classes string `json:"classes,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// DomQueryResult is dom_query's result shape.
type DomQueryResult struct {
	Selector string         `json:"selector"`
	Count    int            `json:"count"`
	Nodes    []DomQueryNode `json:"nodes"`
}

func handleDomQuery(ctx context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params DomQueryParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Selector == "" {
		return nil, &tabctlerrors.ValidationError{Message: "selector is required"}
	}

	nodeIDs, err := queryNodeIDs(ctx, c, params.Selector)
	if err != nil {
		return nil, err
	}

	byIndex := make(map[int]int, len(nodeIDs))
	nodes := make([]DomQueryNode, 0, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		index := i + 1
		byIndex[index] = nodeID

		node, err := describeNode(ctx, c, nodeID)
		qn := DomQueryNode{Index: index, NodeID: nodeID}
		if err == nil {
			qn.Tag = node.Tag
			if len(node.Classes) > 0 {
				qn.Classes = strings.Join(node.Classes, " ")
			}
			qn.Preview = previewHTML(node.OuterHTML)
		}
		nodes = append(nodes, qn)
	}

	if err := c.Cache.Set(params.Selector, byIndex); err != nil {
		// The in-memory cache is already authoritative; persistence failures
		// don't invalidate the command's result.
	}

	return DomQueryResult{Selector: params.Selector, Count: len(nodes), Nodes: nodes}, nil
}

// DomHighlightParams is dom_highlight's parameter shape.
type DomHighlightParams struct {
	NodeID   *int    `json:"nodeId,omitempty"`
	Index    *int    `json:"index,omitempty"`
	Selector *string `json:"selector,omitempty"`
	First    bool    `json:"first,omitempty"`
	Nth      *int    `json:"nth,omitempty"`
	Color    *string `json:"color,omitempty"`
	Opacity  *string `json:"opacity,omitempty"`
}

// DomHighlightResult is dom_highlight's result shape.
type DomHighlightResult struct {
	Highlighted bool  `json:"highlighted"`
	NodeIDs     []int `json:"nodeIds"`
}

func handleDomHighlight(ctx context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params DomHighlightParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	nodeIDs, err := resolveElement(ctx, c, elementRef{
		NodeID: params.NodeID, Index: params.Index, Selector: params.Selector,
		First: params.First, Nth: params.Nth,
	}, false)
	if err != nil {
		return nil, err
	}

	color := "rgba(255, 0, 0, 0.3)"
	if params.Color != nil {
		color = *params.Color
	}
	if params.Opacity != nil {
		color = fmt.Sprintf("%s/%s", color, *params.Opacity)
	}

	for _, nodeID := range nodeIDs {
		_, err := c.Conn.SendToSession(ctx, c.SessionID, "Overlay.highlightNode", map[string]any{
			"nodeId": nodeID,
			"highlightConfig": map[string]any{
				"contentColor": color,
			},
		})
		if err != nil {
			return nil, &tabctlerrors.BrowserError{Method: "Overlay.highlightNode", Cause: err}
		}
	}

	return DomHighlightResult{Highlighted: true, NodeIDs: nodeIDs}, nil
}

// DomGetParams is dom_get's parameter shape.
type DomGetParams struct {
	NodeID   *int    `json:"nodeId,omitempty"`
	Index    *int    `json:"index,omitempty"`
	Selector *string `json:"selector,omitempty"`
	All      bool    `json:"all,omitempty"`
	Nth      *int    `json:"nth,omitempty"`
}

// DomNode is one element's detail payload, returned by dom_get and
// embedded in dom_query's preview construction.
type DomNode struct {
	NodeID     int               `json:"nodeId"`
	Tag        string            `json:"tag,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	OuterHTML  string            `json:"outerHTML,omitempty"`
}

// DomGetResult is dom_get's result shape.
type DomGetResult struct {
	Nodes []DomNode `json:"nodes"`
}

func handleDomGet(ctx context.Context, c *Context, raw json.RawMessage) (any, error) {
	var params DomGetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	nodeIDs, err := resolveElement(ctx, c, elementRef{
		NodeID: params.NodeID, Index: params.Index, Selector: params.Selector, Nth: params.Nth,
	}, params.All)
	if err != nil {
		return nil, err
	}

	nodes := make([]DomNode, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		node, err := describeNode(ctx, c, nodeID)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return DomGetResult{Nodes: nodes}, nil
}

// previewHTML trims outerHTML to a short preview, matching the kind of
// truncated snippet a CSS-selector inspection tool shows by default.
func previewHTML(html string) string {
	const maxLen = 120
	if len(html) <= maxLen {
		return html
	}
	return html[:maxLen] + "…"
}
