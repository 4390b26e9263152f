package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tabctl/tabctl/internal/tabctlerrors"
)

// elementRef is the uniform {nodeId|index|selector, first, nth} shape
// shared by dom_highlight and dom_get (SPEC_FULL §6.4).
type elementRef struct {
	NodeID   *int    `json:"nodeId,omitempty"`
	Index    *int    `json:"index,omitempty"`
	Selector *string `json:"selector,omitempty"`
	First    bool    `json:"first,omitempty"`
	Nth      *int    `json:"nth,omitempty"`
}

// resolveElement resolves one element reference to a concrete list of CDP
// nodeIds, per spec.md §4.4's uniform resolution rule: nodeId wins if
// given; else index is looked up in the query cache; else selector is
// queried fresh, and first/nth narrow a multi-match result to one (first
// is the default when neither is given and exactly one nodeId is wanted).
func resolveElement(ctx context.Context, c *Context, ref elementRef, wantAll bool) ([]int, error) {
	if ref.NodeID != nil {
		return []int{*ref.NodeID}, nil
	}

	if ref.Index != nil {
		nodeID, err := c.Cache.Lookup(*ref.Index)
		if err != nil {
			return nil, err
		}
		return []int{nodeID}, nil
	}

	if ref.Selector == nil || *ref.Selector == "" {
		return nil, &tabctlerrors.ValidationError{Message: "one of nodeId, index, or selector is required"}
	}

	nodeIDs, err := queryNodeIDs(ctx, c, *ref.Selector)
	if err != nil {
		return nil, err
	}
	if len(nodeIDs) == 0 {
		return nil, &tabctlerrors.NotFoundError{Kind: "selector", Key: *ref.Selector}
	}

	if wantAll {
		return nodeIDs, nil
	}

	if ref.Nth != nil {
		n := *ref.Nth
		if n < 1 || n > len(nodeIDs) {
			return nil, &tabctlerrors.ValidationError{Message: fmt.Sprintf("nth=%d out of range for %d matches", n, len(nodeIDs))}
		}
		return []int{nodeIDs[n-1]}, nil
	}

	// No nth given: first (explicit or default) wins.
	_ = ref.First
	return []int{nodeIDs[0]}, nil
}

// queryNodeIDs runs a CSS selector against the document and returns the
// matching CDP nodeIds, via DOM.getDocument + DOM.querySelectorAll.
func queryNodeIDs(ctx context.Context, c *Context, selector string) ([]int, error) {
	docResult, err := c.Conn.SendToSession(ctx, c.SessionID, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "DOM.getDocument", Cause: err}
	}
	var doc struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(docResult, &doc); err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "DOM.getDocument", Cause: err}
	}

	queryResult, err := c.Conn.SendToSession(ctx, c.SessionID, "DOM.querySelectorAll", map[string]any{
		"nodeId":   doc.Root.NodeID,
		"selector": selector,
	})
	if err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "DOM.querySelectorAll", Cause: err}
	}
	var matches struct {
		NodeIDs []int `json:"nodeIds"`
	}
	if err := json.Unmarshal(queryResult, &matches); err != nil {
		return nil, &tabctlerrors.BrowserError{Method: "DOM.querySelectorAll", Cause: err}
	}
	return matches.NodeIDs, nil
}

// describeNode fetches tag name, classes, attributes and outerHTML for a
// single CDP nodeId, tolerating a partially failed detail fetch (e.g.
// outerHTML unavailable for a detached node) by leaving those fields zero.
func describeNode(ctx context.Context, c *Context, nodeID int) (DomNode, error) {
	node := DomNode{NodeID: nodeID}

	descResult, err := c.Conn.SendToSession(ctx, c.SessionID, "DOM.describeNode", map[string]any{"nodeId": nodeID})
	if err != nil {
		return node, &tabctlerrors.BrowserError{Method: "DOM.describeNode", Cause: err}
	}
	var desc struct {
		Node struct {
			NodeName   string   `json:"nodeName"`
			Attributes []string `json:"attributes"`
		} `json:"node"`
	}
	if err := json.Unmarshal(descResult, &desc); err == nil {
		node.Tag = desc.Node.NodeName
		node.Attributes = attrPairsToMap(desc.Node.Attributes)
		if classes, ok := node.Attributes["class"]; ok {
			node.Classes = splitClasses(classes)
		}
	}

	htmlResult, err := c.Conn.SendToSession(ctx, c.SessionID, "DOM.getOuterHTML", map[string]any{"nodeId": nodeID})
	if err == nil {
		var html struct {
			OuterHTML string `json:"outerHTML"`
		}
		if json.Unmarshal(htmlResult, &html) == nil {
			node.OuterHTML = html.OuterHTML
		}
	}

	return node, nil
}

func attrPairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

func splitClasses(class string) []string {
	var out []string
	start := -1
	for i, r := range class + " " {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, class[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return out
}
