// Package wireframe models the design document as an opaque tagged tree.
// Only a handful of fields are addressable (type, componentName, props,
// children); everything else round-trips untouched. This keeps the engine
// forward compatible with whatever the model emits and decoupled from any
// renderer's richer types.
package wireframe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Node is one element of the wireframe tree.
type Node struct {
	Type          string         `json:"type"`
	ComponentName string         `json:"componentName,omitempty"`
	Props         map[string]any `json:"props,omitempty"`
	Children      []*Node        `json:"children,omitempty"`
}

// nodeAlias avoids UnmarshalJSON recursion and lets children arrive as an
// array, a single object, or a bare string.
type nodeAlias struct {
	Type          string          `json:"type"`
	ComponentName string          `json:"componentName"`
	Props         map[string]any  `json:"props"`
	Children      json.RawMessage `json:"children"`
}

// UnmarshalJSON decodes a node, coercing a single-object children value
// into a one-element sequence and migrating a bare string child into
// props.text.
func (n *Node) UnmarshalJSON(data []byte) error {
	var a nodeAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	n.Type = a.Type
	n.ComponentName = a.ComponentName
	n.Props = a.Props
	n.Children = nil

	raw := strings.TrimSpace(string(a.Children))
	switch {
	case raw == "" || raw == "null":
	case raw[0] == '[':
		var children []*Node
		if err := json.Unmarshal(a.Children, &children); err != nil {
			return fmt.Errorf("children: %w", err)
		}
		n.Children = children
	case raw[0] == '{':
		var child Node
		if err := json.Unmarshal(a.Children, &child); err != nil {
			return fmt.Errorf("children: %w", err)
		}
		n.Children = []*Node{&child}
	case raw[0] == '"':
		var text string
		if err := json.Unmarshal(a.Children, &text); err != nil {
			return fmt.Errorf("children: %w", err)
		}
		if n.Props == nil {
			n.Props = make(map[string]any)
		}
		if _, exists := n.Props["text"]; !exists {
			n.Props["text"] = text
		}
	default:
		return fmt.Errorf("children must be a sequence, got %q", truncate(raw, 40))
	}
	return nil
}

// Parse decodes a wireframe document from JSON.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Type:          n.Type,
		ComponentName: n.ComponentName,
	}
	if n.Props != nil {
		cp.Props = make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			cp.Props[k] = v
		}
	}
	if len(n.Children) > 0 {
		cp.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return cp
}

// Label is the display identifier of a node: componentName when present,
// otherwise its type.
func (n *Node) Label() string {
	if n.ComponentName != "" {
		return n.ComponentName
	}
	return n.Type
}

// Walk visits the tree depth-first, parents before children. The visit
// function receives each node with its slash-joined label path and depth
// (root is depth 1); returning false stops the walk.
func (n *Node) Walk(visit func(node *Node, path string, depth int) bool) {
	if n == nil {
		return
	}
	walk(n, n.Label(), 1, visit)
}

func walk(n *Node, path string, depth int, visit func(*Node, string, int) bool) bool {
	if !visit(n, path, depth) {
		return false
	}
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		if !walk(c, path+"/"+c.Label(), depth+1, visit) {
			return false
		}
	}
	return true
}

// Count returns the total number of nodes in the tree.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node, string, int) bool {
		total++
		return true
	})
	return total
}

// Depth returns the maximum depth of the tree (root counts as 1).
func (n *Node) Depth() int {
	max := 0
	n.Walk(func(_ *Node, _ string, depth int) bool {
		if depth > max {
			max = depth
		}
		return true
	})
	return max
}

// FindByType returns all nodes whose type matches (case-insensitive), in
// document order, with their paths.
func (n *Node) FindByType(nodeType string) []Match {
	want := strings.ToLower(nodeType)
	var out []Match
	n.Walk(func(node *Node, path string, _ int) bool {
		if strings.ToLower(node.Type) == want {
			out = append(out, Match{Node: node, Path: path})
		}
		return true
	})
	return out
}

// FindByPath returns the node at the given label path, or nil.
func (n *Node) FindByPath(path string) *Node {
	var found *Node
	n.Walk(func(node *Node, p string, _ int) bool {
		if p == path {
			found = node
			return false
		}
		return true
	})
	return found
}

// Match pairs a node with its location in the tree.
type Match struct {
	Node *Node
	Path string
}

// Hash returns the hex SHA-256 of the canonical JSON encoding. Map keys are
// sorted by encoding/json, so equal trees hash equally.
func (n *Node) Hash() string {
	data, err := json.Marshal(n)
	if err != nil {
		// Node trees are built from JSON or literals; marshalling them
		// back cannot fail with the types involved.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
