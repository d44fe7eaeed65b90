package wireframe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Structural limits enforced on model output.
const (
	MaxDepth = 64
	MaxNodes = 10000
)

// DefaultAllowlist is the set of node types accepted from the model.
// Entries are glob patterns matched case-insensitively.
var DefaultAllowlist = []string{
	"frame", "text", "button", "input", "rectangle", "image",
	"list", "navigation", "card", "avatar", "vector",
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid wireframe")

// Validator checks model-produced trees against the structural contract:
// root type present, allowlisted node types, bounded depth and node count,
// and no cycles.
type Validator struct {
	allow    []glob.Glob
	maxDepth int
	maxNodes int
}

// NewValidator compiles the given type allowlist. Patterns may use glob
// syntax ("nav*"); an empty list falls back to DefaultAllowlist.
func NewValidator(allowlist []string) (*Validator, error) {
	if len(allowlist) == 0 {
		allowlist = DefaultAllowlist
	}
	globs := make([]glob.Glob, 0, len(allowlist))
	for _, pattern := range allowlist {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("allowlist pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return &Validator{
		allow:    globs,
		maxDepth: MaxDepth,
		maxNodes: MaxNodes,
	}, nil
}

// Validate walks the tree and returns the first structural violation found,
// wrapped around ErrInvalid.
func (v *Validator) Validate(root *Node) error {
	if root == nil {
		return fmt.Errorf("%w: document is empty", ErrInvalid)
	}
	if root.Type == "" {
		return fmt.Errorf("%w: root node has no type", ErrInvalid)
	}
	seen := make(map[*Node]bool)
	count := 0
	return v.check(root, 1, seen, &count)
}

func (v *Validator) check(n *Node, depth int, seen map[*Node]bool, count *int) error {
	if seen[n] {
		return fmt.Errorf("%w: cycle detected at %q", ErrInvalid, n.Label())
	}
	seen[n] = true

	if depth > v.maxDepth {
		return fmt.Errorf("%w: depth exceeds %d", ErrInvalid, v.maxDepth)
	}
	*count++
	if *count > v.maxNodes {
		return fmt.Errorf("%w: node count exceeds %d", ErrInvalid, v.maxNodes)
	}
	if n.Type == "" {
		return fmt.Errorf("%w: node %q has no type", ErrInvalid, n.Label())
	}
	if !v.typeAllowed(n.Type) {
		return fmt.Errorf("%w: unsupported node type %q", ErrInvalid, n.Type)
	}
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("%w: null child under %q", ErrInvalid, n.Label())
		}
		if err := v.check(c, depth+1, seen, count); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) typeAllowed(nodeType string) bool {
	t := strings.ToLower(nodeType)
	for _, g := range v.allow {
		if g.Match(t) {
			return true
		}
	}
	return false
}
