package wireframe

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ChangeSummary is a coarse structural comparison of two versions. The
// counts are exact; the description wording is advisory only.
type ChangeSummary struct {
	NodesAdded    int      `json:"nodes_added"`
	NodesRemoved  int      `json:"nodes_removed"`
	NodesModified int      `json:"nodes_modified"`
	ChangedProps  []string `json:"changed_props,omitempty"`
	Description   string   `json:"description"`
}

// TotalChanged returns the number of nodes touched by the change.
func (s *ChangeSummary) TotalChanged() int {
	return s.NodesAdded + s.NodesRemoved + s.NodesModified
}

// Diff compares two trees node-by-node. Nodes are matched by componentName
// when set, falling back to their label path, so renames count as a
// remove plus an add.
func Diff(from, to *Node) *ChangeSummary {
	older := index(from)
	newer := index(to)

	summary := &ChangeSummary{}
	propKeys := make(map[string]bool)

	for key, newNode := range newer {
		oldNode, ok := older[key]
		if !ok {
			summary.NodesAdded++
			continue
		}
		changed := changedPropKeys(oldNode, newNode)
		if len(changed) > 0 || oldNode.Type != newNode.Type {
			summary.NodesModified++
			for _, k := range changed {
				propKeys[k] = true
			}
		}
	}
	for key := range older {
		if _, ok := newer[key]; !ok {
			summary.NodesRemoved++
		}
	}

	for k := range propKeys {
		summary.ChangedProps = append(summary.ChangedProps, k)
	}
	sort.Strings(summary.ChangedProps)
	summary.Description = describe(summary)
	return summary
}

// index maps each node to a stable identity: its componentName, or its
// label path when unnamed. Duplicate names are disambiguated by order of
// appearance so counts stay exact.
func index(root *Node) map[string]*Node {
	out := make(map[string]*Node)
	if root == nil {
		return out
	}
	seen := make(map[string]int)
	root.Walk(func(n *Node, path string, _ int) bool {
		key := n.ComponentName
		if key == "" {
			key = path
		}
		seen[key]++
		if c := seen[key]; c > 1 {
			key = fmt.Sprintf("%s#%d", key, c)
		}
		out[key] = n
		return true
	})
	return out
}

func changedPropKeys(a, b *Node) []string {
	var keys []string
	for k, bv := range b.Props {
		av, ok := a.Props[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			keys = append(keys, k)
		}
	}
	for k := range a.Props {
		if _, ok := b.Props[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func describe(s *ChangeSummary) string {
	if s.TotalChanged() == 0 {
		return "no structural changes"
	}
	var parts []string
	if s.NodesAdded > 0 {
		parts = append(parts, fmt.Sprintf("%d added", s.NodesAdded))
	}
	if s.NodesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", s.NodesRemoved))
	}
	if s.NodesModified > 0 {
		modified := fmt.Sprintf("%d modified", s.NodesModified)
		if len(s.ChangedProps) > 0 {
			modified += fmt.Sprintf(" (%s)", strings.Join(s.ChangedProps, ", "))
		}
		parts = append(parts, modified)
	}
	return strings.Join(parts, ", ")
}
