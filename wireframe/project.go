package wireframe

import "encoding/json"

// maxProjectedValue bounds how much of a long string prop survives the
// prompt projection. Keeps prompts compact without losing identity fields.
const maxProjectedValue = 60

// Project returns a compact single-line JSON rendering of the tree for
// inclusion in a model prompt. Long string prop values are truncated; the
// structure and all addressable fields are preserved.
func Project(n *Node) string {
	if n == nil {
		return "{}"
	}
	data, err := json.Marshal(project(n))
	if err != nil {
		return "{}"
	}
	return string(data)
}

func project(n *Node) *Node {
	cp := &Node{
		Type:          n.Type,
		ComponentName: n.ComponentName,
	}
	if len(n.Props) > 0 {
		cp.Props = make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			if s, ok := v.(string); ok && len(s) > maxProjectedValue {
				cp.Props[k] = s[:maxProjectedValue] + "..."
				continue
			}
			cp.Props[k] = v
		}
	}
	for _, c := range n.Children {
		if c != nil {
			cp.Children = append(cp.Children, project(c))
		}
	}
	return cp
}
