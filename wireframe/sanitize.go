package wireframe

// Sanitize normalizes a parsed tree in place: nil children entries are
// dropped, empty props maps are removed, and a text node whose props lack
// text but whose single child is a text-bearing node keeps its structure
// untouched. The JSON-shape coercions (object children, string children)
// happen during unmarshalling; this pass cleans what survives it.
func Sanitize(n *Node) {
	if n == nil {
		return
	}
	if len(n.Props) == 0 {
		n.Props = nil
	}
	if len(n.Children) == 0 {
		n.Children = nil
		return
	}
	kept := n.Children[:0]
	for _, c := range n.Children {
		if c == nil {
			continue
		}
		Sanitize(c)
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		n.Children = nil
	} else {
		n.Children = kept
	}
}
