package prompt

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/wireframe"
)

// MaxCandidates caps the clarification candidate list.
const MaxCandidates = 5

// Resolution is the outcome of reference resolution. A non-empty
// Candidates list means the edit must not proceed to the model.
type Resolution struct {
	Targets    []string
	Candidates []wireflow.Candidate
}

// NeedsClarification reports whether resolution declined to pick a target.
func (r *Resolution) NeedsClarification() bool {
	return len(r.Candidates) > 0
}

var (
	pronounRe = regexp.MustCompile(`\b(it|this|that|them)\b`)
	// "the <type>" / "the <type> in <region>", e.g. "the button in the header"
	typedRefRe = regexp.MustCompile(`\bthe\s+([a-z]+)(?:\s+in\s+(?:the\s+)?([a-z][a-z ]*?))?(?:\s|$|[.,!?])`)
)

// Resolve maps the anaphoric references in an edit prompt to concrete node
// paths in the current wireframe. Resolution order is normative: the newest
// context entry, then a reverse-chronological walk of the ring, then a
// structural search of the document. When no referent is found and the edit
// type requires one, a clarification candidate list (newest first, max 5)
// is returned instead and the model must not be invoked.
func Resolve(editPrompt string, editType wireflow.EditType, root *wireframe.Node, ring []*wireflow.ContextEntry) *Resolution {
	lower := strings.ToLower(editPrompt)

	if typed := typedRefRe.FindStringSubmatch(lower); typed != nil && isKnownType(typed[1]) {
		return resolveTyped(typed[1], strings.TrimSpace(typed[2]), editType, root, ring)
	}
	if pronounRe.MatchString(lower) {
		return resolvePronoun(editType, root, ring)
	}

	// No reference in the prompt: the edit addresses the document itself.
	return &Resolution{Targets: []string{rootPath(root)}}
}

// resolvePronoun resolves a bare pronoun to the targets of the most recent
// committed edit. The implicit entry written at session creation is not an
// antecedent: with no prior edit, "remove it" has no safe referent and a
// referent-requiring edit is sent back for clarification rather than being
// aimed at the whole document.
func resolvePronoun(editType wireflow.EditType, root *wireframe.Node, ring []*wireflow.ContextEntry) *Resolution {
	for i := len(ring) - 1; i >= 0; i-- {
		entry := ring[i]
		if entry.ResultVersion <= 1 || len(entry.TargetElements) == 0 {
			continue
		}
		targets := existingTargets(entry.TargetElements, root)
		if len(targets) > 0 {
			return &Resolution{Targets: targets}
		}
	}
	if requiresReferent(editType) {
		return &Resolution{Candidates: candidates(root, ring)}
	}
	return &Resolution{Targets: []string{rootPath(root)}}
}

// resolveTyped resolves "the <type>" (optionally "in <region>") to the most
// recently touched node of that type.
func resolveTyped(nodeType, region string, editType wireflow.EditType, root *wireframe.Node, ring []*wireflow.ContextEntry) *Resolution {
	// Newest context entry first, then backwards through the ring.
	for i := len(ring) - 1; i >= 0; i-- {
		for _, target := range ring[i].TargetElements {
			node := root.FindByPath(target)
			if node == nil {
				continue
			}
			if !strings.EqualFold(node.Type, nodeType) {
				continue
			}
			if region != "" && !inRegion(target, region) {
				continue
			}
			return &Resolution{Targets: []string{target}}
		}
	}

	// Structural search of the current document, in document order.
	matches := root.FindByType(nodeType)
	if region != "" {
		var narrowed []wireframe.Match
		for _, m := range matches {
			if inRegion(m.Path, region) {
				narrowed = append(narrowed, m)
			}
		}
		matches = narrowed
	}
	if len(matches) > 0 {
		return &Resolution{Targets: []string{matches[0].Path}}
	}

	if requiresReferent(editType) {
		return &Resolution{Candidates: candidates(root, ring)}
	}
	return &Resolution{Targets: []string{rootPath(root)}}
}

// inRegion reports whether some ancestor segment of path matches the
// region name (substring, case-insensitive).
func inRegion(path, region string) bool {
	dir := strings.ToLower(path)
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	} else {
		return false
	}
	pattern := "**/*" + strings.ToLower(region) + "*"
	ok, err := doublestar.Match(pattern, dir)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	ok, err = doublestar.Match("*"+strings.ToLower(region)+"*", dir)
	return err == nil && ok
}

// candidates builds the clarification list: nodes named by recent edits
// first, then the root and its children in reverse document order.
func candidates(root *wireframe.Node, ring []*wireflow.ContextEntry) []wireflow.Candidate {
	var out []wireflow.Candidate
	seen := make(map[string]bool)

	appendNode := func(n *wireframe.Node, path string) {
		if n == nil || seen[path] || len(out) >= MaxCandidates {
			return
		}
		seen[path] = true
		out = append(out, wireflow.Candidate{
			ComponentName: n.ComponentName,
			Type:          n.Type,
			Path:          path,
		})
	}

	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].ResultVersion <= 1 {
			continue
		}
		for _, target := range ring[i].TargetElements {
			appendNode(root.FindByPath(target), target)
		}
	}

	appendNode(root, rootPath(root))
	for i := len(root.Children) - 1; i >= 0; i-- {
		c := root.Children[i]
		if c != nil {
			appendNode(c, rootPath(root)+"/"+c.Label())
		}
	}
	return out
}

// existingTargets filters target paths down to ones still present in the
// current document.
func existingTargets(targets []string, root *wireframe.Node) []string {
	var out []string
	for _, t := range targets {
		if root.FindByPath(t) != nil {
			out = append(out, t)
		}
	}
	return out
}

func rootPath(root *wireframe.Node) string {
	if root == nil {
		return ""
	}
	return root.Label()
}

func isKnownType(word string) bool {
	for _, t := range wireframe.DefaultAllowlist {
		if word == t {
			return true
		}
	}
	return false
}
