// Package prompt is the context engine of the edit pipeline: it classifies
// edit prompts, resolves anaphoric references against the current document
// and the recent context ring, and builds the augmented prompt handed to
// the model. Classify and Resolve are pure functions; identical inputs
// always produce identical outputs.
package prompt

import (
	"regexp"
	"strings"

	"github.com/deepnoodle-ai/wireflow"
)

var (
	removeVerbs = []string{"remove", "delete", "drop", "get rid of", "erase", "clear out"}
	addVerbs    = []string{"add", "insert", "create", "include", "append", "put in", "attach"}
	changeVerbs = []string{"change", "make", "set", "turn", "update", "adjust"}

	styleTokens = []string{
		"color", "colour", "blue", "red", "green", "yellow", "orange",
		"purple", "pink", "black", "white", "gray", "grey", "dark", "light",
		"bigger", "smaller", "larger", "wider", "taller", "narrower",
		"bold", "italic", "font", "background", "border", "shadow",
		"rounded", "opacity", "size",
	}
	layoutTokens = []string{
		"align", "move", "arrange", "rearrange", "reorder", "position",
		"stack", "row", "column", "grid", "spacing", "margin", "padding",
		"center", "centre", "left", "right", "top", "bottom", "layout",
		"horizontal", "vertical", "side by side",
	}
)

var wordSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Classify assigns an edit type to a prompt using deterministic keyword
// rules. Ambiguous prompts default to modify.
func Classify(editPrompt string) wireflow.EditType {
	lower := strings.ToLower(editPrompt)
	words := tokenSet(lower)

	if containsAny(lower, words, removeVerbs) {
		return wireflow.EditTypeRemove
	}
	if containsAny(lower, words, addVerbs) {
		return wireflow.EditTypeAdd
	}

	hasStyle := containsAny(lower, words, styleTokens)
	hasLayout := containsAny(lower, words, layoutTokens)
	hasChange := containsAny(lower, words, changeVerbs)

	switch {
	case hasLayout && (hasChange || !hasStyle):
		return wireflow.EditTypeLayout
	case hasStyle:
		return wireflow.EditTypeStyle
	default:
		return wireflow.EditTypeModify
	}
}

// requiresReferent reports whether the edit type needs a resolvable target.
func requiresReferent(t wireflow.EditType) bool {
	switch t {
	case wireflow.EditTypeModify, wireflow.EditTypeRemove, wireflow.EditTypeStyle:
		return true
	default:
		return false
	}
}

func tokenSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range wordSplit.Split(lower, -1) {
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// containsAny matches single-word keywords against the token set and
// multi-word keywords as substrings, so "get rid of" works without
// "rid" alone triggering anything.
func containsAny(lower string, words map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
		} else if words[kw] {
			return true
		}
	}
	return false
}
