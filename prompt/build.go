package prompt

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/wireframe"
)

// Build produces the augmented prompt handed to the model. It carries the
// edit instruction verbatim, a compact projection of the current document,
// summaries of the most recent context entries (at most the window size),
// and the resolved target identifiers, followed by the replace-the-whole-
// document instruction.
func Build(editPrompt string, current *wireframe.Node, ring []*wireflow.ContextEntry, targets []string) string {
	var b strings.Builder

	b.WriteString("Current wireframe document:\n")
	b.WriteString(wireframe.Project(current))
	b.WriteString("\n\n")

	if len(ring) > 0 {
		entries := ring
		if len(entries) > wireflow.ContextWindowSize {
			entries = entries[len(entries)-wireflow.ContextWindowSize:]
		}
		b.WriteString("Recent edits (oldest first):\n")
		for _, entry := range entries {
			fmt.Fprintf(&b, "- [%s] %q", entry.EditType, entry.Prompt)
			if len(entry.TargetElements) > 0 {
				fmt.Fprintf(&b, " -> %s", strings.Join(entry.TargetElements, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(targets) > 0 {
		fmt.Fprintf(&b, "The edit below refers to: %s\n\n", strings.Join(targets, ", "))
	}

	fmt.Fprintf(&b, "Edit instruction: %s\n\n", editPrompt)

	b.WriteString("Apply the edit to the wireframe and return the complete " +
		"updated document as a single JSON object. Return the entire " +
		"document, not a diff, with no commentary.")

	return b.String()
}

// BuildInitial produces the prompt for the first generation of a session.
func BuildInitial(userPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design a wireframe for: %s\n\n", userPrompt)
	b.WriteString("Return the complete wireframe as a single JSON object. " +
		"The root node must be a frame. Use only these node types: " +
		strings.Join(wireframe.DefaultAllowlist, ", ") + ".")
	return b.String()
}
