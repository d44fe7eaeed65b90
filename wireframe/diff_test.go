package wireframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffNoChanges(t *testing.T) {
	a := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "button", ComponentName: "Submit", Props: map[string]any{"color": "blue"}},
	}}
	s := Diff(a, a.Clone())
	assert.Equal(t, 0, s.TotalChanged())
	assert.Equal(t, "no structural changes", s.Description)
}

func TestDiffAddRemoveModify(t *testing.T) {
	from := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "button", ComponentName: "Submit", Props: map[string]any{"color": "blue"}},
		{Type: "text", ComponentName: "Title"},
	}}
	to := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "button", ComponentName: "Submit", Props: map[string]any{"color": "green"}},
		{Type: "input", ComponentName: "Email"},
	}}

	s := Diff(from, to)
	assert.Equal(t, 1, s.NodesAdded)
	assert.Equal(t, 1, s.NodesRemoved)
	assert.Equal(t, 1, s.NodesModified)
	assert.Equal(t, []string{"color"}, s.ChangedProps)
	assert.Equal(t, "1 added, 1 removed, 1 modified (color)", s.Description)
}

func TestDiffTypeChangeCountsAsModified(t *testing.T) {
	from := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "text", ComponentName: "CTA"},
	}}
	to := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "button", ComponentName: "CTA"},
	}}
	s := Diff(from, to)
	assert.Equal(t, 1, s.NodesModified)
	assert.Equal(t, 0, s.NodesAdded)
	assert.Equal(t, 0, s.NodesRemoved)
}

func TestDiffDuplicateNamesStayExact(t *testing.T) {
	from := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "card", ComponentName: "Item"},
		{Type: "card", ComponentName: "Item"},
	}}
	to := &Node{Type: "frame", ComponentName: "Screen", Children: []*Node{
		{Type: "card", ComponentName: "Item"},
	}}
	s := Diff(from, to)
	assert.Equal(t, 1, s.NodesRemoved)
	assert.Equal(t, 0, s.NodesAdded)
}

func TestDiffUnnamedNodesMatchByPath(t *testing.T) {
	from := &Node{Type: "frame", Children: []*Node{
		{Type: "text", Props: map[string]any{"text": "old"}},
	}}
	to := &Node{Type: "frame", Children: []*Node{
		{Type: "text", Props: map[string]any{"text": "new"}},
	}}
	s := Diff(from, to)
	assert.Equal(t, 1, s.NodesModified)
	assert.Equal(t, []string{"text"}, s.ChangedProps)
}
