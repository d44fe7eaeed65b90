package prompt

import (
	"testing"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() *wireframe.Node {
	return &wireframe.Node{
		Type:          "frame",
		ComponentName: "Screen",
		Children: []*wireframe.Node{
			{Type: "navigation", ComponentName: "Header", Children: []*wireframe.Node{
				{Type: "button", ComponentName: "SearchButton"},
			}},
			{Type: "frame", ComponentName: "Body", Children: []*wireframe.Node{
				{Type: "button", ComponentName: "SubmitButton"},
				{Type: "text", ComponentName: "Title"},
			}},
		},
	}
}

func entry(version int, targets ...string) *wireflow.ContextEntry {
	return &wireflow.ContextEntry{
		ResultVersion:  version,
		TargetElements: targets,
	}
}

func TestResolveNoReferenceTargetsDocument(t *testing.T) {
	r := Resolve("add a footer with three links", wireflow.EditTypeAdd, testDoc(), nil)
	assert.False(t, r.NeedsClarification())
	assert.Equal(t, []string{"Screen"}, r.Targets)
}

func TestResolvePronounUsesLastEditTarget(t *testing.T) {
	ring := []*wireflow.ContextEntry{
		entry(1, "Screen"),
		entry(2, "Screen/Body/SubmitButton"),
	}
	r := Resolve("make it green", wireflow.EditTypeStyle, testDoc(), ring)
	assert.False(t, r.NeedsClarification())
	assert.Equal(t, []string{"Screen/Body/SubmitButton"}, r.Targets)
}

func TestResolvePronounSkipsStaleTargets(t *testing.T) {
	ring := []*wireflow.ContextEntry{
		entry(2, "Screen/Body/SubmitButton"),
		entry(3, "Screen/Body/RemovedNode"),
	}
	r := Resolve("make it green", wireflow.EditTypeStyle, testDoc(), ring)
	assert.Equal(t, []string{"Screen/Body/SubmitButton"}, r.Targets)
}

func TestResolvePronounWithoutAntecedentClarifies(t *testing.T) {
	// The entry written at session creation is not an antecedent, so a
	// referent-requiring edit right after creation must come back with
	// candidates instead of aiming at the whole document.
	ring := []*wireflow.ContextEntry{entry(1, "Screen")}
	r := Resolve("remove it", wireflow.EditTypeRemove, testDoc(), ring)
	require.True(t, r.NeedsClarification())
	assert.Empty(t, r.Targets)

	require.NotEmpty(t, r.Candidates)
	assert.LessOrEqual(t, len(r.Candidates), MaxCandidates)
	assert.Equal(t, "Screen", r.Candidates[0].Path)
	assert.Equal(t, "Screen/Body", r.Candidates[1].Path)
	assert.Equal(t, "Screen/Header", r.Candidates[2].Path)
}

func TestResolvePronounWithoutAntecedentFallsBackForLayout(t *testing.T) {
	r := Resolve("move them closer together", wireflow.EditTypeLayout, testDoc(), nil)
	assert.False(t, r.NeedsClarification())
	assert.Equal(t, []string{"Screen"}, r.Targets)
}

func TestResolveTypedPrefersRecentlyTouched(t *testing.T) {
	ring := []*wireflow.ContextEntry{
		entry(2, "Screen/Body/SubmitButton"),
	}
	r := Resolve("make the button bigger", wireflow.EditTypeStyle, testDoc(), ring)
	assert.Equal(t, []string{"Screen/Body/SubmitButton"}, r.Targets)
}

func TestResolveTypedStructuralFirstMatch(t *testing.T) {
	r := Resolve("make the button bigger", wireflow.EditTypeStyle, testDoc(), nil)
	assert.Equal(t, []string{"Screen/Header/SearchButton"}, r.Targets)
}

func TestResolveTypedWithRegion(t *testing.T) {
	r := Resolve("make the button in the body wider", wireflow.EditTypeStyle, testDoc(), nil)
	assert.Equal(t, []string{"Screen/Body/SubmitButton"}, r.Targets)
}

func TestResolveTypedRegionOverridesRingMismatch(t *testing.T) {
	// The last edit touched the body button, but the prompt names the
	// header region, so the ring hit is skipped.
	ring := []*wireflow.ContextEntry{
		entry(2, "Screen/Body/SubmitButton"),
	}
	r := Resolve("make the button in the header wider", wireflow.EditTypeStyle, testDoc(), ring)
	assert.Equal(t, []string{"Screen/Header/SearchButton"}, r.Targets)
}

func TestResolveTypedNoMatchClarifies(t *testing.T) {
	r := Resolve("change the avatar", wireflow.EditTypeModify, testDoc(), nil)
	require.True(t, r.NeedsClarification())
	assert.NotEmpty(t, r.Candidates)
}

func TestResolveCandidatesIncludeRecentTargets(t *testing.T) {
	ring := []*wireflow.ContextEntry{
		entry(2, "Screen/Body/Title"),
	}
	r := Resolve("change the avatar", wireflow.EditTypeModify, testDoc(), ring)
	require.True(t, r.NeedsClarification())
	assert.Equal(t, "Screen/Body/Title", r.Candidates[0].Path)
	assert.Equal(t, "Title", r.Candidates[0].ComponentName)
	assert.Equal(t, "text", r.Candidates[0].Type)
}

func TestResolveIsDeterministic(t *testing.T) {
	ring := []*wireflow.ContextEntry{
		entry(2, "Screen/Body/SubmitButton"),
	}
	first := Resolve("make it green", wireflow.EditTypeStyle, testDoc(), ring)
	for i := 0; i < 5; i++ {
		again := Resolve("make it green", wireflow.EditTypeStyle, testDoc(), ring)
		assert.Equal(t, first, again)
	}
}
