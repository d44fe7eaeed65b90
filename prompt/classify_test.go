package prompt

import (
	"testing"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		prompt string
		want   wireflow.EditType
	}{
		{"remove the search bar", wireflow.EditTypeRemove},
		{"get rid of the footer", wireflow.EditTypeRemove},
		{"delete it", wireflow.EditTypeRemove},
		{"add a search bar to the header", wireflow.EditTypeAdd},
		{"insert a profile avatar", wireflow.EditTypeAdd},
		{"put in a confirmation dialog", wireflow.EditTypeAdd},
		{"make the button blue", wireflow.EditTypeStyle},
		{"the title should be bigger", wireflow.EditTypeStyle},
		{"change the background color", wireflow.EditTypeStyle},
		{"move the sidebar to the right", wireflow.EditTypeLayout},
		{"arrange the cards in a grid", wireflow.EditTypeLayout},
		{"center the logo", wireflow.EditTypeLayout},
		{"stack them side by side", wireflow.EditTypeLayout},
		{"rename the heading", wireflow.EditTypeModify},
		{"the form needs a better label", wireflow.EditTypeModify},
		{"", wireflow.EditTypeModify},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.prompt))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	prompt := "make the header blue and move it up"
	first := Classify(prompt)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(prompt))
	}
}

func TestClassifyMultiWordKeywordsNeedFullPhrase(t *testing.T) {
	// "rid" alone is not a remove verb; only the full phrase is.
	assert.Equal(t, wireflow.EditTypeModify, Classify("the riddle copy reads oddly"))
}

func TestRequiresReferent(t *testing.T) {
	assert.True(t, requiresReferent(wireflow.EditTypeModify))
	assert.True(t, requiresReferent(wireflow.EditTypeRemove))
	assert.True(t, requiresReferent(wireflow.EditTypeStyle))
	assert.False(t, requiresReferent(wireflow.EditTypeAdd))
	assert.False(t, requiresReferent(wireflow.EditTypeLayout))
}
