package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warm", c.DefaultID())
	assert.Equal(t, []string{"concise", "professional", "warm"}, c.IDs())
	assert.True(t, c.Has("professional"))
	assert.Equal(t, "warm", c.Get("does-not-exist").ID)

	prompt := c.Get("concise").Prompt()
	assert.Contains(t, prompt, "Style: brief, high-signal, direct.")
	assert.Contains(t, prompt, "under 180 characters")
}

func TestParseRejectsEmptyCatalog(t *testing.T) {
	_, err := Parse([]byte("personas: []\n"))
	assert.Error(t, err)
}

func TestParseFallsBackToFirstPersona(t *testing.T) {
	c, err := Parse([]byte("default: nope\npersonas:\n  - id: calm\n    description: hi\n"))
	require.NoError(t, err)
	assert.Equal(t, "calm", c.DefaultID())
}
