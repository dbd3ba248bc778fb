package insight

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultExtractor(t *testing.T) *Extractor {
	t.Helper()
	rules, err := LoadRules("")
	require.NoError(t, err)
	e, err := NewExtractor(rules)
	require.NoError(t, err)
	return e
}

func draftByType(res Result, typ memory.MemoryType) (memory.MemoryRecord, bool) {
	for _, d := range res.Drafts {
		if d.MemoryType == typ {
			return d, true
		}
	}
	return memory.MemoryRecord{}, false
}

func TestExtractBreakthrough(t *testing.T) {
	e := defaultExtractor(t)
	res := e.Extract(Input{UserID: "u1", SessionID: "s1", UserText: "I realize now that my anger comes from fear"})

	d, ok := draftByType(res, memory.TypeBreakthrough)
	require.True(t, ok, "expected a breakthrough draft, got %+v", res.Drafts)
	assert.Equal(t, 0.9, d.ImportanceScore)
	assert.Contains(t, d.Tags, "breakthrough")
	assert.Contains(t, d.Tags, "insight")
	assert.Equal(t, "u1", d.UserID)
	assert.Equal(t, "s1", d.SessionID)
	assert.Equal(t, "angry", d.EmotionalContext)
	assert.Empty(t, res.Errors)
}

func TestExtractMultipleCategoriesInOrder(t *testing.T) {
	e := defaultExtractor(t)
	res := e.Extract(Input{
		UserID:    "u1",
		UserText:  "I'm so anxious lately and I want to sleep better. Crowds set me off.",
		ReplyText: "Let's try box breathing together before bed.",
	})

	var types []memory.MemoryType
	for _, d := range res.Drafts {
		types = append(types, d.MemoryType)
	}
	assert.Equal(t, []memory.MemoryType{memory.TypeConcern, memory.TypeGoal, memory.TypeTechnique, memory.TypeTrigger}, types)

	technique, _ := draftByType(res, memory.TypeTechnique)
	assert.Equal(t, 0.6, technique.ImportanceScore)
	assert.Contains(t, technique.Tags, "box_breathing")
	assert.Contains(t, technique.Content, "box breathing")
}

func TestExtractNothing(t *testing.T) {
	e := defaultExtractor(t)
	res := e.Extract(Input{UserID: "u1", UserText: "The bus was on time today.", ReplyText: "Nice to hear."})
	assert.Empty(t, res.Drafts)
}

func TestExtractRedactsContent(t *testing.T) {
	e := defaultExtractor(t)
	res := e.Extract(Input{UserID: "u1", UserText: "I'm worried, email me at sam@example.com"})
	d, ok := draftByType(res, memory.TypeConcern)
	require.True(t, ok)
	assert.NotContains(t, d.Content, "sam@example.com")
	assert.Contains(t, d.Content, "[REDACTED_EMAIL]")
}

func TestPanickingClassifierIsIsolated(t *testing.T) {
	boom := Classifier{Name: "boom", Classify: func(Turn) (Insight, bool) { panic("bad rule") }}
	goal := Classifier{Name: "goal", Classify: func(Turn) (Insight, bool) {
		return Insight{Type: memory.TypeGoal, Title: "Goal", Importance: 0.7, Tags: []string{"goal"}}, true
	}}
	e := newExtractor(0, boom, goal)

	res := e.Extract(Input{UserID: "u1", UserText: "anything"})
	require.Len(t, res.Drafts, 1)
	assert.Equal(t, memory.TypeGoal, res.Drafts[0].MemoryType)
	require.Len(t, res.Errors, 1)

	var ce *ClassificationError
	require.True(t, errors.As(res.Errors[0], &ce))
	assert.Equal(t, "boom", ce.Classifier)
}

func TestDuplicateCategoryKeepsFirst(t *testing.T) {
	first := Classifier{Name: "a", Classify: func(Turn) (Insight, bool) {
		return Insight{Type: memory.TypeGoal, Title: "first", Importance: 0.7}, true
	}}
	second := Classifier{Name: "b", Classify: func(Turn) (Insight, bool) {
		return Insight{Type: memory.TypeGoal, Title: "second", Importance: 0.7}, true
	}}
	res := newExtractor(0, first, second).Extract(Input{UserID: "u1"})
	require.Len(t, res.Drafts, 1)
	assert.Equal(t, "first", res.Drafts[0].Title)
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  - type: goal
    importance: 0.5
    tags: [goal]
    patterns: ['\bsomeday\b']
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	e, err := NewExtractor(rules)
	require.NoError(t, err)
	require.Len(t, e.classifiers, 1)
	assert.Equal(t, "goal", e.classifiers[0].Name)

	res := e.Extract(Input{UserID: "u1", UserText: "Someday I'll travel"})
	require.Len(t, res.Drafts, 1)
	assert.Equal(t, 0.5, res.Drafts[0].ImportanceScore)
}

func TestParseRulesValidation(t *testing.T) {
	_, err := ParseRules([]byte("categories:\n  - type: nonsense\n    patterns: [x]\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("categories:\n  - type: goal\n    importance: 2\n    patterns: [x]\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("categories:\n  - type: goal\n    importance: 0.5\n"))
	assert.Error(t, err)
}
