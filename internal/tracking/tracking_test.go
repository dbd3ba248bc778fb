package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEmotion(t *testing.T) {
	cases := map[string]Emotion{
		"I feel so sad and lonely today":        EmotionSad,
		"I'm worried about tomorrow":            EmotionAnxious,
		"I'm furious at my boss":                EmotionAngry,
		"Feeling grateful for my sister":        EmotionHappy,
		"We talked about the weather":           EmotionNeutral,
		"":                                      EmotionNeutral,
		"sad but also anxious":                  EmotionSad,
		"my sadness is a word, not the keyword": EmotionNeutral,
	}
	for text, want := range cases {
		assert.Equal(t, want, DetectEmotion(text), "DetectEmotion(%q)", text)
	}
}

func TestTrackIsMonotonic(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewPatternTracker(store)
	ctx := context.Background()

	prev := 0.0
	for i := 0; i < 5; i++ {
		obs, err := tracker.Track(ctx, "u1", "I feel anxious about work")
		require.NoError(t, err)
		require.NotNil(t, obs.Pattern)
		assert.Equal(t, EmotionAnxious, obs.Emotion)
		assert.Greater(t, obs.Pattern.FrequencyScore, prev)
		prev = obs.Pattern.FrequencyScore
	}

	patterns, err := store.Patterns(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 5.0, patterns[0].FrequencyScore)
	assert.Equal(t, 0.5, patterns[0].EffectivenessScore)
	assert.Equal(t, "anxious", patterns[0].PatternData["last_emotion"])
	assert.Equal(t, "5", patterns[0].PatternData["anxious"])
}

func TestTrackNeutralWritesNothing(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewPatternTracker(store)

	obs, err := tracker.Track(context.Background(), "u1", "The bus was on time")
	require.NoError(t, err)
	assert.Nil(t, obs.Pattern)

	patterns, err := store.Patterns(context.Background(), "u1", 5)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestRecordFeedbackSmoothsEffectiveness(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewPatternTracker(store)
	ctx := context.Background()

	p, err := tracker.RecordFeedback(ctx, "u1", memory.PatternEmotionalRegulation, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, p.EffectivenessScore, 1e-9)
	assert.Equal(t, 0.0, p.FrequencyScore)

	p, err = tracker.RecordFeedback(ctx, "u1", memory.PatternEmotionalRegulation, 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.755, p.EffectivenessScore, 1e-9)
}

func TestApplyUpdateClampsRapport(t *testing.T) {
	state := memory.NewRelationship("u1", "warm")
	state.RapportScore = 0.95
	change := 0.1

	ApplyUpdate(&state, RelationshipUpdate{RapportChange: &change}, time.Now())

	assert.Equal(t, 1.0, state.RapportScore)
	assert.InDelta(t, 0.55, state.TrustLevel, 1e-9)
	assert.Equal(t, 1, state.TotalSessions)
}

func TestApplyUpdateMergesSetsAndMaps(t *testing.T) {
	state := memory.NewRelationship("u1", "warm")
	state.EffectiveTechniques = []string{"breathing"}
	state.IneffectiveTechniques = []string{"journaling"}
	state.ProgressUpdates = map[string]string{"sleep": "poor", "work": "stable"}

	ApplyUpdate(&state, RelationshipUpdate{
		SharedMemories:        []string{"m1"},
		EffectiveTechniques:   []string{"journaling", "grounding"},
		IneffectiveTechniques: []string{"breathing"},
		ProgressUpdates:       map[string]string{"sleep": "better"},
	}, time.Now())

	assert.Equal(t, []string{"grounding", "journaling"}, state.EffectiveTechniques)
	assert.Equal(t, []string{"breathing"}, state.IneffectiveTechniques)
	assert.Equal(t, []string{"m1"}, state.SharedMemories)
	assert.Equal(t, map[string]string{"sleep": "better", "work": "stable"}, state.ProgressUpdates)
}

func TestRelationshipUpdateThroughStore(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewRelationshipTracker(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tracker.Update(ctx, RelationshipUpdate{UserID: "u1", PersonaID: "warm"})
		require.NoError(t, err)
	}

	state, err := store.Relationship(ctx, "u1", "warm")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 3, state.TotalSessions)
	assert.InDelta(t, 0.8, state.RapportScore, 1e-9)
	assert.InDelta(t, 0.65, state.TrustLevel, 1e-9)

	_, err = tracker.Update(ctx, RelationshipUpdate{UserID: "u1"})
	assert.Error(t, err)
}
