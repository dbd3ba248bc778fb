package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/rs/zerolog/log"
)

// FeedbackWeight is the smoothing factor for effectiveness feedback.
const FeedbackWeight = 0.3

// PatternStore is the slice of memory.Repository the pattern tracker writes to.
type PatternStore interface {
	UpsertPattern(ctx context.Context, userID, patternType string, mutate func(*memory.EmotionalPattern)) (memory.EmotionalPattern, error)
}

// PatternTracker maintains per-user emotional pattern frequency and effectiveness.
type PatternTracker struct {
	store PatternStore
	now   func() time.Time
}

func NewPatternTracker(store PatternStore) *PatternTracker {
	return &PatternTracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Observation is the result of tracking one turn.
type Observation struct {
	Emotion Emotion
	Pattern *memory.EmotionalPattern
}

// Track detects the emotion in text and, when it is not neutral, records an
// occurrence of the emotional_regulation pattern.
func (t *PatternTracker) Track(ctx context.Context, userID, text string) (Observation, error) {
	emotion := DetectEmotion(text)
	obs := Observation{Emotion: emotion}
	if emotion == EmotionNeutral {
		return obs, nil
	}

	now := t.now()
	p, err := t.store.UpsertPattern(ctx, userID, memory.PatternEmotionalRegulation, func(p *memory.EmotionalPattern) {
		p.FrequencyScore++
		p.LastOccurred = now
		p.PatternData["last_emotion"] = string(emotion)
		p.PatternData[string(emotion)] = strconv.Itoa(atoi(p.PatternData[string(emotion)]) + 1)
	})
	if err != nil {
		return obs, fmt.Errorf("track emotion: %w", err)
	}

	log.Debug().
		Str("user_id", userID).
		Str("emotion", string(emotion)).
		Float64("frequency", p.FrequencyScore).
		Msg("emotional pattern recorded")
	obs.Pattern = &p
	return obs, nil
}

// RecordFeedback blends an effectiveness observation into the pattern's score.
func (t *PatternTracker) RecordFeedback(ctx context.Context, userID, patternType string, feedback float64) (memory.EmotionalPattern, error) {
	feedback = clamp01(feedback)
	p, err := t.store.UpsertPattern(ctx, userID, patternType, func(p *memory.EmotionalPattern) {
		p.EffectivenessScore = clamp01(FeedbackWeight*feedback + (1-FeedbackWeight)*p.EffectivenessScore)
	})
	if err != nil {
		return memory.EmotionalPattern{}, fmt.Errorf("record pattern feedback: %w", err)
	}
	return p, nil
}

func atoi(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
