package risk

import (
	"errors"
	"testing"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	q, err := LoadQuestionnaire("")
	require.NoError(t, err)
	s, err := NewScorer(q)
	require.NoError(t, err)
	return s
}

func TestBandForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Band
	}{
		{0, BandLow},
		{29.9, BandLow},
		{30, BandModerate},
		{49.9, BandModerate},
		{50, BandHigh},
		{69.9, BandHigh},
		{70, BandCritical},
		{100, BandCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BandForScore(tc.score), "BandForScore(%v)", tc.score)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	s := defaultScorer(t)
	answers := Answers{
		"suicidal_thoughts": "Sometimes",
		"hopelessness":      "3",
		"support_system":    "One person",
		"isolation":         "very",
	}
	first, err := s.Evaluate(Input{Answers: answers})
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := s.Evaluate(Input{Answers: answers})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// 0.5*25 + 0.75*15 + (1/3)*-15 + (2/3)*10
	assert.InDelta(t, 12.5+11.25-5+6.6667, first.Score, 1e-3)
	assert.Equal(t, BandLow, first.Band)
}

func TestMaxRiskClampsToCritical(t *testing.T) {
	s := defaultScorer(t)
	a, err := s.Evaluate(Input{Answers: Answers{
		"suicidal_thoughts": "Always",
		"suicide_plan":      "Plan with means",
	}})
	require.NoError(t, err)
	assert.Equal(t, 55.0, a.Score)
	assert.Equal(t, BandHigh, a.Band)

	a, err = s.Evaluate(Input{Answers: Answers{
		"suicidal_thoughts": "Always",
		"suicide_plan":      "Plan with means",
		"self_harm_history": "In the past week",
		"hopelessness":      "Completely",
		"substance_use":     "Daily",
		"isolation":         "Completely",
		"support_system":    "No one",
	}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, a.Score)
	assert.Equal(t, BandCritical, a.Band)
	assert.Equal(t, memory.SeverityHigh, a.Severity())
	assert.Equal(t, "critical_risk", a.Band.AlertType())
	assert.Equal(t, 1.0, a.Confidence)
}

func TestProtectiveFactorLowersScore(t *testing.T) {
	s := defaultScorer(t)
	a, err := s.Evaluate(Input{Answers: Answers{"support_system": "Strong support network"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, -15.0, a.Contributions["support_system"])
}

func TestInvalidAnswers(t *testing.T) {
	s := defaultScorer(t)
	for _, answers := range []Answers{
		{"not_a_question": "0"},
		{"suicide_plan": "9"},
		{"suicide_plan": "-1"},
		{"suicide_plan": "maybe"},
	} {
		_, err := s.Evaluate(Input{Answers: answers})
		assert.True(t, errors.Is(err, ErrInvalidAnswer), "answers %v: err = %v", answers, err)
	}
}

func TestTextSignalForcesModerate(t *testing.T) {
	s := defaultScorer(t)
	a, err := s.Evaluate(Input{Text: "Some days I just want to die"})
	require.NoError(t, err)
	assert.True(t, a.TextSignal)
	assert.Equal(t, BandModerate, a.Band)
	assert.Equal(t, 0.7, a.Confidence)
	assert.Equal(t, "moderate", a.TriggerData()["band"])

	a, err = s.Evaluate(Input{Text: "I had a long day at work"})
	require.NoError(t, err)
	assert.False(t, a.TextSignal)
	assert.Equal(t, BandLow, a.Band)
}

func TestTextSignalDoesNotLowerBand(t *testing.T) {
	s := defaultScorer(t)
	a, err := s.Evaluate(Input{
		Answers: Answers{"suicidal_thoughts": "Always", "suicide_plan": "Plan with means", "hopelessness": "Completely"},
		Text:    "I keep thinking about suicide",
	})
	require.NoError(t, err)
	assert.Equal(t, BandCritical, a.Band)
	assert.Equal(t, 0.7, a.Confidence)
}

func TestShouldEscalate(t *testing.T) {
	assert.True(t, BandCritical.ShouldEscalate(false))
	assert.True(t, BandHigh.ShouldEscalate(false))
	assert.False(t, BandModerate.ShouldEscalate(false))
	assert.True(t, BandModerate.ShouldEscalate(true))
	assert.False(t, BandLow.ShouldEscalate(true))
	assert.Equal(t, memory.SeverityMedium, BandModerate.Severity())
}

func TestQuestionnaireValidation(t *testing.T) {
	_, err := ParseQuestionnaire([]byte("questions:\n  - id: a\n    weight: 1\n    options: [only]\n"))
	assert.Error(t, err)

	_, err = ParseQuestionnaire([]byte("questions:\n  - id: a\n    options: [x, y]\n  - id: a\n    options: [x, y]\n"))
	assert.Error(t, err)
}
