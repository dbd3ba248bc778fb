package risk

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
)

// Band is the coarse risk classification.
type Band string

const (
	BandLow      Band = "low"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// textSignalConfidence is reported when only free text flagged the turn.
const textSignalConfidence = 0.7

func (b Band) rank() int {
	switch b {
	case BandModerate:
		return 1
	case BandHigh:
		return 2
	case BandCritical:
		return 3
	default:
		return 0
	}
}

// BandForScore maps a clamped score onto a band.
func BandForScore(score float64) Band {
	switch {
	case score >= 70:
		return BandCritical
	case score >= 50:
		return BandHigh
	case score >= 30:
		return BandModerate
	default:
		return BandLow
	}
}

// Severity is the alert severity for a band.
func (b Band) Severity() memory.Severity {
	switch b {
	case BandCritical, BandHigh:
		return memory.SeverityHigh
	case BandModerate:
		return memory.SeverityMedium
	default:
		return memory.SeverityLow
	}
}

// AlertType distinguishes bands that share a severity.
func (b Band) AlertType() string {
	return string(b) + "_risk"
}

// ShouldEscalate reports whether the band triggers dispatch.
func (b Band) ShouldEscalate(escalateModerate bool) bool {
	switch b {
	case BandHigh, BandCritical:
		return true
	case BandModerate:
		return escalateModerate
	default:
		return false
	}
}

// Answers maps question id to the selected option label or index.
type Answers map[string]string

// Input is what can be scored: questionnaire answers, free text, or both.
type Input struct {
	Answers Answers
	Text    string
}

// Assessment is the outcome of Evaluate.
type Assessment struct {
	Score          float64            `json:"score"`
	Band           Band               `json:"band"`
	Confidence     float64            `json:"confidence"`
	TextSignal     bool               `json:"text_signal"`
	MatchedSignals []string           `json:"matched_signals,omitempty"`
	Contributions  map[string]float64 `json:"contributions,omitempty"`
}

// Severity is the alert severity implied by the assessment.
func (a Assessment) Severity() memory.Severity { return a.Band.Severity() }

// TriggerData summarises the assessment for a CrisisAlert.
func (a Assessment) TriggerData() map[string]string {
	out := map[string]string{
		"band":        string(a.Band),
		"score":       strconv.FormatFloat(a.Score, 'f', 1, 64),
		"text_signal": strconv.FormatBool(a.TextSignal),
	}
	if len(a.MatchedSignals) > 0 {
		out["matched_signals"] = strings.Join(a.MatchedSignals, ",")
	}
	return out
}

// Scorer computes deterministic risk scores from a questionnaire.
type Scorer struct {
	questions map[string]Question
	order     []string
	signals   []signal
	resources []string
}

type signal struct {
	pattern string
	match   func(string) bool
}

func NewScorer(q Questionnaire) (*Scorer, error) {
	compiled, err := compileSignals(q.TextSignals)
	if err != nil {
		return nil, err
	}
	s := &Scorer{
		questions: make(map[string]Question, len(q.Questions)),
		resources: append([]string(nil), q.Resources...),
	}
	for _, question := range q.Questions {
		s.questions[question.ID] = question
		s.order = append(s.order, question.ID)
	}
	for i, re := range compiled {
		s.signals = append(s.signals, signal{pattern: q.TextSignals[i], match: re.MatchString})
	}
	return s, nil
}

// Questions returns the questionnaire in presentation order.
func (s *Scorer) Questions() []Question {
	out := make([]Question, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.questions[id])
	}
	return out
}

// Resources are crisis resources shown when a turn is flagged.
func (s *Scorer) Resources() []string {
	return append([]string(nil), s.resources...)
}

// ScoreAnswers sums normalized index times weight, clamped to [0,100].
func (s *Scorer) ScoreAnswers(answers Answers) (float64, map[string]float64, error) {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	// Fixed summation order keeps floating point results identical across calls.
	sort.Strings(ids)

	total := 0.0
	contributions := make(map[string]float64, len(ids))
	for _, id := range ids {
		q, ok := s.questions[id]
		if !ok {
			return 0, nil, fmt.Errorf("%w: unknown question %q", ErrInvalidAnswer, id)
		}
		idx, err := optionIndex(q, answers[id])
		if err != nil {
			return 0, nil, err
		}
		c := float64(idx) / float64(len(q.Options)-1) * q.Weight
		contributions[id] = c
		total += c
	}
	return math.Max(0, math.Min(100, total)), contributions, nil
}

func optionIndex(q Question, answer string) (int, error) {
	answer = strings.TrimSpace(answer)
	for i, opt := range q.Options {
		if strings.EqualFold(opt, answer) {
			return i, nil
		}
	}
	idx, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an option of %q", ErrInvalidAnswer, answer, q.ID)
	}
	if idx < 0 || idx >= len(q.Options) {
		return 0, fmt.Errorf("%w: index %d out of range for %q", ErrInvalidAnswer, idx, q.ID)
	}
	return idx, nil
}

// ScanText returns the self-harm signal patterns that match text.
func (s *Scorer) ScanText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var matched []string
	for _, sig := range s.signals {
		if sig.match(text) {
			matched = append(matched, sig.pattern)
		}
	}
	return matched
}

// Evaluate combines questionnaire score and text signal. A text signal
// forces at least the moderate band.
func (s *Scorer) Evaluate(in Input) (Assessment, error) {
	var a Assessment
	if len(in.Answers) > 0 {
		score, contributions, err := s.ScoreAnswers(in.Answers)
		if err != nil {
			return Assessment{}, err
		}
		a.Score = score
		a.Contributions = contributions
		a.Confidence = score / 100
	}
	a.Band = BandForScore(a.Score)

	if matched := s.ScanText(in.Text); len(matched) > 0 {
		a.TextSignal = true
		a.MatchedSignals = matched
		if a.Band.rank() < BandModerate.rank() {
			a.Band = BandModerate
		}
		a.Confidence = math.Max(a.Confidence, textSignalConfidence)
	}
	return a, nil
}
