package risk

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questionnaire.yaml
var defaultQuestionnaireYAML []byte

// ErrInvalidAnswer marks answers that do not match the questionnaire.
var ErrInvalidAnswer = errors.New("invalid questionnaire answer")

// Question is one weighted questionnaire item. Options are ordered from
// least to most risk.
type Question struct {
	ID      string   `yaml:"id" json:"id"`
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Weight  float64  `yaml:"weight" json:"weight"`
	Options []string `yaml:"options" json:"options"`
}

// Questionnaire is the scoring configuration.
type Questionnaire struct {
	Questions   []Question `yaml:"questions"`
	TextSignals []string   `yaml:"text_signals"`
	Resources   []string   `yaml:"resources"`
}

// LoadQuestionnaire reads path, or the embedded default when path is empty.
func LoadQuestionnaire(path string) (Questionnaire, error) {
	raw := defaultQuestionnaireYAML
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Questionnaire{}, fmt.Errorf("read questionnaire: %w", err)
		}
		raw = b
	}
	return ParseQuestionnaire(raw)
}

func ParseQuestionnaire(raw []byte) (Questionnaire, error) {
	var q Questionnaire
	if err := yaml.Unmarshal(raw, &q); err != nil {
		return Questionnaire{}, fmt.Errorf("parse questionnaire: %w", err)
	}
	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if question.ID == "" {
			return Questionnaire{}, errors.New("questionnaire has a question without id")
		}
		if _, dup := seen[question.ID]; dup {
			return Questionnaire{}, fmt.Errorf("questionnaire has duplicate question %q", question.ID)
		}
		seen[question.ID] = struct{}{}
		if len(question.Options) < 2 {
			return Questionnaire{}, fmt.Errorf("question %q needs at least two options", question.ID)
		}
	}
	return q, nil
}

func compileSignals(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile text signal %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
