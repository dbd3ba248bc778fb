package insight

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/tracking"
	"github.com/rs/zerolog/log"
)

// Turn is the text a classifier sees.
type Turn struct {
	UserText  string
	ReplyText string
}

// Insight is one classifier hit.
type Insight struct {
	Type       memory.MemoryType
	Title      string
	Importance float64
	Tags       []string
	// Matched is the phrase that fired the classifier.
	Matched string
	// Source is the side of the turn the match came from.
	Source Source
}

// Classifier inspects a turn and reports at most one insight.
type Classifier struct {
	Name     string
	Classify func(Turn) (Insight, bool)
}

// ClassificationError is a classifier that panicked. Its result is dropped.
type ClassificationError struct {
	Classifier string
	Cause      any
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("insight classifier %s failed: %v", e.Classifier, e.Cause)
}

// Input identifies the turn being analysed.
type Input struct {
	UserID    string
	SessionID string
	UserText  string
	ReplyText string
}

// Result holds memory drafts (no id or createdAt yet) and classifier failures.
type Result struct {
	Drafts   []memory.MemoryRecord
	Insights []Insight
	Errors   []error
}

// Extractor runs a fixed-order registry of classifiers over each turn.
type Extractor struct {
	classifiers  []Classifier
	excerptRunes int
}

// NewExtractor compiles rules into classifiers, preserving their order.
func NewExtractor(rules Rules) (*Extractor, error) {
	classifiers := make([]Classifier, 0, len(rules.Categories))
	for _, rule := range rules.Categories {
		c, err := ruleClassifier(rule)
		if err != nil {
			return nil, err
		}
		classifiers = append(classifiers, c)
	}
	return newExtractor(rules.ExcerptRunes, classifiers...), nil
}

func newExtractor(excerptRunes int, classifiers ...Classifier) *Extractor {
	if excerptRunes <= 0 {
		excerptRunes = 280
	}
	return &Extractor{classifiers: classifiers, excerptRunes: excerptRunes}
}

func ruleClassifier(rule Rule) (Classifier, error) {
	patterns, err := compilePatterns(rule)
	if err != nil {
		return Classifier{}, err
	}
	tags := memory.NormalizeSet(rule.Tags)
	return Classifier{
		Name: string(rule.Type),
		Classify: func(t Turn) (Insight, bool) {
			text := t.UserText
			if rule.Source == SourceReply {
				text = t.ReplyText
			}
			for _, re := range patterns {
				if m := re.FindString(text); m != "" {
					return Insight{
						Type:       rule.Type,
						Title:      rule.Title,
						Importance: rule.Importance,
						Tags:       append([]string(nil), tags...),
						Matched:    strings.ToLower(m),
						Source:     rule.Source,
					}, true
				}
			}
			return Insight{}, false
		},
	}, nil
}

// Extract evaluates every classifier against the full turn. A category
// yields at most one draft even if several classifiers report it.
func (e *Extractor) Extract(in Input) Result {
	turn := Turn{UserText: in.UserText, ReplyText: in.ReplyText}
	var res Result
	seen := make(map[memory.MemoryType]struct{}, len(e.classifiers))

	for _, c := range e.classifiers {
		ins, ok, err := safeClassify(c, turn)
		if err != nil {
			log.Warn().Err(err).Str("classifier", c.Name).Msg("insight classifier dropped")
			res.Errors = append(res.Errors, err)
			continue
		}
		if !ok {
			continue
		}
		if _, dup := seen[ins.Type]; dup {
			continue
		}
		seen[ins.Type] = struct{}{}
		res.Insights = append(res.Insights, ins)
		res.Drafts = append(res.Drafts, e.draft(in, ins))
	}
	return res
}

func safeClassify(c Classifier, t Turn) (ins Insight, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ins, ok = Insight{}, false
			err = &ClassificationError{Classifier: c.Name, Cause: r}
		}
	}()
	ins, ok = c.Classify(t)
	if ok && !ins.Type.Valid() {
		return Insight{}, false, &ClassificationError{Classifier: c.Name, Cause: fmt.Sprintf("unknown type %q", ins.Type)}
	}
	return ins, ok, nil
}

func (e *Extractor) draft(in Input, ins Insight) memory.MemoryRecord {
	source := in.UserText
	if ins.Source == SourceReply {
		source = in.ReplyText
	}
	content, _ := policy.Excerpt(source, e.excerptRunes)

	tags := ins.Tags
	if ins.Type == memory.TypeTechnique && ins.Matched != "" {
		tags = append(tags, TechniqueName(ins.Matched))
	}

	emotion := tracking.DetectEmotion(in.UserText)
	return memory.MemoryRecord{
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		MemoryType:       ins.Type,
		Title:            ins.Title,
		Content:          content,
		EmotionalContext: string(emotion),
		ImportanceScore:  ins.Importance,
		Tags:             memory.NormalizeSet(tags),
		Active:           true,
	}
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// TechniqueName turns a matched phrase into a stable technique tag.
func TechniqueName(matched string) string {
	return strings.Trim(nonWord.ReplaceAllString(strings.ToLower(matched), "_"), "_")
}
