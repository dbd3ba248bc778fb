package insight

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Source selects which side of the turn a rule reads.
type Source string

const (
	SourceTurn  Source = "turn"
	SourceReply Source = "reply"
)

// Rule configures one category classifier.
type Rule struct {
	Type       memory.MemoryType `yaml:"type"`
	Source     Source            `yaml:"source"`
	Title      string            `yaml:"title"`
	Importance float64           `yaml:"importance"`
	Tags       []string          `yaml:"tags"`
	Patterns   []string          `yaml:"patterns"`
}

// Rules is the full classifier configuration.
type Rules struct {
	ExcerptRunes int    `yaml:"excerpt_runes"`
	Categories   []Rule `yaml:"categories"`
}

// LoadRules reads rules from path, or the embedded defaults when path is empty.
func LoadRules(path string) (Rules, error) {
	raw := defaultRulesYAML
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return Rules{}, fmt.Errorf("read insight rules: %w", err)
		}
		raw = b
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a rules document.
func ParseRules(raw []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rules{}, fmt.Errorf("parse insight rules: %w", err)
	}
	seen := make(map[memory.MemoryType]struct{}, len(r.Categories))
	for i, c := range r.Categories {
		if !c.Type.Valid() {
			return Rules{}, fmt.Errorf("insight rule %d: unknown type %q", i, c.Type)
		}
		if _, dup := seen[c.Type]; dup {
			return Rules{}, fmt.Errorf("insight rule %d: duplicate type %q", i, c.Type)
		}
		seen[c.Type] = struct{}{}
		if c.Importance < 0 || c.Importance > 1 {
			return Rules{}, fmt.Errorf("insight rule %q: importance %.2f outside [0,1]", c.Type, c.Importance)
		}
		if c.Source == "" {
			r.Categories[i].Source = SourceTurn
		} else if c.Source != SourceTurn && c.Source != SourceReply {
			return Rules{}, fmt.Errorf("insight rule %q: unknown source %q", c.Type, c.Source)
		}
		if len(c.Patterns) == 0 {
			return Rules{}, fmt.Errorf("insight rule %q: no patterns", c.Type)
		}
	}
	return r, nil
}

func compilePatterns(rule Rule) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(rule.Patterns))
	for _, p := range rule.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", rule.Type, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
