package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ent0n29/solace/internal/memory"
)

func memoryItems(records []memory.MemoryRecord) []Item {
	out := make([]Item, 0, len(records))
	for _, m := range records {
		text := fmt.Sprintf("- [%s] %s: %s", m.MemoryType, m.Title, m.Content)
		if m.EmotionalContext != "" && m.EmotionalContext != "neutral" {
			text += fmt.Sprintf(" (felt %s)", m.EmotionalContext)
		}
		out = append(out, Item{Text: text, Kind: kindMemory, ID: m.ID})
	}
	return out
}

func patternItems(patterns []memory.EmotionalPattern) []Item {
	out := make([]Item, 0, len(patterns))
	for _, p := range patterns {
		text := fmt.Sprintf("- %s: seen %.0f times, coping effectiveness %.0f%%",
			strings.ReplaceAll(p.PatternType, "_", " "), p.FrequencyScore, p.EffectivenessScore*100)
		if last := p.PatternData["last_emotion"]; last != "" {
			text += ", most recently " + last
		}
		out = append(out, Item{Text: text})
	}
	return out
}

func contextItems(items []memory.SessionContextItem) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, Item{
			Text: fmt.Sprintf("- (priority %d) %s: %s", it.PriorityLevel, it.ContextType, it.ContextData),
			Kind: kindContext,
			ID:   it.ID,
		})
	}
	return out
}

func relationshipItems(r *memory.RelationshipState) []Item {
	if r == nil {
		return nil
	}
	out := []Item{{Text: fmt.Sprintf("- Trust %.0f%%, rapport %.0f%% across %d sessions",
		r.TrustLevel*100, r.RapportScore*100, r.TotalSessions)}}
	if len(r.EffectiveTechniques) > 0 {
		out = append(out, Item{Text: "- Techniques that helped: " + strings.Join(r.EffectiveTechniques, ", ")})
	}
	if len(r.IneffectiveTechniques) > 0 {
		out = append(out, Item{Text: "- Techniques that did not help: " + strings.Join(r.IneffectiveTechniques, ", ")})
	}
	if len(r.ProgressUpdates) > 0 {
		keys := make([]string, 0, len(r.ProgressUpdates))
		for k := range r.ProgressUpdates {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+r.ProgressUpdates[k])
		}
		out = append(out, Item{Text: "- Progress: " + strings.Join(parts, "; ")})
	}
	return out
}
