package assembler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/persona"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// CharsPerToken is the rough conversion used for token estimates.
const CharsPerToken = 4

// Reader is the read side of memory.Repository used for assembly.
type Reader interface {
	TopMemories(ctx context.Context, userID string, limit int) ([]memory.MemoryRecord, error)
	Patterns(ctx context.Context, userID string, limit int) ([]memory.EmotionalPattern, error)
	PendingContext(ctx context.Context, userID string, limit int) ([]memory.SessionContextItem, error)
	Relationship(ctx context.Context, userID, personaID string) (*memory.RelationshipState, error)
}

// Config bounds the assembled prompt.
type Config struct {
	BudgetChars  int
	MemoryLimit  int
	PatternLimit int
	ItemLimit    int
}

// DefaultConfig returns the standard budget and section limits.
func DefaultConfig() Config {
	return Config{
		BudgetChars:  6000,
		MemoryLimit:  5,
		PatternLimit: 3,
		ItemLimit:    5,
	}
}

// Section is one rendered block of the prompt.
type Section struct {
	Name   string   `json:"name"`
	Header string   `json:"header"`
	Items  []string `json:"items"`
}

// Assembly is the bounded prompt plus what went into it.
type Assembly struct {
	Prompt             string    `json:"prompt"`
	Sections           []Section `json:"sections"`
	IncludedContextIDs []string  `json:"included_context_ids"`
	IncludedMemoryIDs  []string  `json:"included_memory_ids"`
	Used               int       `json:"used"`
	Budget             int       `json:"budget"`
	// Errors holds a *SectionError for each section whose read failed.
	Errors []error `json:"-"`
}

// SectionError reports a repository read that left its section out.
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Section, e.Err)
}

func (e *SectionError) Unwrap() error { return e.Err }

// EstimatedTokens is Used converted with CharsPerToken.
func (a Assembly) EstimatedTokens() int {
	return (a.Used + CharsPerToken - 1) / CharsPerToken
}

// Assembler builds a size-bounded system prompt from repository data.
type Assembler struct {
	reader   Reader
	personas *persona.Catalog
	cfg      Config
}

func New(reader Reader, personas *persona.Catalog, cfg Config) *Assembler {
	def := DefaultConfig()
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = def.BudgetChars
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = def.MemoryLimit
	}
	if cfg.PatternLimit <= 0 {
		cfg.PatternLimit = def.PatternLimit
	}
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = def.ItemLimit
	}
	return &Assembler{reader: reader, personas: personas, cfg: cfg}
}

// Assemble reads the user's state concurrently and packs it, section by
// section, into the character budget. Only a done context fails the call.
func (a *Assembler) Assemble(ctx context.Context, userID, personaID string) (Assembly, error) {
	var (
		memories []memory.MemoryRecord
		patterns []memory.EmotionalPattern
		items    []memory.SessionContextItem
		rel      *memory.RelationshipState
	)

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []error
	)
	// A failed read drops its section; the turn still gets the rest.
	load := func(section string, read func() error) {
		g.Go(func() error {
			if err := read(); err != nil {
				mu.Lock()
				failed = append(failed, &SectionError{Section: section, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	load("memories", func() (err error) {
		memories, err = a.reader.TopMemories(ctx, userID, a.cfg.MemoryLimit)
		return err
	})
	load("patterns", func() (err error) {
		patterns, err = a.reader.Patterns(ctx, userID, a.cfg.PatternLimit)
		return err
	})
	load("context_items", func() (err error) {
		items, err = a.reader.PendingContext(ctx, userID, a.cfg.ItemLimit)
		return err
	})
	load("relationship", func() (err error) {
		rel, err = a.reader.Relationship(ctx, userID, personaID)
		return err
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Assembly{}, fmt.Errorf("assemble context: %w", err)
	}
	slices.SortFunc(failed, func(x, y error) int {
		return strings.Compare(x.(*SectionError).Section, y.(*SectionError).Section)
	})
	for _, err := range failed {
		log.Warn().Err(err).Str("user_id", userID).Msg("context section unavailable")
	}

	profile := a.personas.Get(personaID)
	asm := Pack(a.cfg.BudgetChars, []Candidate{
		{Name: "persona", Header: "## Persona: " + profile.DisplayName, Items: []Item{{Text: profile.Prompt()}}},
		{Name: "memories", Header: "## What you remember about the user", Items: memoryItems(memories)},
		{Name: "patterns", Header: "## Recurring emotional patterns", Items: patternItems(patterns)},
		{Name: "context_items", Header: "## Topics to bring up", Items: contextItems(items)},
		{Name: "relationship", Header: "## Your relationship so far", Items: relationshipItems(rel)},
	})

	log.Debug().
		Str("user_id", userID).
		Str("persona_id", profile.ID).
		Int("sections", len(asm.Sections)).
		Int("used_chars", asm.Used).
		Int("budget_chars", asm.Budget).
		Int("est_tokens", asm.EstimatedTokens()).
		Int("degraded", len(failed)).
		Msg("context assembled")
	asm.Errors = failed
	return asm, nil
}

// Item is one indivisible prompt line. Kind and ID track where it came from.
type Item struct {
	Text string
	Kind string
	ID   string
}

const (
	kindMemory  = "memory"
	kindContext = "context_item"
)

// Candidate is a section before packing.
type Candidate struct {
	Name   string
	Header string
	Items  []Item
}

// Pack fills sections greedily in the given order. An item is taken only if
// it fits whole; the first item that does not fit closes its section and
// packing continues with the next one. Sections without items are dropped.
func Pack(budget int, candidates []Candidate) Assembly {
	out := Assembly{Budget: budget}
	var b strings.Builder

	for _, c := range candidates {
		var sec *Section
		for _, it := range c.Items {
			text := strings.TrimSpace(it.Text)
			if text == "" {
				continue
			}
			cost := runeLen(text) + 1
			if sec == nil {
				cost = runeLen(c.Header) + 1 + runeLen(text)
				if out.Used > 0 {
					cost += 2
				}
			}
			if out.Used+cost > budget {
				break
			}

			if sec == nil {
				if out.Used > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(c.Header)
				b.WriteString("\n")
				out.Sections = append(out.Sections, Section{Name: c.Name, Header: c.Header})
				sec = &out.Sections[len(out.Sections)-1]
			} else {
				b.WriteString("\n")
			}
			b.WriteString(text)
			out.Used += cost
			sec.Items = append(sec.Items, text)

			switch it.Kind {
			case kindMemory:
				out.IncludedMemoryIDs = append(out.IncludedMemoryIDs, it.ID)
			case kindContext:
				out.IncludedContextIDs = append(out.IncludedContextIDs, it.ID)
			}
		}
	}
	out.Prompt = b.String()
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
