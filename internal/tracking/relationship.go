package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRapportChange = 0.1
	DefaultTrustChange   = 0.05
)

// RelationshipStore is the slice of memory.Repository the relationship tracker writes to.
type RelationshipStore interface {
	UpsertRelationship(ctx context.Context, userID, personaID string, mutate func(*memory.RelationshipState)) (memory.RelationshipState, error)
}

// RelationshipUpdate describes what one completed session contributes.
// Nil changes fall back to the defaults.
type RelationshipUpdate struct {
	UserID                string
	PersonaID             string
	RapportChange         *float64
	TrustChange           *float64
	SharedMemories        []string
	EffectiveTechniques   []string
	IneffectiveTechniques []string
	ProgressUpdates       map[string]string
}

// RelationshipTracker maintains longitudinal rapport between a user and a persona.
type RelationshipTracker struct {
	store RelationshipStore
	now   func() time.Time
}

func NewRelationshipTracker(store RelationshipStore) *RelationshipTracker {
	return &RelationshipTracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Update records one completed session.
func (t *RelationshipTracker) Update(ctx context.Context, u RelationshipUpdate) (memory.RelationshipState, error) {
	if u.UserID == "" || u.PersonaID == "" {
		return memory.RelationshipState{}, fmt.Errorf("relationship update requires user_id and persona_id")
	}
	now := t.now()
	state, err := t.store.UpsertRelationship(ctx, u.UserID, u.PersonaID, func(s *memory.RelationshipState) {
		ApplyUpdate(s, u, now)
	})
	if err != nil {
		return memory.RelationshipState{}, fmt.Errorf("update relationship: %w", err)
	}

	log.Debug().
		Str("user_id", u.UserID).
		Str("persona_id", u.PersonaID).
		Int("total_sessions", state.TotalSessions).
		Float64("rapport", state.RapportScore).
		Msg("relationship updated")
	return state, nil
}

// ApplyUpdate merges u into s. Sets are unioned, maps shallow-merged, and a
// technique moved to one side is removed from the other. A technique named on
// both sides of the same update counts as effective.
func ApplyUpdate(s *memory.RelationshipState, u RelationshipUpdate, now time.Time) {
	rapport := DefaultRapportChange
	if u.RapportChange != nil {
		rapport = *u.RapportChange
	}
	trust := DefaultTrustChange
	if u.TrustChange != nil {
		trust = *u.TrustChange
	}

	s.RapportScore = clamp01(s.RapportScore + rapport)
	s.TrustLevel = clamp01(s.TrustLevel + trust)
	s.TotalSessions++
	s.LastInteraction = now

	s.SharedMemories = memory.NormalizeSet(append(s.SharedMemories, u.SharedMemories...))
	s.EffectiveTechniques = memory.NormalizeSet(append(without(s.EffectiveTechniques, u.IneffectiveTechniques), u.EffectiveTechniques...))
	s.IneffectiveTechniques = memory.NormalizeSet(without(append(s.IneffectiveTechniques, u.IneffectiveTechniques...), u.EffectiveTechniques))

	if s.ProgressUpdates == nil {
		s.ProgressUpdates = make(map[string]string, len(u.ProgressUpdates))
	}
	for k, v := range u.ProgressUpdates {
		s.ProgressUpdates[k] = v
	}
}

func without(set, remove []string) []string {
	if len(remove) == 0 {
		return set
	}
	drop := make(map[string]struct{}, len(remove))
	for _, r := range remove {
		drop[r] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for _, v := range set {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
