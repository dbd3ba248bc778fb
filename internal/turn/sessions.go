package turn

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/tracking"
)

// CompleteSession ends a session and folds what it accumulated into the
// user's relationship with the persona. progress is merged into the session's
// progress updates first.
func (p *Pipeline) CompleteSession(ctx context.Context, sessionID string, progress map[string]string) (memory.RelationshipState, error) {
	if p.deps.Sessions == nil {
		return memory.RelationshipState{}, fmt.Errorf("complete session: %w", session.ErrNotFound)
	}
	for key, value := range progress {
		if err := p.deps.Sessions.SetProgress(sessionID, key, value); err != nil {
			return memory.RelationshipState{}, fmt.Errorf("record progress: %w", err)
		}
	}
	s, err := p.deps.Sessions.End(sessionID)
	if err != nil {
		return memory.RelationshipState{}, fmt.Errorf("end session: %w", err)
	}
	p.deps.Metrics.SessionEvent("ended")
	return p.applySession(ctx, s)
}

// OnSessionExpired is the session janitor hook.
func (p *Pipeline) OnSessionExpired(s *session.Session) {
	p.deps.Metrics.SessionEvent("expired")
	if _, err := p.applySession(context.Background(), s); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("apply expired session to relationship")
	}
}

func (p *Pipeline) applySession(ctx context.Context, s *session.Session) (memory.RelationshipState, error) {
	personaID := p.deps.Personas.Get(s.PersonaID).ID
	var state memory.RelationshipState
	err := p.retryWrite(ctx, "update_relationship", func(ctx context.Context) error {
		var err error
		state, err = p.deps.Relationships.Update(ctx, tracking.RelationshipUpdate{
			UserID:                s.UserID,
			PersonaID:             personaID,
			SharedMemories:        s.SharedMemories,
			EffectiveTechniques:   s.EffectiveTechniques,
			IneffectiveTechniques: s.IneffectiveTechniques,
			ProgressUpdates:       s.ProgressUpdates,
		})
		return err
	})
	if err != nil {
		return memory.RelationshipState{}, err
	}
	log.Info().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Int("turns", s.TurnCount).
		Int("total_sessions", state.TotalSessions).
		Msg("session applied to relationship")
	return state, nil
}

type FeedbackRequest struct {
	UserID        string  `json:"user_id"`
	PatternType   string  `json:"pattern_type"`
	Effectiveness float64 `json:"effectiveness"`
	SessionID     string  `json:"session_id,omitempty"`
	Technique     string  `json:"technique,omitempty"`
}

// RecordFeedback blends an effectiveness rating into a pattern. When the
// rating names a technique used in an open session, the session remembers
// whether it helped.
func (p *Pipeline) RecordFeedback(ctx context.Context, req FeedbackRequest) (memory.EmotionalPattern, error) {
	if req.UserID == "" {
		return memory.EmotionalPattern{}, fmt.Errorf("%w: user_id is required", ErrInvalidTurn)
	}
	if req.PatternType == "" {
		req.PatternType = memory.PatternEmotionalRegulation
	}
	pattern, err := p.deps.Patterns.RecordFeedback(ctx, req.UserID, req.PatternType, req.Effectiveness)
	if err != nil {
		return memory.EmotionalPattern{}, err
	}
	p.deps.Metrics.PatternUpsert(req.PatternType)
	if req.SessionID != "" && req.Technique != "" && p.deps.Sessions != nil {
		if err := p.deps.Sessions.RecordTechnique(req.SessionID, req.Technique, req.Effectiveness >= 0.5); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("record technique feedback")
		}
	}
	return pattern, nil
}
