package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/risk"
)

type AssessRequest struct {
	UserID  string       `json:"user_id"`
	Answers risk.Answers `json:"answers"`
	Text    string       `json:"text,omitempty"`
}

type AssessResult struct {
	Assessment risk.Assessment `json:"assessment"`
	AlertID    string          `json:"alert_id,omitempty"`
	Resources  []string        `json:"resources,omitempty"`
}

// Assess scores a questionnaire submission and escalates like a turn would.
// Answer validation errors wrap risk.ErrInvalidAnswer.
func (p *Pipeline) Assess(ctx context.Context, req AssessRequest) (AssessResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return AssessResult{}, fmt.Errorf("%w: user_id is required", ErrInvalidTurn)
	}
	a, err := p.deps.Scorer.Evaluate(risk.Input{Answers: req.Answers, Text: req.Text})
	if err != nil {
		return AssessResult{}, fmt.Errorf("score questionnaire: %w", err)
	}
	out := AssessResult{Assessment: a}
	p.handleRisk(ctx, req.UserID, map[string]string{"source": "questionnaire"}, a, &out.AlertID, &out.Resources)
	log.Info().
		Str("user_id", req.UserID).
		Float64("score", a.Score).
		Str("band", string(a.Band)).
		Str("alert_id", out.AlertID).
		Msg("questionnaire assessed")
	return out, nil
}

// handleRisk records the band, opens an alert when the band escalates and
// surfaces crisis resources for anything above low. Opening the alert is
// synchronous so a high result is durable before the caller returns; channel
// delivery runs detached from ctx.
func (p *Pipeline) handleRisk(ctx context.Context, userID string, extra map[string]string, a risk.Assessment, alertID *string, resources *[]string) {
	p.deps.Metrics.RiskBand(string(a.Band))
	if a.Band != risk.BandLow {
		*resources = p.deps.Scorer.Resources()
	}
	if !a.Band.ShouldEscalate(p.cfg.EscalateModerate) {
		if a.Band != risk.BandLow {
			p.deps.Metrics.CountTurnEvent("resources_without_escalation")
		}
		return
	}

	trigger := a.TriggerData()
	for k, v := range extra {
		if v != "" {
			trigger[k] = v
		}
	}
	alert, err := p.deps.Escalator.Open(ctx, memory.CrisisAlert{
		UserID:      userID,
		AlertType:   a.Band.AlertType(),
		Severity:    a.Severity(),
		Confidence:  a.Confidence,
		TriggerData: trigger,
	})
	if err != nil {
		log.Error().Err(err).
			Str("user_id", userID).
			Str("band", string(a.Band)).
			Msg("could not open crisis alert")
		return
	}
	*alertID = alert.ID

	p.background.Add(1)
	go func() {
		defer p.background.Done()
		_, err := p.deps.Escalator.Dispatch(context.WithoutCancel(ctx), alert)
		if err != nil && !errors.Is(err, escalation.ErrNoChannels) {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("dispatch crisis alert")
		}
	}()
}
