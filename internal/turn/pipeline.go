package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/solace/internal/assembler"
	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/generation"
	"github.com/ent0n29/solace/internal/insight"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/persona"
	"github.com/ent0n29/solace/internal/policy"
	"github.com/ent0n29/solace/internal/reliability"
	"github.com/ent0n29/solace/internal/risk"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/tracking"
)

var (
	// ErrUpstreamGeneration aborts a turn before anything is written.
	ErrUpstreamGeneration = errors.New("upstream generation failed")
	ErrInvalidTurn        = errors.New("invalid turn")
)

// Escalator opens alerts synchronously and dispatches them in the background.
type Escalator interface {
	Open(ctx context.Context, alert memory.CrisisAlert) (memory.CrisisAlert, error)
	Dispatch(ctx context.Context, alert memory.CrisisAlert) (memory.CrisisAlert, error)
}

// Publisher receives engine events.
type Publisher interface {
	Publish(e events.Event) events.Event
}

type Config struct {
	GenerationTimeout time.Duration
	HistoryLimit      int
	EscalateModerate  bool
	WriteRetryBase    time.Duration
}

// Deps are the collaborators of a Pipeline. Sessions, Bus and Metrics may be nil.
type Deps struct {
	Repo          memory.Repository
	Personas      *persona.Catalog
	Assembler     *assembler.Assembler
	Generator     generation.Generator
	Extractor     *insight.Extractor
	Patterns      *tracking.PatternTracker
	Relationships *tracking.RelationshipTracker
	Scorer        *risk.Scorer
	Escalator     Escalator
	Sessions      *session.Manager
	Bus           Publisher
	Metrics       *observability.Metrics
}

// Pipeline runs one user turn end to end: assemble, generate, extract, write
// state, score risk and escalate. It holds no per-user state, so turns for
// different users run in parallel.
type Pipeline struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	background sync.WaitGroup
}

func New(deps Deps, cfg Config) *Pipeline {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 30 * time.Second
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.WriteRetryBase <= 0 {
		cfg.WriteRetryBase = 100 * time.Millisecond
	}
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type Request struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

type Result struct {
	TurnID              string                `json:"turn_id"`
	SessionID           string                `json:"session_id,omitempty"`
	PersonaID           string                `json:"persona_id"`
	Reply               string                `json:"reply"`
	Emotion             string                `json:"emotion"`
	Memories            []memory.MemoryRecord `json:"memories,omitempty"`
	AddressedContextIDs []string              `json:"addressed_context_ids,omitempty"`
	ContextUsed         int                   `json:"context_used"`
	ContextBudget       int                   `json:"context_budget"`
	Risk                risk.Assessment       `json:"risk"`
	AlertID             string                `json:"alert_id,omitempty"`
	Resources           []string              `json:"resources,omitempty"`
	WriteErrors         []error               `json:"-"`
	ClassifierErrors    []error               `json:"-"`
}

// Process runs a turn. When generation fails the error wraps
// ErrUpstreamGeneration and no state has been written.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	req.UserID = strings.TrimSpace(req.UserID)
	req.Text = strings.TrimSpace(req.Text)
	if req.UserID == "" || req.Text == "" {
		return Result{}, fmt.Errorf("%w: user_id and text are required", ErrInvalidTurn)
	}

	res := Result{TurnID: uuid.NewString(), SessionID: req.SessionID}
	if req.SessionID != "" && p.deps.Sessions != nil {
		sess, err := p.deps.Sessions.BeginTurn(req.SessionID, req.UserID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidTurn, err)
		}
		if req.PersonaID == "" {
			req.PersonaID = sess.PersonaID
		}
	}
	res.PersonaID = p.deps.Personas.Get(req.PersonaID).ID

	stage := time.Now()
	asm, err := p.deps.Assembler.Assemble(ctx, req.UserID, res.PersonaID)
	if err != nil {
		p.deps.Metrics.TurnOutcome("assemble_error")
		return Result{}, err
	}
	p.deps.Metrics.ObserveStage(observability.StageAssemble, time.Since(stage))
	if len(asm.Errors) > 0 {
		p.deps.Metrics.CountTurnEvent("degraded_context")
	}
	res.ContextUsed, res.ContextBudget = asm.Used, asm.Budget

	reply, err := p.generate(ctx, req, asm.Prompt)
	if err != nil {
		p.deps.Metrics.TurnOutcome("upstream_error")
		return Result{}, err
	}
	res.Reply = reply

	stage = time.Now()
	extracted := p.deps.Extractor.Extract(insight.Input{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		UserText:  req.Text,
		ReplyText: reply,
	})
	p.deps.Metrics.ObserveStage(observability.StageExtract, time.Since(stage))
	res.ClassifierErrors = extracted.Errors
	for _, cerr := range extracted.Errors {
		log.Warn().Err(cerr).Str("user_id", req.UserID).Str("turn_id", res.TurnID).Msg("insight classifier dropped")
	}

	// Writes outlive a disconnected client once the reply exists.
	stage = time.Now()
	p.write(context.WithoutCancel(ctx), req, asm, extracted, &res)
	p.deps.Metrics.ObserveStage(observability.StageWrites, time.Since(stage))

	stage = time.Now()
	assessment, err := p.deps.Scorer.Evaluate(risk.Input{Text: req.Text})
	if err != nil {
		// Free text alone cannot produce an answer validation error.
		log.Error().Err(err).Str("user_id", req.UserID).Msg("evaluate turn risk")
	}
	p.deps.Metrics.ObserveStage(observability.StageRisk, time.Since(stage))
	res.Risk = assessment
	p.handleRisk(ctx, req.UserID, map[string]string{
		"source":     "turn",
		"turn_id":    res.TurnID,
		"session_id": req.SessionID,
	}, assessment, &res.AlertID, &res.Resources)

	outcome := "ok"
	if len(res.WriteErrors) > 0 {
		outcome = "partial_write"
	}
	p.deps.Metrics.TurnOutcome(outcome)
	p.deps.Metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	log.Info().
		Str("user_id", req.UserID).
		Str("turn_id", res.TurnID).
		Str("persona_id", res.PersonaID).
		Int("memories", len(res.Memories)).
		Str("emotion", res.Emotion).
		Str("risk_band", string(assessment.Band)).
		Int("write_errors", len(res.WriteErrors)).
		Dur("elapsed", time.Since(started)).
		Msg("turn processed")
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, req Request, systemPrompt string) (string, error) {
	var history []generation.Message
	if p.cfg.HistoryLimit > 0 {
		turns, err := p.deps.Repo.RecentTurns(ctx, req.UserID, p.cfg.HistoryLimit)
		if err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("load turn history")
		}
		for _, t := range turns {
			history = append(history, generation.Message{Role: t.Role, Content: t.Content})
		}
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
	defer cancel()
	started := time.Now()
	resp, err := p.deps.Generator.Generate(gctx, generation.Request{
		SystemPrompt: systemPrompt,
		History:      history,
		UserTurn:     req.Text,
	})
	p.deps.Metrics.ObserveGeneration(time.Since(started))
	p.deps.Metrics.ObserveStage(observability.StageGenerate, time.Since(started))
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		var upstream *generation.UpstreamError
		provider, code := "unknown", "error"
		if errors.As(err, &upstream) {
			provider = upstream.Provider
			if upstream.Timeout() {
				code = "timeout"
			} else if upstream.StatusCode > 0 {
				code = fmt.Sprintf("%d", upstream.StatusCode)
			}
		}
		p.deps.Metrics.ProviderError(provider, code)
		log.Warn().Err(err).Str("user_id", req.UserID).Str("provider", provider).Msg("generation failed")
		return "", fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// write issues the turn's independent writes concurrently. A failed write is
// retried once; it never cancels or rolls back the others.
func (p *Pipeline) write(ctx context.Context, req Request, asm assembler.Assembly, extracted insight.Result, res *Result) {
	var (
		mu        sync.Mutex
		inserted  = make([]memory.MemoryRecord, len(extracted.Drafts))
		addressed []string
	)
	fail := func(err error) {
		mu.Lock()
		res.WriteErrors = append(res.WriteErrors, err)
		mu.Unlock()
	}

	var g errgroup.Group
	for i, draft := range extracted.Drafts {
		g.Go(func() error {
			err := p.retryWrite(ctx, "insert_memory", func(ctx context.Context) error {
				rec, err := p.deps.Repo.InsertMemory(ctx, draft)
				if err != nil {
					return err
				}
				inserted[i] = rec
				return nil
			})
			if err != nil {
				fail(err)
				return nil
			}
			p.deps.Metrics.Insight(string(draft.MemoryType))
			p.publish(events.MemoryRecorded, req.UserID, inserted[i].ID, map[string]any{
				"memory_type": inserted[i].MemoryType,
				"title":       inserted[i].Title,
				"importance":  inserted[i].ImportanceScore,
			})
			return nil
		})
	}

	g.Go(func() error {
		err := p.retryWrite(ctx, "upsert_pattern", func(ctx context.Context) error {
			obs, err := p.deps.Patterns.Track(ctx, req.UserID, req.Text)
			mu.Lock()
			res.Emotion = string(obs.Emotion)
			mu.Unlock()
			if err == nil && obs.Pattern != nil {
				p.deps.Metrics.PatternUpsert(obs.Pattern.PatternType)
			}
			return err
		})
		if err != nil {
			fail(err)
		}
		return nil
	})

	for _, id := range asm.IncludedContextIDs {
		g.Go(func() error {
			var changed bool
			err := p.retryWrite(ctx, "mark_context_addressed", func(ctx context.Context) error {
				var err error
				changed, err = p.deps.Repo.MarkContextAddressed(ctx, id)
				if errors.Is(err, memory.ErrNotFound) {
					return reliability.Permanent(err)
				}
				return err
			})
			if err != nil {
				fail(err)
				return nil
			}
			if changed {
				mu.Lock()
				addressed = append(addressed, id)
				mu.Unlock()
				p.publish(events.ContextItemAddressed, req.UserID, id, nil)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := p.saveTurns(ctx, req, res); err != nil {
			fail(err)
		}
		return nil
	})

	if req.SessionID == "" {
		g.Go(func() error {
			err := p.retryWrite(ctx, "update_relationship", func(ctx context.Context) error {
				_, err := p.deps.Relationships.Update(ctx, tracking.RelationshipUpdate{
					UserID:         req.UserID,
					PersonaID:      res.PersonaID,
					SharedMemories: asm.IncludedMemoryIDs,
				})
				return err
			})
			if err != nil {
				fail(err)
			}
			return nil
		})
	}

	_ = g.Wait()

	for _, rec := range inserted {
		if rec.ID != "" {
			res.Memories = append(res.Memories, rec)
		}
	}
	res.AddressedContextIDs = memory.NormalizeSet(addressed)

	if req.SessionID != "" && p.deps.Sessions != nil {
		shared := append([]string(nil), asm.IncludedMemoryIDs...)
		for _, rec := range res.Memories {
			shared = append(shared, rec.ID)
		}
		if err := p.deps.Sessions.AddSharedMemories(req.SessionID, shared...); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("record shared memories")
		}
	}
}

// saveTurns stores the redacted user and assistant turns in order.
func (p *Pipeline) saveTurns(ctx context.Context, req Request, res *Result) error {
	now := p.now()
	userText, userRedacted := policy.RedactPII(req.Text)
	replyText, replyRedacted := policy.RedactPII(res.Reply)
	records := []memory.TurnRecord{
		{UserID: req.UserID, SessionID: req.SessionID, Role: "user", Content: userText, PIIRedacted: userRedacted, CreatedAt: now},
		{UserID: req.UserID, SessionID: req.SessionID, Role: "assistant", Content: replyText, PIIRedacted: replyRedacted, CreatedAt: now.Add(time.Microsecond)},
	}
	for _, rec := range records {
		err := p.retryWrite(ctx, "save_turn", func(ctx context.Context) error {
			return p.deps.Repo.SaveTurn(ctx, rec)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) retryWrite(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts, err := reliability.Retry(ctx, reliability.Policy{
		Attempts: 2,
		Base:     p.cfg.WriteRetryBase,
		Cap:      p.cfg.WriteRetryBase,
	}, fn)
	if err == nil {
		if attempts > 1 {
			p.deps.Metrics.CountTurnEvent("write_retry_" + op)
		}
		return nil
	}
	p.deps.Metrics.WriteError(op)
	werr := &memory.WriteError{Op: op, Err: err}
	log.Error().Err(werr).Int("attempts", attempts).Msg("repository write failed")
	return werr
}

func (p *Pipeline) publish(t events.Type, userID, subjectID string, payload any) {
	if p.deps.Bus == nil {
		return
	}
	p.deps.Bus.Publish(events.Event{Type: t, UserID: userID, SubjectID: subjectID, Payload: payload})
}

// Wait blocks until background escalations started by this pipeline return.
func (p *Pipeline) Wait() {
	p.background.Wait()
}
