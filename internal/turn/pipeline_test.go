package turn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ent0n29/solace/internal/assembler"
	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/generation"
	"github.com/ent0n29/solace/internal/insight"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/persona"
	"github.com/ent0n29/solace/internal/risk"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/tracking"
)

type stubGenerator struct {
	reply string
	err   error
	calls atomic.Int32
}

func (g *stubGenerator) Generate(ctx context.Context, req generation.Request) (generation.Response, error) {
	g.calls.Add(1)
	if g.err != nil {
		return generation.Response{}, g.err
	}
	return generation.Response{Text: g.reply}, nil
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _ generation.Request) (generation.Response, error) {
	<-ctx.Done()
	return generation.Response{}, &generation.UpstreamError{Provider: "stub", Err: ctx.Err()}
}

type recordingChannel struct {
	delivered atomic.Int32
}

func (c *recordingChannel) ID() string             { return "push" }
func (c *recordingChannel) EnabledFor(string) bool { return true }
func (c *recordingChannel) Deliver(context.Context, memory.CrisisAlert) (escalation.DeliveryResult, error) {
	c.delivered.Add(1)
	return escalation.DeliveryResult{Detail: "ok"}, nil
}

// flakyRepo fails InsertMemory a fixed number of times.
type flakyRepo struct {
	memory.Repository
	failures atomic.Int32
}

func (r *flakyRepo) InsertMemory(ctx context.Context, rec memory.MemoryRecord) (memory.MemoryRecord, error) {
	if r.failures.Add(-1) >= 0 {
		return memory.MemoryRecord{}, errors.New("connection reset")
	}
	return r.Repository.InsertMemory(ctx, rec)
}

type fixture struct {
	pipeline *Pipeline
	repo     memory.Repository
	store    *memory.InMemoryStore
	bus      *events.Bus
	sessions *session.Manager
	channel  *recordingChannel
	dispatch *escalation.Dispatcher
}

type option func(*Deps, *Config)

func newFixture(t *testing.T, gen generation.Generator, opts ...option) *fixture {
	t.Helper()
	store := memory.NewInMemoryStore()
	personas, err := persona.Load()
	require.NoError(t, err)
	rules, err := insight.LoadRules("")
	require.NoError(t, err)
	extractor, err := insight.NewExtractor(rules)
	require.NoError(t, err)
	q, err := risk.LoadQuestionnaire("")
	require.NoError(t, err)
	scorer, err := risk.NewScorer(q)
	require.NoError(t, err)

	bus := events.NewBus(0)
	ch := &recordingChannel{}
	dispatcher := escalation.NewDispatcher(store, escalation.BuildTiers(ch), escalation.Config{
		ChannelTimeout: time.Second,
		Ceiling:        time.Second,
		MaxAttempts:    1,
	}, nil, bus)
	sessions := session.NewManager(time.Minute)

	deps := Deps{
		Repo:          store,
		Personas:      personas,
		Assembler:     assembler.New(store, personas, assembler.DefaultConfig()),
		Generator:     gen,
		Extractor:     extractor,
		Patterns:      tracking.NewPatternTracker(store),
		Relationships: tracking.NewRelationshipTracker(store),
		Scorer:        scorer,
		Escalator:     dispatcher,
		Sessions:      sessions,
		Bus:           bus,
	}
	cfg := Config{GenerationTimeout: time.Second, HistoryLimit: 6, WriteRetryBase: time.Millisecond}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	return &fixture{
		pipeline: New(deps, cfg),
		repo:     deps.Repo,
		store:    store,
		bus:      bus,
		sessions: sessions,
		channel:  ch,
		dispatch: dispatcher,
	}
}

func eventTypes(bus *events.Bus) map[events.Type]int {
	out := map[events.Type]int{}
	for _, e := range bus.Recent(0) {
		out[e.Type]++
	}
	return out
}

func TestProcessRecordsBreakthrough(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &stubGenerator{reply: "That sounds like an important realization."})
	ctx := context.Background()

	res, err := f.pipeline.Process(ctx, Request{
		UserID:    "u1",
		PersonaID: "warm",
		Text:      "I realize now that my anger comes from fear",
	})
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Equal(t, "angry", res.Emotion)
	assert.Empty(t, res.WriteErrors)
	require.NotEmpty(t, res.Memories)
	assert.Equal(t, memory.TypeBreakthrough, res.Memories[0].MemoryType)
	assert.InDelta(t, 0.9, res.Memories[0].ImportanceScore, 1e-9)

	top, err := f.store.TopMemories(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, memory.TypeBreakthrough, top[0].MemoryType)

	turns, err := f.store.RecentTurns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)

	patterns, err := f.store.Patterns(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1.0, patterns[0].FrequencyScore)

	rel, err := f.store.Relationship(ctx, "u1", "warm")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, 1, rel.TotalSessions)

	assert.Equal(t, len(res.Memories), eventTypes(f.bus)[events.MemoryRecorded])
	assert.Equal(t, risk.BandLow, res.Risk.Band)
	assert.Empty(t, res.AlertID)
}

func TestProcessUpstreamFailureWritesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &stubGenerator{err: &generation.UpstreamError{Provider: "stub", StatusCode: 503, Err: errors.New("unavailable")}})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, Request{UserID: "u1", Text: "I realize now that I feel anxious and want to kill myself"})
	require.ErrorIs(t, err, ErrUpstreamGeneration)
	var upstream *generation.UpstreamError
	require.ErrorAs(t, err, &upstream)

	top, _ := f.store.TopMemories(ctx, "u1", 5)
	assert.Empty(t, top)
	turns, _ := f.store.RecentTurns(ctx, "u1", 5)
	assert.Empty(t, turns)
	patterns, _ := f.store.Patterns(ctx, "u1", 5)
	assert.Empty(t, patterns)
	alerts, _ := f.store.ListAlerts(ctx, memory.AlertFilter{UserID: "u1"})
	assert.Empty(t, alerts)
	assert.Empty(t, f.bus.Recent(0))
}

func TestProcessGenerationTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, blockingGenerator{}, func(_ *Deps, c *Config) {
		c.GenerationTimeout = 20 * time.Millisecond
	})
	started := time.Now()
	_, err := f.pipeline.Process(context.Background(), Request{UserID: "u1", Text: "hello"})
	require.ErrorIs(t, err, ErrUpstreamGeneration)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)

	turns, _ := f.store.RecentTurns(context.Background(), "u1", 5)
	assert.Empty(t, turns)
}

func TestProcessMarksContextAddressedOnce(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: "Let's talk about that."})
	ctx := context.Background()

	item, err := f.store.InsertContextItem(ctx, memory.SessionContextItem{
		UserID:        "u1",
		ContextType:   "intake",
		ContextData:   "Trouble sleeping since the move",
		PriorityLevel: 8,
	})
	require.NoError(t, err)

	res, err := f.pipeline.Process(ctx, Request{UserID: "u1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, res.AddressedContextIDs)

	pending, err := f.store.PendingContext(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Empty(t, pending)

	res, err = f.pipeline.Process(ctx, Request{UserID: "u1", Text: "hi again"})
	require.NoError(t, err)
	assert.Empty(t, res.AddressedContextIDs)
	assert.Equal(t, 1, eventTypes(f.bus)[events.ContextItemAddressed])
}

func TestProcessRetriesFailedWriteOnce(t *testing.T) {
	repo := &flakyRepo{}
	f := newFixture(t, &stubGenerator{reply: "ok"}, func(d *Deps, _ *Config) {
		repo.Repository = d.Repo
		repo.failures.Store(1)
		d.Repo = repo
	})

	res, err := f.pipeline.Process(context.Background(), Request{UserID: "u1", Text: "My goal is to sleep more"})
	require.NoError(t, err)
	assert.Empty(t, res.WriteErrors)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, memory.TypeGoal, res.Memories[0].MemoryType)
}

func TestProcessWriteFailureDoesNotBlockOtherWrites(t *testing.T) {
	repo := &flakyRepo{}
	f := newFixture(t, &stubGenerator{reply: "ok"}, func(d *Deps, _ *Config) {
		repo.Repository = d.Repo
		repo.failures.Store(100)
		d.Repo = repo
	})
	ctx := context.Background()

	res, err := f.pipeline.Process(ctx, Request{UserID: "u1", Text: "My goal is to feel less sad"})
	require.NoError(t, err)
	require.Len(t, res.WriteErrors, 1)
	var werr *memory.WriteError
	require.ErrorAs(t, res.WriteErrors[0], &werr)
	assert.Equal(t, "insert_memory", werr.Op)
	assert.Empty(t, res.Memories)

	turns, _ := f.store.RecentTurns(ctx, "u1", 5)
	assert.Len(t, turns, 2)
	patterns, _ := f.store.Patterns(ctx, "u1", 5)
	assert.Len(t, patterns, 1)
}

func TestProcessRedactsStoredTurns(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: "Thanks for sharing."})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, Request{UserID: "u1", Text: "reach me at jane@example.com"})
	require.NoError(t, err)
	turns, _ := f.store.RecentTurns(ctx, "u1", 5)
	require.Len(t, turns, 2)
	assert.NotContains(t, turns[0].Content, "jane@example.com")
	assert.True(t, turns[0].PIIRedacted)
}

func TestProcessModerateRiskSurfacesResources(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &stubGenerator{reply: "I'm here with you."})
	res, err := f.pipeline.Process(context.Background(), Request{UserID: "u1", Text: "sometimes I want to die"})
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Equal(t, risk.BandModerate, res.Risk.Band)
	assert.True(t, res.Risk.TextSignal)
	assert.NotEmpty(t, res.Resources)
	assert.Empty(t, res.AlertID)
	assert.Equal(t, int32(0), f.channel.delivered.Load())
}

func TestProcessModerateRiskEscalatesWhenConfigured(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &stubGenerator{reply: "I'm here with you."}, func(_ *Deps, c *Config) {
		c.EscalateModerate = true
	})
	ctx := context.Background()
	res, err := f.pipeline.Process(ctx, Request{UserID: "u1", Text: "sometimes I want to die"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AlertID)
	f.pipeline.Wait()
	f.dispatch.Wait()

	alert, err := f.store.Alert(ctx, res.AlertID)
	require.NoError(t, err)
	assert.Equal(t, memory.AlertDelivered, alert.Status)
	assert.Equal(t, memory.SeverityMedium, alert.Severity)
	assert.Equal(t, "moderate_risk", alert.AlertType)
	assert.Equal(t, "turn", alert.TriggerData["source"])
	assert.Equal(t, int32(1), f.channel.delivered.Load())
}

func TestAssessCriticalEscalates(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, &stubGenerator{reply: "unused"})
	ctx := context.Background()
	out, err := f.pipeline.Assess(ctx, AssessRequest{
		UserID: "u1",
		Answers: risk.Answers{
			"suicidal_thoughts": "4",
			"suicide_plan":      "3",
			"self_harm_history": "4",
			"hopelessness":      "4",
			"substance_use":     "3",
			"isolation":         "3",
			"support_system":    "0",
		},
	})
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Equal(t, 100.0, out.Assessment.Score)
	assert.Equal(t, risk.BandCritical, out.Assessment.Band)
	require.NotEmpty(t, out.AlertID)
	assert.NotEmpty(t, out.Resources)

	alert, err := f.store.Alert(ctx, out.AlertID)
	require.NoError(t, err)
	assert.Equal(t, "critical_risk", alert.AlertType)
	assert.Equal(t, memory.SeverityHigh, alert.Severity)
	assert.Equal(t, memory.AlertDelivered, alert.Status)
}

func TestAssessRejectsInvalidAnswers(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: "unused"})
	_, err := f.pipeline.Assess(context.Background(), AssessRequest{UserID: "u1", Answers: risk.Answers{"nope": "1"}})
	require.ErrorIs(t, err, risk.ErrInvalidAnswer)
}

func TestProcessRejectsInvalidRequests(t *testing.T) {
	gen := &stubGenerator{reply: "unused"}
	f := newFixture(t, gen)

	_, err := f.pipeline.Process(context.Background(), Request{UserID: "u1", Text: "  "})
	require.ErrorIs(t, err, ErrInvalidTurn)

	s := f.sessions.Create("u2", "warm")
	_, err = f.pipeline.Process(context.Background(), Request{UserID: "u1", SessionID: s.ID, Text: "hi"})
	require.ErrorIs(t, err, ErrInvalidTurn)
	require.ErrorIs(t, err, session.ErrUserMismatch)
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestSessionLifecycleUpdatesRelationshipOnce(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: "Let's try box breathing together."})
	ctx := context.Background()

	s := f.sessions.Create("u1", "professional")
	res, err := f.pipeline.Process(ctx, Request{UserID: "u1", SessionID: s.ID, Text: "I feel anxious about work"})
	require.NoError(t, err)
	assert.Equal(t, "professional", res.PersonaID)

	rel, err := f.store.Relationship(ctx, "u1", "professional")
	require.NoError(t, err)
	assert.Nil(t, rel, "turns inside a session must not update the relationship")

	_, err = f.pipeline.RecordFeedback(ctx, FeedbackRequest{
		UserID:        "u1",
		Effectiveness: 0.9,
		SessionID:     s.ID,
		Technique:     "box_breathing",
	})
	require.NoError(t, err)

	state, err := f.pipeline.CompleteSession(ctx, s.ID, map[string]string{"sleep": "improving"})
	require.NoError(t, err)
	assert.Equal(t, 1, state.TotalSessions)
	assert.Equal(t, map[string]string{"sleep": "improving"}, state.ProgressUpdates)
	assert.Equal(t, []string{"box_breathing"}, state.EffectiveTechniques)
	for _, m := range res.Memories {
		assert.Contains(t, state.SharedMemories, m.ID)
	}
	assert.InDelta(t, 0.6, state.RapportScore, 1e-9)

	_, err = f.pipeline.CompleteSession(ctx, s.ID, nil)
	require.ErrorIs(t, err, session.ErrEnded)

	stored, err := f.store.Relationship(ctx, "u1", "professional")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "improving", stored.ProgressUpdates["sleep"])
}

func TestOnSessionExpiredAppliesRelationship(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("solace_turn_test_%d", time.Now().UnixNano()))
	f := newFixture(t, &stubGenerator{reply: "unused"}, func(d *Deps, _ *Config) {
		d.Metrics = metrics
	})
	ctx := context.Background()

	_, err := f.store.UpsertRelationship(ctx, "u1", "warm", func(r *memory.RelationshipState) {
		r.TotalSessions = 2
		r.IneffectiveTechniques = []string{"journaling"}
		r.EffectiveTechniques = []string{"walking"}
	})
	require.NoError(t, err)

	f.pipeline.OnSessionExpired(&session.Session{
		ID:                  "s-expired",
		UserID:              "u1",
		PersonaID:           "warm",
		SharedMemories:      []string{"m1"},
		EffectiveTechniques: []string{"journaling"},
		ProgressUpdates:     map[string]string{"work": "calmer"},
	})

	rel, err := f.store.Relationship(ctx, "u1", "warm")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, 3, rel.TotalSessions)
	assert.ElementsMatch(t, []string{"journaling", "walking"}, rel.EffectiveTechniques)
	assert.Empty(t, rel.IneffectiveTechniques)
	assert.Equal(t, []string{"m1"}, rel.SharedMemories)
	assert.Equal(t, "calmer", rel.ProgressUpdates["work"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionEvents.WithLabelValues("expired")))
}

func TestRecordFeedbackBlendsEffectiveness(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: "unused"})
	p, err := f.pipeline.RecordFeedback(context.Background(), FeedbackRequest{UserID: "u1", Effectiveness: 1})
	require.NoError(t, err)
	assert.Equal(t, memory.PatternEmotionalRegulation, p.PatternType)
	assert.InDelta(t, 0.65, p.EffectivenessScore, 1e-9)
}
