package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/solace/internal/assembler"
	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/generation"
	"github.com/ent0n29/solace/internal/httpapi"
	"github.com/ent0n29/solace/internal/insight"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/persona"
	"github.com/ent0n29/solace/internal/risk"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/tracking"
	"github.com/ent0n29/solace/internal/turn"
)

// recentEvents is how many engine events the bus keeps for replay.
const recentEvents = 200

type ChannelInfo struct {
	Detail string
	Tiers  map[memory.Severity][]string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Repo       memory.Repository
	Sessions   *session.Manager
	Pipeline   *turn.Pipeline
	Dispatcher *escalation.Dispatcher
	Bus        *events.Bus
	Metrics    *observability.Metrics
	Channels   ChannelInfo

	// Cleanup should be called on shutdown, after in-flight work has drained.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	repo, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*BuildResult, error) {
		_ = repo.Close()
		return nil, err
	}

	personas, err := persona.Load()
	if err != nil {
		return fail(fmt.Errorf("persona catalog init failed: %w", err))
	}

	rules, err := insight.LoadRules(cfg.InsightRulesPath)
	if err != nil {
		return fail(err)
	}
	extractor, err := insight.NewExtractor(rules)
	if err != nil {
		return fail(fmt.Errorf("insight extractor init failed: %w", err))
	}

	scorer, err := NewScorer(cfg)
	if err != nil {
		return fail(err)
	}

	generator, err := generation.NewGenerator(generation.Config{
		Mode:             cfg.GenerationMode,
		HTTPURL:          cfg.GenerationHTTPURL,
		HTTPStreamStrict: cfg.GenerationHTTPStrict,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
		MaxTokens:        int64(cfg.GenerationMaxTokens),
	})
	if err != nil {
		return fail(fmt.Errorf("generator init failed: %w", err))
	}

	asm := assembler.New(repo, personas, assembler.Config{
		BudgetChars:  cfg.ContextBudgetChars,
		MemoryLimit:  cfg.ContextMemoryLimit,
		PatternLimit: cfg.ContextPatternLimit,
		ItemLimit:    cfg.ContextItemLimit,
	})

	bus := events.NewBus(recentEvents)
	bus.SetPublishHook(func(e events.Event, dropped int) {
		metrics.EventPublished(string(e.Type))
		if dropped > 0 {
			log.Debug().Str("event", string(e.Type)).Int("dropped", dropped).Msg("slow event subscribers skipped")
		}
	})

	channels, err := resolveChannels(cfg)
	if err != nil {
		return fail(err)
	}
	dispatcher := escalation.NewDispatcher(repo, escalation.BuildTiers(channels.push, channels.external...), escalation.Config{
		ChannelTimeout: cfg.EscalationChannelTimeout,
		Ceiling:        cfg.EscalationCeiling,
		MaxAttempts:    cfg.EscalationMaxAttempts,
	}, metrics, bus)
	// High-severity alerts must always have somewhere to go.
	if err := dispatcher.Validate(memory.SeverityHigh); err != nil {
		metrics.FatalEscalationConfig()
		return fail(fmt.Errorf("escalation config invalid: %w", err))
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	pipeline := turn.New(turn.Deps{
		Repo:          repo,
		Personas:      personas,
		Assembler:     asm,
		Generator:     generator,
		Extractor:     extractor,
		Patterns:      tracking.NewPatternTracker(repo),
		Relationships: tracking.NewRelationshipTracker(repo),
		Scorer:        scorer,
		Escalator:     dispatcher,
		Sessions:      sessions,
		Bus:           bus,
		Metrics:       metrics,
	}, turn.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		HistoryLimit:      cfg.HistoryLimit,
		EscalateModerate:  cfg.EscalateModerate,
	})

	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		pipeline.OnSessionExpired(s)
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Repo:       repo,
		Personas:   personas,
		Sessions:   sessions,
		Pipeline:   pipeline,
		Scorer:     scorer,
		Dispatcher: dispatcher,
		Push:       channels.push,
		Bus:        bus,
		Metrics:    metrics,
	})

	cleanup := func() error {
		var errs []error
		if err := repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Repo:       repo,
		Sessions:   sessions,
		Pipeline:   pipeline,
		Dispatcher: dispatcher,
		Bus:        bus,
		Metrics:    metrics,
		Channels: ChannelInfo{
			Detail: channels.detail,
			Tiers:  dispatcher.ChannelIDs(),
		},
		Cleanup: cleanup,
	}, nil
}

// OpenStore opens the configured repository backend.
func OpenStore(ctx context.Context, cfg config.Config) (memory.Repository, error) {
	repo, err := memory.NewStore(ctx, memory.StoreConfig{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	return repo, nil
}

// NewScorer loads the configured questionnaire, or the embedded default.
func NewScorer(cfg config.Config) (*risk.Scorer, error) {
	q, err := risk.LoadQuestionnaire(cfg.RiskQuestionnairePath)
	if err != nil {
		return nil, err
	}
	scorer, err := risk.NewScorer(q)
	if err != nil {
		return nil, fmt.Errorf("risk scorer init failed: %w", err)
	}
	return scorer, nil
}
