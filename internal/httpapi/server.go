package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/escalation"
	"github.com/ent0n29/solace/internal/events"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/persona"
	"github.com/ent0n29/solace/internal/risk"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/turn"
)

// Deps are the engine components the API serves. Metrics may be nil.
type Deps struct {
	Repo       memory.Repository
	Personas   *persona.Catalog
	Sessions   *session.Manager
	Pipeline   *turn.Pipeline
	Scorer     *risk.Scorer
	Dispatcher *escalation.Dispatcher
	Push       *escalation.PushHub
	Bus        *events.Bus
	Metrics    *observability.Metrics
}

type Server struct {
	cfg      config.Config
	repo     memory.Repository
	personas *persona.Catalog
	sessions *session.Manager
	pipeline *turn.Pipeline
	scorer   *risk.Scorer
	alerts   *escalation.Dispatcher
	push     *escalation.PushHub
	bus      *events.Bus
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		repo:     deps.Repo,
		personas: deps.Personas,
		sessions: deps.Sessions,
		pipeline: deps.Pipeline,
		scorer:   deps.Scorer,
		alerts:   deps.Dispatcher,
		push:     deps.Push,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/status", s.handleStatus)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	r.Post("/v1/turns", s.handleTurn)
	r.Post("/v1/assessments", s.handleAssessment)
	r.Get("/v1/assessments/questions", s.handleQuestions)
	r.Post("/v1/patterns/feedback", s.handleFeedback)

	r.Post("/v1/context-items", s.handleCreateContextItem)
	r.Get("/v1/users/{id}/memories", s.handleListMemories)
	r.Get("/v1/users/{id}/patterns", s.handleListPatterns)
	r.Get("/v1/users/{id}/context-items", s.handlePendingContext)
	r.Get("/v1/users/{id}/relationships/{persona}", s.handleRelationship)
	r.Delete("/v1/memories/{id}", s.handleDeleteMemory)

	r.Get("/v1/alerts", s.handleListAlerts)
	r.Get("/v1/alerts/ws", s.handleAlertsWS)
	r.Get("/v1/alerts/{id}", s.handleGetAlert)
	r.Post("/v1/alerts/{id}/resolve", s.handleResolveAlert)

	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// handleReady reports ready once the store answers and high-severity alerts
// have at least one channel.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.repo.ListAlerts(ctx, memory.AlertFilter{Limit: 1}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if err := s.alerts.Validate(memory.SeverityHigh); err != nil {
		respondError(w, http.StatusServiceUnavailable, "escalation_unconfigured", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// limitParam reads ?limit=, bounded to max.
func limitParam(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
