package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/policy"
)

type createContextItemRequest struct {
	UserID        string `json:"user_id"`
	ContextType   string `json:"context_type"`
	ContextData   string `json:"context_data"`
	PriorityLevel int    `json:"priority_level"`
}

func (s *Server) handleCreateContextItem(w http.ResponseWriter, r *http.Request) {
	var req createContextItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ContextType = strings.TrimSpace(req.ContextType)
	req.ContextData = strings.TrimSpace(req.ContextData)
	if req.UserID == "" || req.ContextData == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and context_data are required")
		return
	}
	if req.ContextType == "" {
		req.ContextType = "intake"
	}
	if req.PriorityLevel == 0 {
		req.PriorityLevel = 5
	}
	if req.PriorityLevel < 1 || req.PriorityLevel > 10 {
		respondError(w, http.StatusBadRequest, "invalid_request", "priority_level must be within [1,10]")
		return
	}

	data, _ := policy.RedactPII(req.ContextData)
	item, err := s.repo.InsertContextItem(r.Context(), memory.SessionContextItem{
		UserID:        req.UserID,
		ContextType:   req.ContextType,
		ContextData:   data,
		PriorityLevel: req.PriorityLevel,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "context_item_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	limit, err := limitParam(r, 20, 200)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	records, err := s.repo.TopMemories(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "memories_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"memories": records,
	})
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	limit, err := limitParam(r, 20, 200)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	patterns, err := s.repo.Patterns(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "patterns_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"patterns": patterns,
	})
}

func (s *Server) handlePendingContext(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	limit, err := limitParam(r, 20, 200)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	items, err := s.repo.PendingContext(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "context_items_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"context_items": items,
	})
}

// handleRelationship returns the pair's state, or the initial state when the
// user has not yet completed a session with the persona.
func (s *Server) handleRelationship(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "id"))
	personaID := strings.TrimSpace(chi.URLParam(r, "persona"))
	if !s.personas.Has(personaID) {
		respondError(w, http.StatusNotFound, "unknown_persona", "unknown persona "+personaID)
		return
	}
	state, err := s.repo.Relationship(r.Context(), userID, personaID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "relationship_failed", err.Error())
		return
	}
	if state == nil {
		initial := memory.NewRelationship(userID, personaID)
		state = &initial
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.repo.DeactivateMemory(r.Context(), id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "memory_delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 50, 500)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filter := memory.AlertFilter{
		UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
		Limit:  limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("open")); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "open must be a boolean")
			return
		}
		filter.OpenOnly = open
	}
	alerts, err := s.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "alerts_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.repo.Alert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			respondError(w, http.StatusNotFound, "alert_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "alert_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Resolve(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "alert_not_found", err.Error())
	case errors.Is(err, memory.ErrAlertResolved):
		respondError(w, http.StatusConflict, "alert_already_resolved", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "alert_resolve_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, alert)
	}
}
