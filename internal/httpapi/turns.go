package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ent0n29/solace/internal/risk"
	"github.com/ent0n29/solace/internal/session"
	"github.com/ent0n29/solace/internal/turn"
)

type turnResponse struct {
	turn.Result
	WriteErrors      int `json:"write_errors"`
	ClassifierErrors int `json:"classifier_errors"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turn.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.pipeline.Process(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrUpstreamGeneration):
			// Provider detail stays in the logs.
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("turn aborted by upstream generation")
			respondError(w, http.StatusBadGateway, "upstream_generation_failed", "The counselor is unavailable right now. Please try again in a moment.")
		case errors.Is(err, session.ErrNotFound):
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		case errors.Is(err, session.ErrUserMismatch):
			respondError(w, http.StatusForbidden, "session_user_mismatch", err.Error())
		case errors.Is(err, session.ErrEnded):
			respondError(w, http.StatusConflict, "session_ended", err.Error())
		case errors.Is(err, turn.ErrInvalidTurn):
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			log.Error().Err(err).Str("user_id", req.UserID).Msg("turn failed")
			respondError(w, http.StatusInternalServerError, "turn_failed", "turn could not be processed")
		}
		return
	}

	respondJSON(w, http.StatusOK, turnResponse{
		Result:           res,
		WriteErrors:      len(res.WriteErrors),
		ClassifierErrors: len(res.ClassifierErrors),
	})
}

func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	var req turn.AssessRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.pipeline.Assess(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrInvalidAnswer), errors.Is(err, turn.ErrInvalidTurn):
			respondError(w, http.StatusBadRequest, "invalid_answers", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "assessment_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"questions": s.scorer.Questions(),
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req turn.FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Effectiveness < 0 || req.Effectiveness > 1 {
		respondError(w, http.StatusBadRequest, "invalid_request", "effectiveness must be within [0,1]")
		return
	}
	pattern, err := s.pipeline.RecordFeedback(r.Context(), req)
	if err != nil {
		if errors.Is(err, turn.ErrInvalidTurn) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "feedback_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, pattern)
}
