package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/wireflow"
	"github.com/deepnoodle-ai/wireflow/wireframe"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 * 1024

type createRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id,omitempty"`
}

type editRequest struct {
	EditPrompt string `json:"edit_prompt"`
}

type sessionResponse struct {
	Metadata  *wireflow.SessionMeta `json:"metadata"`
	Version   int                   `json:"current_version"`
	Wireframe *wireframe.Node       `json:"wireframe"`
}

type historyResponse struct {
	SessionID string                   `json:"session_id"`
	Versions  []*wireflow.HistoryEntry `json:"versions"`
}

type listResponse struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	result, err := s.manager.CreateSession(r.Context(), req.UserID, req.Prompt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EditPrompt) == "" {
		s.writeError(w, http.StatusBadRequest, "edit_prompt is required")
		return
	}
	result, err := s.manager.ApplyEdit(r.Context(), chi.URLParam(r, "sessionID"), req.EditPrompt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	meta, state, err := s.manager.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &sessionResponse{
		Metadata:  meta,
		Version:   meta.CurrentVersion,
		Wireframe: state.Wireframe,
	})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || v < 1 {
		s.writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	state, err := s.manager.GetVersion(r.Context(), sessionID, v)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if state.Compacted {
		s.writeError(w, http.StatusGone, "version compacted; only metadata retained")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	entries, err := s.manager.GetHistory(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &historyResponse{SessionID: sessionID, Versions: entries})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.manager.Metrics(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	ids, err := s.manager.ListUserSessions(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &listResponse{UserID: userID, SessionIDs: ids})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var satisfaction *float64
	if raw := r.URL.Query().Get("satisfaction"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			s.writeError(w, http.StatusBadRequest, "satisfaction must be between 0 and 1")
			return
		}
		satisfaction = &v
	}
	if err := s.manager.CloseSession(r.Context(), chi.URLParam(r, "sessionID"), satisfaction); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// respondError maps the engine's error taxonomy onto HTTP status codes.
// Unrecognized errors become 500 without leaking internals.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, wireflow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wireflow.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, wireflow.ErrQuarantined):
		status = http.StatusConflict
	case errors.Is(err, wireflow.ErrBusy):
		status = http.StatusLocked
	case errors.Is(err, wireflow.ErrDeadline):
		status = http.StatusRequestTimeout
	case errors.Is(err, wireflow.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, wireflow.ErrModelFailure):
		status = http.StatusBadGateway
	case errors.Is(err, wireflow.ErrInvalidOutput):
		status = http.StatusBadRequest
	case errors.Is(err, wireflow.ErrIntegrity):
		status = http.StatusInternalServerError
	default:
		msg = "internal error"
		s.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	if status >= 500 && msg != "internal error" {
		s.logger.Warn("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeError(w, status, msg)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, &errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
