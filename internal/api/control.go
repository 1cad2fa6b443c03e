package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyqw-adapter/core/internal/actionbus"
	"github.com/hyqw-adapter/core/internal/statecache"
)

// controlRequest is the body for POST /control.
type controlRequest struct {
	ST *int `json:"st"`
	SI *int `json:"si"`
	FN *int `json:"fn"`
	FV *int `json:"fv"`
}

// handleControl submits a device control action to the throttling bus.
//
// The action is queued, not executed inline: the response carries the
// action ID for polling its outcome via GET /actions/{id}. A device with
// an action already in flight rejects further submissions with 409.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SI == nil || req.FN == nil || req.FV == nil {
		writeBadRequest(w, "si, fn, and fv are required")
		return
	}

	st := statecache.DefaultStatusType
	if req.ST != nil {
		st = *req.ST
	} else if state, ok := s.cache.FunctionValue(*req.SI, *req.FN); ok {
		st = state.ST
	}

	id, err := s.bus.SubmitAction(st, *req.SI, *req.FN, *req.FV)
	switch {
	case errors.Is(err, actionbus.ErrTargetOccupied):
		writeConflict(w, err.Error())
		return
	case errors.Is(err, actionbus.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, ErrCodeTooMany, "control queue is full")
		return
	case errors.Is(err, actionbus.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "control bus is not running")
		return
	case err != nil:
		writeInternalError(w, "failed to submit action")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": actionbus.StatusQueued,
	})
}

// handleGetAction returns the tracked status of a submitted action.
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	action, ok := s.bus.ActionStatus(id)
	if !ok {
		writeNotFound(w, "action not found")
		return
	}

	writeJSON(w, http.StatusOK, action)
}
