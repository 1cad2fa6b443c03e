package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyqw-adapter/core/internal/replay"
)

// handleReplayStatus returns recorder counters and the stored command count.
func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	status := map[string]any{"recorder": s.recorder.Stats()}
	if s.replayRepo != nil {
		if count, err := s.replayRepo.CountCommands(r.Context()); err == nil {
			status["stored_commands"] = count
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// recordingRequest is the body for PUT /replay/recording.
type recordingRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetRecording arms or disarms downstream frame recording.
func (s *Server) handleSetRecording(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	var req recordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	if *req.Enabled {
		s.recorder.StartRecording()
	} else {
		s.recorder.StopRecording()
	}

	writeJSON(w, http.StatusOK, map[string]any{"recording": s.recorder.IsRecording()})
}

// captureRequest is the body for POST /replay/capture.
type captureRequest struct {
	SI *int `json:"si"`
	FN *int `json:"fn"`
	FV *int `json:"fv"`
}

// handleCapture waits for the next downstream frame and stores it under the
// given (device, function, value) key. The request blocks until a frame
// arrives or the capture timeout expires.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SI == nil || req.FN == nil || req.FV == nil {
		writeBadRequest(w, "si, fn, and fv are required")
		return
	}

	target := replay.CaptureTarget{SI: *req.SI, FN: *req.FN, FV: *req.FV}
	if d, ok := s.registry.Get(*req.SI); ok {
		target.ST = d.ST
		target.TypeID = d.TypeID
		target.DeviceName = d.Name
	}

	err := s.recorder.CaptureNext(r.Context(), target)
	switch {
	case errors.Is(err, replay.ErrNotRecording):
		writeConflict(w, "recording is not active")
		return
	case errors.Is(err, replay.ErrCaptureTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeInternal, "no downstream frame arrived in time")
		return
	case err != nil:
		writeInternalError(w, "capture failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"si":          *req.SI,
		"command_key": replay.CommandKey(*req.FN, *req.FV),
	})
}

// replayRequest is the body for POST /replay/commands.
type replayRequest struct {
	SI *int `json:"si"`
	FN *int `json:"fn"`
	FV *int `json:"fv"`
}

// handleReplayCommand republishes a previously captured downstream frame.
func (s *Server) handleReplayCommand(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SI == nil || req.FN == nil || req.FV == nil {
		writeBadRequest(w, "si, fn, and fv are required")
		return
	}

	err := s.recorder.Replay(r.Context(), *req.SI, *req.FN, *req.FV)
	switch {
	case errors.Is(err, replay.ErrCommandNotFound):
		writeNotFound(w, "no recorded command for this device and function value")
		return
	case err != nil:
		writeInternalError(w, "replay failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"si":          *req.SI,
		"command_key": replay.CommandKey(*req.FN, *req.FV),
	})
}

// handleListCommands returns the recorded command library for one device.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.replayRepo == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	si, err := strconv.Atoi(chi.URLParam(r, "si"))
	if err != nil {
		writeBadRequest(w, "device index must be an integer")
		return
	}

	commands, err := s.replayRepo.ListCommands(r.Context(), si)
	if err != nil {
		writeInternalError(w, "failed to list commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// handleListFailures returns capture attempts that never produced a frame.
func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	if s.replayRepo == nil {
		writeNotFound(w, "command replay is not enabled")
		return
	}

	failures, err := s.replayRepo.ListFailures(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list failures")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"failures": failures,
		"count":    len(failures),
	})
}
