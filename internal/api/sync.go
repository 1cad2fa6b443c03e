package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hyqw-adapter/core/internal/router"
)

// handleHealth returns a minimal liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus returns an aggregate snapshot of component counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"devices": s.registry.Count(),
		"cache":   s.cache.Stats(),
		"sync":    s.sync.Stats(),
		"control": s.bus.Stats(),
	}
	if s.gateway != nil {
		status["gateway"] = s.gateway.Stats()
	}
	if s.recorder != nil {
		status["replay"] = s.recorder.Stats()
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleSyncStatus returns the sync router's mode and counters.
func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.Stats())
}

// modeRequest is the body for PUT /sync/mode.
type modeRequest struct {
	Mode string `json:"mode"`
}

// handleSetMode switches the state ingestion mode between polling and bus.
//
// Switching to bus mode triggers an immediate reconciliation sweep so the
// cache does not serve stale values while pushes spin up.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	switch router.Mode(req.Mode) {
	case router.ModeBus:
		s.sync.UseBusMode(r.Context())
	case router.ModePolling:
		s.sync.UsePollingMode()
	default:
		writeBadRequest(w, "mode must be \"polling\" or \"bus\"")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"mode": s.sync.Mode()})
}

// fallbackRequest is the body for PUT /sync/fallback.
type fallbackRequest struct {
	IntervalSeconds *int `json:"interval_seconds"`
}

// handleSetFallback reconfigures the fallback reconciliation interval.
// Zero disables periodic reconciliation.
func (s *Server) handleSetFallback(w http.ResponseWriter, r *http.Request) {
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.IntervalSeconds == nil {
		writeBadRequest(w, "interval_seconds is required")
		return
	}
	if *req.IntervalSeconds < 0 {
		writeBadRequest(w, "interval_seconds must not be negative")
		return
	}

	s.sync.ConfigureFallback(time.Duration(*req.IntervalSeconds) * time.Second)

	writeJSON(w, http.StatusOK, map[string]any{
		"interval_seconds": *req.IntervalSeconds,
		"enabled":          *req.IntervalSeconds > 0,
	})
}

// handleGetOptimisticEcho reports the current echo flag.
func (s *Server) handleGetOptimisticEcho(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"enabled": s.sync.OptimisticEchoEnabled()})
}

// echoRequest is the body for PUT /sync/optimistic-echo.
type echoRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetOptimisticEcho toggles optimistic cache echo after successful
// controls.
func (s *Server) handleSetOptimisticEcho(w http.ResponseWriter, r *http.Request) {
	var req echoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}

	s.sync.SetOptimisticEcho(*req.Enabled)

	writeJSON(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
}

// handleGatewayReconnect forces a broker session teardown and reconnect.
func (s *Server) handleGatewayReconnect(w http.ResponseWriter, r *http.Request) {
	if s.gateway == nil {
		writeNotFound(w, "message-bus gateway is not enabled")
		return
	}

	if err := s.gateway.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeInternal, "reconnect failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"connected": s.gateway.IsConnected()})
}
