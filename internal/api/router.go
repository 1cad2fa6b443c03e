package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{si}", s.handleGetDevice)
		})

		// Control endpoints
		r.Post("/control", s.handleControl)
		r.Get("/actions/{id}", s.handleGetAction)

		// Sync mode management
		r.Route("/sync", func(r chi.Router) {
			r.Get("/", s.handleSyncStatus)
			r.Put("/mode", s.handleSetMode)
			r.Put("/fallback", s.handleSetFallback)
			r.Get("/optimistic-echo", s.handleGetOptimisticEcho)
			r.Put("/optimistic-echo", s.handleSetOptimisticEcho)
		})

		// Gateway session management
		r.Post("/gateway/reconnect", s.handleGatewayReconnect)

		// Command record/replay
		r.Route("/replay", func(r chi.Router) {
			r.Get("/", s.handleReplayStatus)
			r.Put("/recording", s.handleSetRecording)
			r.Post("/capture", s.handleCapture)
			r.Post("/commands", s.handleReplayCommand)
			r.Get("/commands/{si}", s.handleListCommands)
			r.Get("/failures", s.handleListFailures)
		})

		// WebSocket endpoint for real-time state updates
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
