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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Cloud visibility
		r.Get("/accounts", s.handleListAccounts)
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/available", s.handleListAvailableDevices)
			r.Post("/refresh", s.handleRefresh)
			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/state", s.handleDumpDeviceState)
				r.Post("/command", s.handleCommand)
			})
		})

		// Bindings and triggers
		r.Route("/bindings", func(r chi.Router) {
			r.Get("/", s.handleListBindings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBinding)
				r.Patch("/", s.handleUpdateBinding)
				r.Get("/triggers", s.handleListTriggers)
				r.Post("/triggers", s.handleCreateTrigger)
			})
		})
		r.Delete("/triggers/{id}", s.handleDeleteTrigger)

		// Diagnostics
		r.Get("/system/database", s.handleDatabaseStatus)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
