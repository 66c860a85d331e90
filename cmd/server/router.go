package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/opstrack/opstrack/internal/api"
	apimiddleware "github.com/opstrack/opstrack/internal/api/middleware"
)

// setupRouter configures the middleware stack and mounts the API under /api.
func setupRouter(app *application) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.NewTraceMiddleware(app.logger))
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	handler := api.NewPlanTaskHandler(app.service, app.location, app.logger)
	r.Route("/api", handler.RegisterRoutes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
