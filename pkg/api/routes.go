package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	rl := s.cfg.API.Server.RateLimit

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Read endpoints.
		r.Group(func(r chi.Router) {
			if rl.Enabled {
				r.Use(s.rateLimitMiddleware(rl.Read))
			}

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{name}", s.handleGetRun)
			r.Get("/runs/{name}/jobs", s.handleListJobs)
			r.Get("/runs/{name}/jobs/{jobID}", s.handleGetJob)
			r.Get("/branches", s.handleListBranches)
			r.Get("/suites", s.handleListSuites)
		})

		// Write endpoints.
		r.Group(func(r chi.Router) {
			if rl.Enabled {
				r.Use(s.rateLimitMiddleware(rl.Write))
			}

			if s.auth != nil {
				r.Use(s.requireAuth)
			}

			r.Post("/runs", s.handleCreateRun)
			r.Delete("/runs/{name}", s.handleDeleteRun)
			r.Post("/runs/{name}/jobs", s.handleCreateJob)
			r.Put("/runs/{name}/jobs/{jobID}", s.handleUpdateJob)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.API.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
