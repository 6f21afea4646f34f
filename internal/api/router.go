package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/pbn-studio/engine/internal/api/handlers"
	mw "github.com/pbn-studio/engine/internal/api/middleware"
)

type Dependencies struct {
	VerifyToken     mw.TokenVerifier
	AuthHandler     *handlers.AuthHandler
	ProjectsHandler *handlers.ProjectsHandler
	HealthHandler   *handlers.HealthHandler
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS(dep.CORSOrigins))
	if dep.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(dep.RateLimitRPS, dep.RateLimitBurst))
	}
	r.Use(chimid.Compress(5))

	// Health endpoints
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)

			ar.Group(func(protected chi.Router) {
				protected.Use(mw.Auth(dep.VerifyToken))
				protected.Put("/password", dep.AuthHandler.UpdatePassword)
				protected.Delete("/account", dep.AuthHandler.DeleteAccount)
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.VerifyToken))

			protected.Route("/projects", func(pr chi.Router) {
				pr.Get("/", dep.ProjectsHandler.List)
				pr.Post("/", dep.ProjectsHandler.Create)
				pr.Get("/summary", dep.ProjectsHandler.Summary)
				pr.Get("/{id}", dep.ProjectsHandler.Get)
				pr.Put("/{id}", dep.ProjectsHandler.Update)
				pr.Delete("/{id}", dep.ProjectsHandler.Delete)
				pr.Post("/{id}/run", dep.ProjectsHandler.Run)
				pr.Get("/{id}/export.csv", dep.ProjectsHandler.Export)
			})
		})
	})

	return r
}
