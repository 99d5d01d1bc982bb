package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"cbtquiz/internal/app/observability"
	"cbtquiz/internal/auth"
	"cbtquiz/internal/exam"
	"cbtquiz/internal/report"
)

// Deps are the services the HTTP surface routes to.
type Deps struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Limiter  *IPRateLimiter
	Auth     *auth.Handler
	Sessions *exam.Handler
	Reviews  *report.Handler
}

func NewRouter(cfg Config, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware(d.Logger, d.Metrics))
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if d.Limiter != nil {
			api.Use(RateLimitMiddleware(d.Limiter))
		}
		api.Use(middleware.Timeout(60 * time.Second))

		api.Group(func(secure chi.Router) {
			secure.Use(d.Auth.RequireAuth)
			secure.Get("/auth/me", d.Auth.Me)

			secure.Post("/sessions", d.Sessions.Start)
			secure.Route("/sessions/{id}", func(s chi.Router) {
				s.Get("/", d.Sessions.Get)
				s.Get("/questions/current", d.Sessions.CurrentQuestion)
				s.Get("/questions/{no}", d.Sessions.Question)
				s.Post("/next", d.Sessions.Next)
				s.Post("/previous", d.Sessions.Previous)
				s.Post("/jump", d.Sessions.Jump)
				s.Put("/draft", d.Sessions.SaveDraft)
				s.Post("/confirm", d.Sessions.Confirm)
				s.Post("/edit", d.Sessions.Edit)
				s.Post("/finish", d.Sessions.Finish)
				s.Post("/finalize", d.Sessions.Finalize)
				s.Post("/exit", d.Sessions.Exit)
				s.Get("/attempts", d.Sessions.Attempts)
			})

			secure.Get("/reviews/{themeID}", d.Reviews.Summary)
			secure.Get("/reviews/{themeID}/questions/{no}", d.Reviews.Question)
			secure.Get("/reviews/{themeID}/subtests", d.Reviews.SubTests)
		})
	})

	return r
}
