// Package server provides the HTTP API: task submission, status, the
// event feed (polling and SSE), and cancellation.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
	"github.com/techs-targe/PromptRig-sub001/internal/store"
	"github.com/techs-targe/PromptRig-sub001/internal/task"
)

const defaultTimeout = 30 * time.Second

// Server holds the HTTP API dependencies.
type Server struct {
	router   *chi.Mux
	runner   *task.Runner
	st       *store.Store
	apiToken string

	defaultModel string
	temperature  float64

	limiter *clientLimiter
}

// Option configures the Server.
type Option func(*Server)

// WithAuth sets the bearer token. Empty disables auth.
func WithAuth(token string) Option {
	return func(s *Server) { s.apiToken = token }
}

// WithRateLimit sets the per-client request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = newClientLimiter(rps, burst) }
}

// WithModelDefaults sets the model and temperature applied to requests
// that do not specify their own.
func WithModelDefaults(model string, temperature float64) Option {
	return func(s *Server) {
		s.defaultModel = model
		s.temperature = temperature
	}
}

// NewServer builds a Server.
func NewServer(runner *task.Runner, st *store.Store, opts ...Option) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		runner:       runner,
		st:           st,
		defaultModel: "gpt-4o-mini",
		temperature:  0.7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured handler. The SSE stream route skips the
// request timeout; its lifetime is bounded by the stream-timeout setting.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(prigotel.Middleware())

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiToken))
		r.Use(RateLimitMiddleware(s.limiter))

		r.Get("/v1/tasks/{id}/stream", s.handleTaskStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Post("/v1/tasks", s.handleTaskSubmit)
			r.Get("/v1/tasks/{id}", s.handleTaskGet)
			r.Get("/v1/tasks/{id}/events", s.handleTaskEvents)
			r.Post("/v1/tasks/{id}/cancel", s.handleTaskCancel)
		})
	})

	return r
}
