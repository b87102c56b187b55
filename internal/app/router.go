package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voxpoll/voxpoll/internal/auth"
	"github.com/voxpoll/voxpoll/internal/observability"
	"github.com/voxpoll/voxpoll/internal/polls"
	"github.com/voxpoll/voxpoll/internal/rbac"
	"github.com/voxpoll/voxpoll/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	TokenIssuer  *auth.TokenIssuer
	AuthHandler  *auth.Handler
	RBACHandler  *rbac.Handler
	PollsHandler *polls.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with VoxPoll defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(AuthRateLimiter())
		params.AuthHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticator(params.TokenIssuer, params.Logger))
		if params.PollsHandler != nil {
			r.Route("/polls", params.PollsHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			r.Route("/rbac", params.RBACHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
