package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/handler"
	"github.com/ethereum/esp-website-sub001/internal/metrics"
	mw "github.com/ethereum/esp-website-sub001/internal/middleware"
)

type Deps struct {
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Tokens      *auth.Tokens
	RateLimiter *mw.RateLimiter
	CORSOrigins []string

	Health      *handler.HealthHandler
	Rounds      *handler.RoundsHandler
	Submissions *handler.SubmissionHandler
	Operators   *handler.OperatorHandler
}

func New(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger(d.Log))
	r.Use(mw.Recovery(d.Log))
	r.Use(mw.Metrics(d.Metrics))
	r.Use(mw.CORS(d.CORSOrigins))

	r.Get("/healthz", d.Health.Health)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/rounds", d.Rounds.List)
		r.Get("/rounds/{roundID}/form", d.Rounds.Form)
		r.With(d.RateLimiter.Handler).Post("/rounds/{roundID}/submissions", d.Submissions.Submit)

		r.Post("/operator/login", d.Operators.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(d.Tokens))

			r.Get("/operator/me", d.Operators.Me)
			r.Get("/operator/attempts", d.Operators.ListAttempts)
			r.Get("/operator/attempts/{attemptID}", d.Operators.GetAttempt)
		})
	})

	return r
}
