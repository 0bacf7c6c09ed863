package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"longform-pipeline/internal/infra/api/apiv1"
)

// Dependencies holds everything the router mounts.
type Dependencies struct {
	API    apiv1.ServerInterface
	Auth   *AuthManager
	Health http.HandlerFunc
	Log    *zerolog.Logger

	// RequestTimeout bounds status and cancel calls; SyncTimeout bounds
	// submissions, which may run a whole pipeline inline.
	RequestTimeout time.Duration
	SyncTimeout    time.Duration
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(deps.Log), Recover(deps.Log))

	health := deps.Health
	if health == nil {
		health = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	}
	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(splitTimeout(deps.SyncTimeout, deps.RequestTimeout))
		apiv1.RegisterAPIV1(r, deps.API)
	})
	return r
}

// splitTimeout applies the sync bound to submissions and the short bound to
// everything else.
func splitTimeout(submit, other time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		long, short := Timeout(submit)(next), Timeout(other)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/v1/generations" {
				long.ServeHTTP(w, r)
				return
			}
			short.ServeHTTP(w, r)
		})
	}
}
