package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/forgehub/forgehub/internal/auth"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	AuthHandler *auth.Handler
}

// NewRouter constructs the chi.Router for the hub.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	limit := 30
	if params.Config != nil && params.Config.LoginRateLimit > 0 {
		limit = params.Config.LoginRateLimit
	}
	// credential endpoints are brute-forceable, throttle them per IP
	params.AuthHandler.MountRoutes(r,
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	return r
}
