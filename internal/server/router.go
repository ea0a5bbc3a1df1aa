package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// NewRouter wires the HTTP surface. live may be nil to disable /ws/live.
func NewRouter(api *APIHandler, live http.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))
	r.Use(middleware.Recoverer)

	// Station uploads
	r.Post("/post", api.HandleFormPost)
	r.Post("/api/weather", api.HandleJSONPost)

	// Read-back
	r.Get("/api/weather/latest", api.HandleLatest)
	r.Get("/api/weather/recent", api.HandleRecent)
	r.Get("/api/weather/history", api.HandleHistory)
	r.Get("/api/stats", api.HandleStats)
	r.Get("/health", api.HandleHealth)

	if live != nil {
		r.Handle("/ws/live", live)
	}

	return r
}
