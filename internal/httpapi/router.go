// Package httpapi serves the ops endpoints: health, metrics and debug views
// of the cache and the queues.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/internal/registry"
)

// NewRouter returns the ops router for reg
func NewRouter(reg *registry.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{reg: reg, logger: logger.With(zap.String("component", "httpapi"))}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(h.logger))

	router.Get("/healthz", h.health)

	if reg.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/debug", func(r chi.Router) {
		r.Method(http.MethodGet, "/cache", reg.Cache.DebugHandler())
		r.Get("/queues", h.listQueues)
		r.Get("/queues/{name}", h.queueStats)
		r.Get("/queues/{name}/dead_letters", h.deadLetters)
		r.Post("/queues/{name}/dead_letters/{id}/requeue", h.requeueDeadLetter)
	})

	return router
}

// requestLogger logs each request at debug level; health probes would flood info
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
