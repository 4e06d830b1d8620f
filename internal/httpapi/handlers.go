package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/internal/registry"
	"github.com/vnykmshr/funnelcore/pkg/cache"
	"github.com/vnykmshr/funnelcore/pkg/queue"
	"github.com/vnykmshr/funnelcore/pkg/redisconn"
)

const healthTimeout = 2 * time.Second

// Health statuses
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

type handlers struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// HealthResponse is the body of /healthz
type HealthResponse struct {
	Status       string `json:"status"`
	CacheBackend string `json:"cache_backend"`
	CacheRedis   string `json:"cache_redis"`
	QueueBackend string `json:"queue_backend"`
	QueueRedis   string `json:"queue_redis"`
}

// health reports 503 only when a connected Redis stops answering.
// A cache running without Redis is degraded but still serving.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:       statusOK,
		CacheBackend: string(h.reg.Cache.Backend()),
		QueueBackend: string(h.reg.Queue.ActiveBackend()),
	}

	code := http.StatusOK

	resp.CacheRedis = h.ping(ctx, "cache", h.reg.Cache.Client())
	resp.QueueRedis = h.ping(ctx, "queue", h.reg.Queue.Client())

	switch {
	case resp.CacheRedis == statusDown || resp.QueueRedis == statusDown:
		resp.Status = statusDown
		code = http.StatusServiceUnavailable
	case h.reg.Cache.Backend() != cache.BackendMemory && !h.reg.Cache.Connected():
		resp.Status = statusDegraded
	}

	writeJSON(w, code, resp)
}

func (h *handlers) ping(ctx context.Context, component string, client redis.UniversalClient) string {
	if client == nil {
		return "disabled"
	}
	if err := redisconn.Healthcheck(client)(ctx); err != nil {
		h.logger.Warn("redis health check failed", zap.String("for", component), zap.Error(err))
		return statusDown
	}
	return statusOK
}

func (h *handlers) listQueues(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.Stats)
	for _, name := range h.reg.Queue.Queues() {
		s, err := h.reg.Queue.QueueStats(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		out[name] = s
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.reg.Queue.QueueStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) deadLetters(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.reg.Queue.DeadLetters(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*queue.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	name, id := chi.URLParam(r, "name"), chi.URLParam(r, "id")

	ok, err := h.reg.Queue.RequeueDeadLetter(r.Context(), name, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "dead letter not found", http.StatusNotFound)
		return
	}

	h.logger.Info("dead letter requeued", zap.String("queue", name), zap.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // the status line is already sent
}
