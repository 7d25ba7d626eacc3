// Package httpadapter serves health, metrics and last-run status for the watch daemon.
package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/observability/metrics"
)

// StatusSource exposes the supervised run state.
type StatusSource interface {
	LastRun() (domain.RunStatus, bool)
	Running() bool
}

type Router struct {
	service     string
	status      StatusSource
	metrics     http.Handler
	httpMetrics *metrics.HTTPServerMetrics
	log         *slog.Logger
}

func NewRouter(service string, status StatusSource, metricsHandler http.Handler, httpMetrics *metrics.HTTPServerMetrics, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		service:     service,
		status:      status,
		metrics:     metricsHandler,
		httpMetrics: httpMetrics,
		log:         log,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.handle(mux, "/healthz", http.HandlerFunc(rt.healthz))
	rt.handle(mux, "/v1/runs/last", http.HandlerFunc(rt.lastRun))
	if rt.metrics != nil {
		rt.handle(mux, "/metrics", rt.metrics)
	}
	return withRequestLog(rt.log, mux)
}

func (rt *Router) handle(mux *http.ServeMux, route string, h http.Handler) {
	if rt.httpMetrics != nil {
		h = rt.httpMetrics.Instrument(route, h)
	}
	mux.Handle("GET "+route, h)
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type lastRunResponse struct {
	Running bool              `json:"running"`
	OK      bool              `json:"ok"`
	Last    *domain.RunStatus `json:"last"`
}

func (rt *Router) lastRun(w http.ResponseWriter, _ *http.Request) {
	last, ok := rt.status.LastRun()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "no run has finished yet",
			"running": rt.status.Running(),
		})
		return
	}
	writeJSON(w, http.StatusOK, lastRunResponse{
		Running: rt.status.Running(),
		OK:      last.OK(),
		Last:    &last,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
