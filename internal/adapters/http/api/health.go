package api

import (
	"net/http"

	"github.com/okian/birdscore/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider reports service statistics for GET /stats.
type StatsProvider interface {
	GetStats() map[string]any
}

// OpsHandler serves liveness, stats and metrics scrapes.
type OpsHandler struct {
	stats StatsProvider
}

// NewOpsHandler returns an OpsHandler. A nil provider serves empty stats.
func NewOpsHandler(stats StatsProvider) *OpsHandler {
	return &OpsHandler{stats: stats}
}

// HandleHealth handles GET /healthz.
func (h *OpsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStats handles GET /stats.
func (h *OpsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{}
	if h.stats != nil {
		stats = h.stats.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// MetricsHandler serves the custom registry on /metrics.
func (h *OpsHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
