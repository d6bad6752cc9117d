package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/meetrec/internal/app"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/pkg/response"
)

// MonitoringHandler exposes the in-process metrics summary.
type MonitoringHandler struct {
	endpoint string
	enabled  bool
}

// NewMonitoringHandler returns nil when both health and metrics are disabled.
func NewMonitoringHandler(cfg *app.Config) *MonitoringHandler {
	if cfg == nil || (!cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled) {
		return nil
	}
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	return &MonitoringHandler{endpoint: endpoint, enabled: cfg.Monitoring.Prometheus.Enabled}
}

// GET /api/monitoring/summary
func (h *MonitoringHandler) Summary(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"summary": monitoring.Snapshot(),
		"prometheus": gin.H{
			"enabled":  h.enabled,
			"endpoint": h.endpoint,
		},
	})
}
