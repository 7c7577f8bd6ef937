package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anon-relay/internal/config"
	"anon-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler, discovery *DiscoveryHandler) {
	e.GET("/health", health.Health)
	e.GET("/api/status", health.Status)

	e.POST("/api/anyone/proxy", relay.Handle)

	e.GET("/api/discovery/node-info", discovery.NodeInfo)
	e.GET("/api/discovery/peers", discovery.Peers)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError)})
	e.GET(cfg.Metrics.Path, echo.WrapHandler(h))
	logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
}
