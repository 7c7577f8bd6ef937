package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"anon-relay/internal/config"
	"anon-relay/internal/network"
	"anon-relay/internal/transport"
)

// Version is a string type for dependency injection of the build version.
type Version string

// TransportStatus reports the anonymizing transport binding.
type TransportStatus struct {
	Enabled   bool `json:"enabled"`
	SocksPort int  `json:"socksPort,omitempty"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	network network.Subsystem
	handle  *transport.Handle
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, n network.Subsystem, h *transport.Handle) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, network: n, handle: h}
}

// Health reports liveness along with peer count and node identity.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"peerCount":   len(h.network.Peers()),
		"fingerprint": h.cfg.Node.Fingerprint,
		"transport":   h.transportStatus(),
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     string(h.version),
		"environment": h.cfg.Node.Environment,
		"fingerprint": h.cfg.Node.Fingerprint,
		"nickname":    h.cfg.Node.Nickname,
		"peerCount":   len(h.network.Peers()),
		"transport":   h.transportStatus(),
	})
}

func (h *HealthHandler) transportStatus() TransportStatus {
	if !h.handle.Enabled() {
		return TransportStatus{}
	}
	return TransportStatus{Enabled: true, SocksPort: h.handle.SocksPort()}
}
