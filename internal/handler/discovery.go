package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"anon-relay/internal/config"
	"anon-relay/internal/network"
	"anon-relay/internal/transport"
)

// DiscoveryHandler lets peers and clients learn about this node.
type DiscoveryHandler struct {
	cfg     *config.Config
	version Version
	network network.Subsystem
	handle  *transport.Handle
}

// NewDiscoveryHandler creates a DiscoveryHandler.
func NewDiscoveryHandler(cfg *config.Config, v Version, n network.Subsystem, h *transport.Handle) *DiscoveryHandler {
	return &DiscoveryHandler{cfg: cfg, version: v, network: n, handle: h}
}

// NodeInfo describes this node.
func (h *DiscoveryHandler) NodeInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"fingerprint":    h.cfg.Node.Fingerprint,
		"nickname":       h.cfg.Node.Nickname,
		"address":        h.cfg.Network.PublicAddress,
		"version":        string(h.version),
		"peerCount":      len(h.network.Peers()),
		"relayAvailable": h.handle.Enabled(),
	})
}

// Peers lists the peers the network subsystem currently knows.
func (h *DiscoveryHandler) Peers(c echo.Context) error {
	peers := h.network.Peers()
	return c.JSON(http.StatusOK, map[string]any{
		"count": len(peers),
		"peers": peers,
	})
}
