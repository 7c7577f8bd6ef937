package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"anon-relay/internal/config"
	"anon-relay/internal/model"
	"anon-relay/internal/service"
)

// RelayHandler accepts relay descriptions and returns the origin's response envelope.
type RelayHandler struct {
	service    *service.RelayService
	production bool
	logger     *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, cfg *config.Config, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service:    svc,
		production: cfg.Node.IsProduction(),
		logger:     logger.With("component", "relay_handler"),
	}
}

// Handle relays one request. Every error path writes its response and returns.
func (h *RelayHandler) Handle(c echo.Context) error {
	var rr model.RelayRequest
	if err := decodeRelayRequest(c.Request().Body, &rr); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body must be a JSON object",
		})
	}

	env, err := h.service.Relay(c.Request().Context(), &rr)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, env)
}

// decodeRelayRequest reads exactly one JSON value. An empty body leaves rr
// zero so validation reports the missing URL.
func decodeRelayRequest(r io.Reader, rr *model.RelayRequest) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(rr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	var invalid *service.InvalidRequestError
	if errors.As(err, &invalid) {
		h.logger.Info("relay request rejected", "reason", invalid.Reason)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": invalid.Reason,
		})
	}

	h.logger.Error("relay error", "err", err)

	env := model.ErrorEnvelope{Success: false}
	switch {
	case errors.Is(err, service.ErrTransportUnavailable):
		env.Error = service.ErrTransportUnavailable.Error()
	case errors.Is(err, context.DeadlineExceeded):
		env.Error = "relay request timed out"
	case errors.Is(err, context.Canceled):
		env.Error = "relay request canceled"
	default:
		env.Error = service.ErrRelayExecution.Error()
	}
	if !h.production {
		env.Detail = err.Error()
	}
	return c.JSON(http.StatusInternalServerError, env)
}
