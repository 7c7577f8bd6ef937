package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"anon-relay/internal/config"
)

// NewHTTPErrorHandler returns Echo's central error handler. Every error becomes
// {"error":{"message","status"}}; outside production the cause is added as detail.
func NewHTTPErrorHandler(cfg *config.Config, logger *slog.Logger) echo.HTTPErrorHandler {
	production := cfg.Node.IsProduction()
	logger = logger.With("component", "http_error")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprint(he.Message)
			if he.Internal != nil {
				err = he.Internal
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"err", err,
			)
		}

		body := map[string]any{
			"message": message,
			"status":  status,
		}
		if !production && he == nil {
			body["detail"] = err.Error()
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, map[string]any{"error": body})
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
