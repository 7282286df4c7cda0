// handlers_history.go - Attempt history handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	log AttemptLog
}

// NewHistoryHandler creates a new history handler. log may be nil when
// history is disabled.
func NewHistoryHandler(log AttemptLog) HistoryHandler {
	return &HistoryHandlerImpl{log: log}
}

// HandleRecentAttempts returns the newest backend calls
func (h *HistoryHandlerImpl) HandleRecentAttempts(c echo.Context) error {
	if h.log == nil {
		return NewServiceUnavailableError("history is disabled")
	}

	limit := parseIntDefault(c.QueryParam("limit"), defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		return NewValidationError("limit")
	}

	attempts, err := h.log.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, attempts)
}

// HandleAttemptSummary returns per-operation success counts
func (h *HistoryHandlerImpl) HandleAttemptSummary(c echo.Context) error {
	if h.log == nil {
		return NewServiceUnavailableError("history is disabled")
	}

	stats, err := h.log.Summary(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, stats)
}

// parseIntDefault parses a query value, falling back to def when empty or malformed
func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
