package journal

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type lister interface {
	Recent(ctx context.Context, limit int) ([]*Run, error)
}

// Handler serves the recorded sync runs.
type Handler struct {
	runs lister
}

func NewHandler(runs lister) *Handler {
	return &Handler{runs: runs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/sync-runs", h.ListRuns)
}

func (h *Handler) ListRuns(c echo.Context) error {
	limit := DefaultRecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.runs.Recent(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sync runs")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
