// Package geocoding exposes geocoding figures over HTTP.
package geocoding

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/bdgd-pro/vinculo/pkg/stats"
)

// Handler handles geocoding endpoints
type Handler struct {
	logger     ectologger.Logger
	aggregator *stats.Aggregator
}

// NewHandler creates a new geocoding handler
func NewHandler(logger ectologger.Logger, aggregator *stats.Aggregator) *Handler {
	return &Handler{
		logger:     logger,
		aggregator: aggregator,
	}
}

// Register registers geocoding routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
}

// Stats returns the geocoding aggregates
func (h *Handler) Stats(c echo.Context) error {
	result, err := h.aggregator.GeocodingStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
