// Package matching exposes the matching pipeline over HTTP.
package matching

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/bdgd-pro/vinculo/internal/repositories/matchset"
	"github.com/bdgd-pro/vinculo/pkg/matching"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/refine"
	"github.com/bdgd-pro/vinculo/pkg/stats"
)

// ResultLister pages through stored best matches.
type ResultLister interface {
	ListResults(ctx context.Context, filter matchset.ResultFilter) ([]matchset.ResultRow, error)
	CountResults(ctx context.Context, filter matchset.ResultFilter) (int64, error)
}

// Handler handles matching endpoints
type Handler struct {
	logger     ectologger.Logger
	engine     *matching.Engine
	resolver   *matching.Resolver
	refiner    *refine.Orchestrator
	aggregator *stats.Aggregator
	customers  matching.CustomerSource
	store      matching.MatchStore
	results    ResultLister
	ranker     *matching.Ranker
	validate   *validator.Validate
	batchLimit int
}

// NewHandler creates a new matching handler
func NewHandler(
	logger ectologger.Logger,
	engine *matching.Engine,
	resolver *matching.Resolver,
	refiner *refine.Orchestrator,
	aggregator *stats.Aggregator,
	customers matching.CustomerSource,
	store matching.MatchStore,
	results ResultLister,
	ranker *matching.Ranker,
	batchLimit int,
) *Handler {
	return &Handler{
		logger:     logger,
		engine:     engine,
		resolver:   resolver,
		refiner:    refiner,
		aggregator: aggregator,
		customers:  customers,
		store:      store,
		results:    results,
		ranker:     ranker,
		validate:   validator.New(),
		batchLimit: batchLimit,
	}
}

// Register registers matching routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
	g.GET("/results", h.ListResults)
	g.GET("/results/:id", h.GetResult)
	g.POST("/batch-lookup", h.BatchLookup)
	g.POST("/refine", h.Refine)
	g.POST("/run", h.Run)
}

// Stats returns the matching aggregates, optionally narrowed by UF and a
// free text search
func (h *Handler) Stats(c echo.Context) error {
	filter := stats.Filter{
		UF:     c.QueryParam("uf"),
		Search: c.QueryParam("search"),
	}

	result, err := h.aggregator.MatchingStats(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// ResultPage is a page of best matches.
type ResultPage struct {
	Items    []matchset.ResultRow `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListResults lists best matches with optional filters
func (h *Handler) ListResults(c echo.Context) error {
	ctx := c.Request().Context()

	filter := matchset.ResultFilter{
		UF:         c.QueryParam("uf"),
		Confidence: c.QueryParam("confidence"),
		Search:     c.QueryParam("search"),
	}

	if raw := c.QueryParam("min_score"); raw != "" {
		minScore, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "min_score must be a number")
		}
		filter.MinScore = &minScore
	}

	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "page must be a positive integer")
		}
		page = parsed
	}

	pageSize := 50
	if raw := c.QueryParam("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return httperror.NewHTTPError(http.StatusBadRequest, "page_size must be between 1 and 500")
		}
		pageSize = parsed
	}

	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize

	items, err := h.results.ListResults(ctx, filter)
	if err != nil {
		return err
	}
	total, err := h.results.CountResults(ctx, filter)
	if err != nil {
		return err
	}

	if items == nil {
		items = []matchset.ResultRow{}
	}
	return c.JSON(http.StatusOK, &ResultPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// ResultDetail is one customer with its identity and full stored match set.
type ResultDetail struct {
	Customer *models.Customer `json:"customer"`
	Identity *models.Identity `json:"identity"`
	Matches  models.MatchSet  `json:"matches"`
}

// GetResult returns the full stored match set of one customer
func (h *Handler) GetResult(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	customer, err := h.customers.Get(ctx, id)
	if err != nil {
		return err
	}
	if customer == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "customer %s not found", id)
	}

	identity, err := h.resolver.Resolve(ctx, id)
	if err != nil {
		return err
	}

	set, err := h.store.GetSet(ctx, id)
	if err != nil {
		return err
	}
	for i := range set {
		set[i].Confidence = h.ranker.Confidence(set[i].ScoreTotal)
	}
	if set == nil {
		set = models.MatchSet{}
	}

	return c.JSON(http.StatusOK, &ResultDetail{
		Customer: customer,
		Identity: identity,
		Matches:  set,
	})
}

// BatchRequest carries the customer ids of a batch operation.
type BatchRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

func (h *Handler) bindBatch(c echo.Context, limit int) (*BatchRequest, error) {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "ids must be a non-empty list of customer ids")
	}
	if limit > 0 && len(req.IDs) > limit {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "batch size %d exceeds limit %d", len(req.IDs), limit)
	}
	return &req, nil
}

// BatchLookup returns the best stored match per customer id
func (h *Handler) BatchLookup(c echo.Context) error {
	req, err := h.bindBatch(c, h.batchLimit)
	if err != nil {
		return err
	}

	result, err := h.resolver.BatchLookup(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"matches": result})
}

// Refine runs geocode assisted refinement over the given customers
func (h *Handler) Refine(c echo.Context) error {
	// the orchestrator enforces its own, smaller batch limit
	req, err := h.bindBatch(c, 0)
	if err != nil {
		return err
	}

	outcome, err := h.refiner.RefineBatch(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}

	h.logger.WithContext(c.Request().Context()).WithFields(map[string]any{
		"attempted": outcome.Attempted,
		"geocoded":  outcome.Geocoded,
		"improved":  outcome.Improved,
	}).Info("Refinement batch finished")

	return c.JSON(http.StatusOK, outcome)
}

// Run matches the given customers against the business registry
func (h *Handler) Run(c echo.Context) error {
	req, err := h.bindBatch(c, h.batchLimit)
	if err != nil {
		return err
	}

	outcome, err := h.engine.MatchBatch(c.Request().Context(), req.IDs)
	if err != nil {
		return err
	}

	h.logger.WithContext(c.Request().Context()).WithFields(map[string]any{
		"requested": outcome.Requested,
		"matched":   outcome.Matched,
		"unmatched": outcome.Unmatched,
	}).Info("Match batch finished")

	return c.JSON(http.StatusOK, outcome)
}
