// Package stats aggregates matching and geocoding figures for reporting.
package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/internal/repositories/matchset"
	"github.com/bdgd-pro/vinculo/pkg/geocode"
	"github.com/bdgd-pro/vinculo/pkg/redis"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

const cacheKey = "stats:matching"

// CustomerCounter provides customer population counts, optionally scoped to
// one UF. An empty uf counts everything.
type CustomerCounter interface {
	Count(ctx context.Context, uf string) (int64, error)
	CountWithCoordinates(ctx context.Context, uf string) (int64, error)
	CountWithIdentity(ctx context.Context, uf string) (int64, error)
}

// MatchAggregator provides match set aggregates.
type MatchAggregator interface {
	Stats(ctx context.Context, filter matchset.StatsFilter) (*matchset.StatsRow, error)
}

// GeocodeStatsSource provides geocoding counters.
type GeocodeStatsSource interface {
	Stats(ctx context.Context) (*geocode.Stats, error)
}

// Filter narrows the matching aggregates. The free text search only applies
// to the match rows; customer population counts honor the UF alone.
type Filter struct {
	UF     string
	Search string
}

// MatchingStats is the aggregate view over customers and their best matches.
type MatchingStats struct {
	TotalCustomers     int64   `json:"total_customers"`
	ExemptCustomers    int64   `json:"exempt_customers"`
	MatchedCustomers   int64   `json:"matched_customers"`
	UnmatchedCustomers int64   `json:"unmatched_customers"`
	HighConfidence     int64   `json:"high_confidence"`
	MediumConfidence   int64   `json:"medium_confidence"`
	LowConfidence      int64   `json:"low_confidence"`
	AvgTopScore        float64 `json:"avg_top_score"`
	GeocodedBest       int64   `json:"geocoded_best"`
	WithCoordinates    int64   `json:"with_coordinates"`
}

// GeocodingStats is the aggregate view over the geocoding pipeline.
type GeocodingStats struct {
	CacheHits       int64 `json:"cache_hits"`
	ProviderCalls   int64 `json:"provider_calls"`
	Failures        int64 `json:"failures"`
	GeocodedBest    int64 `json:"geocoded_best"`
	WithCoordinates int64 `json:"with_coordinates"`
}

// Config contains configuration for the stats aggregator
type Config struct {
	CacheTTL time.Duration
}

// Aggregator assembles stats with a short lived Redis cache in front of the
// aggregate queries.
type Aggregator struct {
	logger    ectologger.Logger
	customers CustomerCounter
	matches   MatchAggregator
	geocoder  GeocodeStatsSource
	cache     *redis.Client
	config    Config
}

// NewAggregator creates a new stats aggregator. cache may be nil.
func NewAggregator(
	logger ectologger.Logger,
	customers CustomerCounter,
	matches MatchAggregator,
	geocoder GeocodeStatsSource,
	cache *redis.Client,
	config Config,
) *Aggregator {
	return &Aggregator{
		logger:    logger,
		customers: customers,
		matches:   matches,
		geocoder:  geocoder,
		cache:     cache,
		config:    config,
	}
}

// MatchingStats computes the matching aggregates. Unfiltered reads serve a
// recent cached snapshot when one exists; filtered reads always recompute.
func (a *Aggregator) MatchingStats(ctx context.Context, filter Filter) (*MatchingStats, error) {
	ctx, span := tracing.StartSpan(ctx, "stats.Aggregator.MatchingStats")
	defer span.End()

	unfiltered := filter == (Filter{})
	if unfiltered {
		if cached := a.readCached(ctx); cached != nil {
			return cached, nil
		}
	}

	total, err := a.customers.Count(ctx, filter.UF)
	if err != nil {
		return nil, err
	}
	exempt, err := a.customers.CountWithIdentity(ctx, filter.UF)
	if err != nil {
		return nil, err
	}
	withCoords, err := a.customers.CountWithCoordinates(ctx, filter.UF)
	if err != nil {
		return nil, err
	}
	row, err := a.matches.Stats(ctx, matchset.StatsFilter{UF: filter.UF, Search: filter.Search})
	if err != nil {
		return nil, err
	}

	result := &MatchingStats{
		TotalCustomers:   total,
		ExemptCustomers:  exempt,
		MatchedCustomers: row.TotalMatched,
		HighConfidence:   row.HighCount,
		MediumConfidence: row.MediumCount,
		LowConfidence:    row.LowCount,
		GeocodedBest:     row.GeocodedCount,
		WithCoordinates:  withCoords,
	}
	result.UnmatchedCustomers = total - exempt - row.TotalMatched
	if result.UnmatchedCustomers < 0 {
		result.UnmatchedCustomers = 0
	}
	if row.AvgTopScore != nil {
		result.AvgTopScore = *row.AvgTopScore
	}

	if unfiltered {
		a.writeCached(ctx, result)
	}
	return result, nil
}

// GeocodingStats computes the geocoding aggregates.
func (a *Aggregator) GeocodingStats(ctx context.Context) (*GeocodingStats, error) {
	ctx, span := tracing.StartSpan(ctx, "stats.Aggregator.GeocodingStats")
	defer span.End()

	counters, err := a.geocoder.Stats(ctx)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read geocoding counters")
	}
	withCoords, err := a.customers.CountWithCoordinates(ctx, "")
	if err != nil {
		return nil, err
	}
	row, err := a.matches.Stats(ctx, matchset.StatsFilter{})
	if err != nil {
		return nil, err
	}

	return &GeocodingStats{
		CacheHits:       counters.CacheHits,
		ProviderCalls:   counters.ProviderCalls,
		Failures:        counters.Failures,
		GeocodedBest:    row.GeocodedCount,
		WithCoordinates: withCoords,
	}, nil
}

func (a *Aggregator) readCached(ctx context.Context) *MatchingStats {
	if a.cache == nil {
		return nil
	}

	raw, err := a.cache.Get(ctx, cacheKey)
	if err != nil {
		if !redis.IsNil(err) {
			a.logger.WithContext(ctx).WithError(err).Warn("Stats cache read failed")
		}
		return nil
	}

	var cached MatchingStats
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Discarding corrupt stats cache entry")
		return nil
	}
	return &cached
}

func (a *Aggregator) writeCached(ctx context.Context, stats *MatchingStats) {
	if a.cache == nil {
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, cacheKey, string(data), a.config.CacheTTL); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Stats cache write failed")
	}
}
