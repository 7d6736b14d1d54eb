package geocode

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/metrics"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// Reverser resolves coordinates to an address.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (*Address, error)
}

// Service combines the provider with the coordinate cache.
type Service struct {
	client Reverser
	cache  *Cache
	logger ectologger.Logger
}

// NewService creates a new geocoding service
func NewService(client Reverser, cache *Cache, logger ectologger.Logger) *Service {
	return &Service{
		client: client,
		cache:  cache,
		logger: logger,
	}
}

// Locate resolves the coordinates to an address, serving from the cache when
// possible. The second return value reports whether the provider was called.
func (s *Service) Locate(ctx context.Context, lat, lon float64) (*Address, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "geocode.Service.Locate")
	defer span.End()

	cached, err := s.cache.Get(ctx, lat, lon)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Geocode cache read failed, falling through to provider")
	}
	if cached != nil {
		s.cache.recordHit(ctx)
		metrics.RecordGeocodeLookup("cache")
		return cached, false, nil
	}

	addr, err := s.client.Reverse(ctx, lat, lon)
	if err != nil {
		if errors.Is(err, ErrNoAddress) {
			metrics.RecordGeocodeLookup("no_address")
			return nil, true, ErrNoAddress
		}
		s.cache.recordFailure(ctx)
		metrics.RecordGeocodeLookup("error")
		return nil, false, err
	}

	s.cache.recordCall(ctx)
	metrics.RecordGeocodeLookup("provider")

	if err := s.cache.Put(ctx, lat, lon, addr); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache geocoded address")
	}

	return addr, true, nil
}

// Stats returns the running geocoding counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.cache.ReadStats(ctx)
}
