package stats

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-pro/vinculo/internal/repositories/matchset"
	"github.com/bdgd-pro/vinculo/pkg/geocode"
	"github.com/bdgd-pro/vinculo/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeCustomerCounter struct {
	total, withCoords, withIdentity int64
	calls                           int
	lastUF                          string
}

func (f *fakeCustomerCounter) Count(_ context.Context, uf string) (int64, error) {
	f.calls++
	f.lastUF = uf
	return f.total, nil
}

func (f *fakeCustomerCounter) CountWithCoordinates(_ context.Context, _ string) (int64, error) {
	return f.withCoords, nil
}

func (f *fakeCustomerCounter) CountWithIdentity(_ context.Context, _ string) (int64, error) {
	return f.withIdentity, nil
}

type fakeMatchAggregator struct {
	row        matchset.StatsRow
	lastFilter matchset.StatsFilter
}

func (f *fakeMatchAggregator) Stats(_ context.Context, filter matchset.StatsFilter) (*matchset.StatsRow, error) {
	f.lastFilter = filter
	row := f.row
	return &row, nil
}

type fakeGeocodeStats struct {
	stats geocode.Stats
}

func (f *fakeGeocodeStats) Stats(_ context.Context) (*geocode.Stats, error) {
	stats := f.stats
	return &stats, nil
}

func testCacheClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return redis.NewClientFromRedis(rdb, testLogger())
}

func newTestAggregator(t *testing.T, customers *fakeCustomerCounter, matches *fakeMatchAggregator) *Aggregator {
	t.Helper()
	return NewAggregator(
		testLogger(),
		customers,
		matches,
		&fakeGeocodeStats{stats: geocode.Stats{CacheHits: 30, ProviderCalls: 10, Failures: 2}},
		testCacheClient(t),
		Config{CacheTTL: time.Minute},
	)
}

func TestMatchingStats(t *testing.T) {
	avg := 71.5
	customers := &fakeCustomerCounter{total: 1000, withCoords: 400, withIdentity: 50}
	matches := &fakeMatchAggregator{row: matchset.StatsRow{
		TotalMatched:  700,
		HighCount:     300,
		MediumCount:   250,
		LowCount:      150,
		AvgTopScore:   &avg,
		GeocodedCount: 80,
	}}

	agg := newTestAggregator(t, customers, matches)

	stats, err := agg.MatchingStats(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), stats.TotalCustomers)
	assert.Equal(t, int64(50), stats.ExemptCustomers)
	assert.Equal(t, int64(700), stats.MatchedCustomers)
	assert.Equal(t, int64(250), stats.UnmatchedCustomers)
	assert.Equal(t, int64(300), stats.HighConfidence)
	assert.Equal(t, int64(80), stats.GeocodedBest)
	assert.InDelta(t, avg, stats.AvgTopScore, 0.001)
}

func TestMatchingStatsServedFromCache(t *testing.T) {
	customers := &fakeCustomerCounter{total: 10}
	matches := &fakeMatchAggregator{}

	agg := newTestAggregator(t, customers, matches)

	_, err := agg.MatchingStats(context.Background(), Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, customers.calls)

	// second read hits the cache, not the sources
	stats, err := agg.MatchingStats(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalCustomers)
	assert.Equal(t, 1, customers.calls)
}

func TestMatchingStatsFiltered(t *testing.T) {
	customers := &fakeCustomerCounter{total: 200}
	matches := &fakeMatchAggregator{row: matchset.StatsRow{TotalMatched: 120}}

	agg := newTestAggregator(t, customers, matches)

	stats, err := agg.MatchingStats(context.Background(), Filter{UF: "SP", Search: "PADARIA"})
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.MatchedCustomers)

	// the filter reaches both sources
	assert.Equal(t, "SP", customers.lastUF)
	assert.Equal(t, matchset.StatsFilter{UF: "SP", Search: "PADARIA"}, matches.lastFilter)

	// filtered reads bypass the cache entirely
	_, err = agg.MatchingStats(context.Background(), Filter{UF: "SP", Search: "PADARIA"})
	require.NoError(t, err)
	assert.Equal(t, 2, customers.calls)
}

func TestMatchingStatsNoMatchesYet(t *testing.T) {
	customers := &fakeCustomerCounter{total: 100}
	matches := &fakeMatchAggregator{} // AvgTopScore nil when nothing is stored

	agg := newTestAggregator(t, customers, matches)

	stats, err := agg.MatchingStats(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.AvgTopScore)
	assert.Equal(t, int64(100), stats.UnmatchedCustomers)
}

func TestGeocodingStats(t *testing.T) {
	customers := &fakeCustomerCounter{withCoords: 400}
	matches := &fakeMatchAggregator{row: matchset.StatsRow{GeocodedCount: 80}}

	agg := newTestAggregator(t, customers, matches)

	stats, err := agg.GeocodingStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.CacheHits)
	assert.Equal(t, int64(10), stats.ProviderCalls)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(80), stats.GeocodedBest)
	assert.Equal(t, int64(400), stats.WithCoordinates)
}
