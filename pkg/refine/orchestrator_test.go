package refine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-pro/vinculo/pkg/geocode"
	"github.com/bdgd-pro/vinculo/pkg/matching"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeCandidateSource struct {
	byCEP  map[string][]models.RegistryEntry
	byCNAE map[string][]models.RegistryEntry
}

func (f *fakeCandidateSource) ListByCEP(_ context.Context, cep string, _ int) ([]models.RegistryEntry, error) {
	return f.byCEP[cep], nil
}

func (f *fakeCandidateSource) ListByMunicipalityCNAE(_ context.Context, munCode, cnaeClass string, _ int) ([]models.RegistryEntry, error) {
	return f.byCNAE[munCode+":"+cnaeClass], nil
}

type fakeCustomerSource struct {
	customers map[string]models.Customer
}

func (f *fakeCustomerSource) Get(_ context.Context, id string) (*models.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCustomerSource) ListByIDs(_ context.Context, ids []string) ([]models.Customer, error) {
	var result []models.Customer
	for _, id := range ids {
		if c, ok := f.customers[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

type fakeMatchStore struct {
	mu       sync.Mutex
	sets     map[string]models.MatchSet
	replaced []string
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{sets: make(map[string]models.MatchSet)}
}

func (f *fakeMatchStore) Replace(_ context.Context, customerID string, matches []models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[customerID] = matches
	f.replaced = append(f.replaced, customerID)
	return nil
}

func (f *fakeMatchStore) GetSet(_ context.Context, customerID string) (models.MatchSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[customerID], nil
}

func (f *fakeMatchStore) BatchGetBest(_ context.Context, ids []string) (map[string]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]models.Match)
	for _, id := range ids {
		if best := f.sets[id].Best(); best != nil {
			result[id] = *best
		}
	}
	return result, nil
}

// stubGeocoder behaves like the real service: the first lookup per coordinate
// calls the provider, later ones come from cache.
type stubGeocoder struct {
	addr *geocode.Address
	err  error
	seen map[string]struct{}
}

func newStubGeocoder(addr *geocode.Address, err error) *stubGeocoder {
	return &stubGeocoder{addr: addr, err: err, seen: make(map[string]struct{})}
}

func (s *stubGeocoder) Locate(_ context.Context, lat, lon float64) (*geocode.Address, bool, error) {
	if s.err != nil {
		return nil, true, s.err
	}
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if _, ok := s.seen[key]; ok {
		return s.addr, false, nil
	}
	s.seen[key] = struct{}{}
	return s.addr, true, nil
}

func testLocker(t *testing.T) *redis.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return redis.NewLocker(redis.NewClientFromRedis(rdb, testLogger()), "")
}

func coords(lat, lon float64) (*float64, *float64) {
	return &lat, &lon
}

func misplacedCustomer(id string) models.Customer {
	lat, lon := coords(-23.5614, -46.6559)
	return models.Customer{
		ID:               id,
		CEPNorm:          "99999999",
		CNAENorm:         "4712100",
		CNAEClass:        "47121",
		StreetNorm:       "RUA ERRADA",
		NumberNorm:       "1",
		NeighborhoodNorm: "CENTRO",
		MunCode:          "3550308",
		Latitude:         lat,
		Longitude:        lon,
	}
}

func paulista() *geocode.Address {
	return &geocode.Address{
		Street:       "Avenida Paulista",
		Number:       "1000",
		Neighborhood: "Bela Vista",
		CEP:          "01310-100",
		Municipality: "São Paulo",
		UF:           "SP",
	}
}

func paulistaEntry(taxID string) models.RegistryEntry {
	return models.RegistryEntry{
		TaxID:            taxID,
		LegalName:        "EMPRESA " + taxID,
		CEPNorm:          "01310100",
		CNAENorm:         "4712100",
		CNAEClass:        "47121",
		StreetNorm:       "AVENIDA PAULISTA",
		NumberNorm:       "1000",
		NeighborhoodNorm: "BELA VISTA",
		Situation:        models.RegistrySituationActive,
	}
}

func newTestOrchestrator(
	t *testing.T,
	source *fakeCandidateSource,
	customers *fakeCustomerSource,
	store *fakeMatchStore,
	geocoder Geocoder,
) *Orchestrator {
	t.Helper()
	engine := matching.NewEngine(
		testLogger(),
		source,
		customers,
		store,
		nil,
		nil,
		matching.NewScorer(matching.DefaultScorerConfig()),
		matching.NewRanker(matching.DefaultRankerConfig()),
		matching.DefaultEngineConfig(),
	)
	return NewOrchestrator(testLogger(), customers, store, engine, geocoder, testLocker(t), nil, DefaultConfig())
}

func TestRefineBatchImproves(t *testing.T) {
	source := &fakeCandidateSource{
		byCEP: map[string][]models.RegistryEntry{"01310100": {paulistaEntry("11111111000111")}},
	}
	customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": misplacedCustomer("c1")}}
	store := newFakeMatchStore()
	store.sets["c1"] = models.MatchSet{{CustomerID: "c1", TaxID: "22222222000122", ScoreTotal: 25, Rank: 1}}

	orch := newTestOrchestrator(t, source, customers, store, newStubGeocoder(paulista(), nil))

	outcome, err := orch.RefineBatch(context.Background(), []string{"c1"})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Attempted)
	assert.Equal(t, 1, outcome.Geocoded)
	assert.Equal(t, 1, outcome.Improved)
	assert.Empty(t, outcome.Failed)

	set := store.sets["c1"]
	require.NotEmpty(t, set)
	assert.Equal(t, "11111111000111", set.Best().TaxID)
	assert.Equal(t, 100.0, set.Best().ScoreTotal)
	assert.Equal(t, models.AddressSourceGeocoded, set.Best().AddressSource)
}

func TestRefineBatchIsIdempotent(t *testing.T) {
	source := &fakeCandidateSource{
		byCEP: map[string][]models.RegistryEntry{"01310100": {paulistaEntry("11111111000111")}},
	}
	customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": misplacedCustomer("c1")}}
	store := newFakeMatchStore()

	orch := newTestOrchestrator(t, source, customers, store, newStubGeocoder(paulista(), nil))

	first, err := orch.RefineBatch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Geocoded)
	assert.Equal(t, 1, first.Improved)

	second, err := orch.RefineBatch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Attempted)
	assert.Equal(t, 0, second.Geocoded)
	assert.Equal(t, 0, second.Improved)

	// only the first run replaced the set
	assert.Equal(t, []string{"c1"}, store.replaced)
}

func TestRefineBatchEdgeCases(t *testing.T) {
	t.Run("no coordinates is counted but skipped", func(t *testing.T) {
		customer := misplacedCustomer("c1")
		customer.Latitude = nil
		customer.Longitude = nil
		customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": customer}}

		orch := newTestOrchestrator(t, &fakeCandidateSource{}, customers, newFakeMatchStore(), newStubGeocoder(paulista(), nil))

		outcome, err := orch.RefineBatch(context.Background(), []string{"c1"})
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Attempted)
		assert.Equal(t, 1, outcome.NotGeocodable)
		assert.Equal(t, 0, outcome.Geocoded)
	})

	t.Run("unresolvable coordinates keep the stored set", func(t *testing.T) {
		customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": misplacedCustomer("c1")}}
		store := newFakeMatchStore()
		store.sets["c1"] = models.MatchSet{{CustomerID: "c1", TaxID: "22222222000122", ScoreTotal: 25, Rank: 1}}

		orch := newTestOrchestrator(t, &fakeCandidateSource{}, customers, store, newStubGeocoder(nil, geocode.ErrNoAddress))

		outcome, err := orch.RefineBatch(context.Background(), []string{"c1"})
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Geocoded)
		assert.Equal(t, 0, outcome.Improved)
		assert.Empty(t, outcome.Failed)
		assert.Empty(t, store.replaced)
	})

	t.Run("provider failure is isolated", func(t *testing.T) {
		customers := &fakeCustomerSource{customers: map[string]models.Customer{
			"bad": misplacedCustomer("bad"),
		}}

		orch := newTestOrchestrator(t, &fakeCandidateSource{}, customers, newFakeMatchStore(), newStubGeocoder(nil, errors.New("timeout")))

		outcome, err := orch.RefineBatch(context.Background(), []string{"bad"})
		require.NoError(t, err)
		assert.Equal(t, []string{"bad"}, outcome.Failed)
	})

	t.Run("authoritative identity is skipped", func(t *testing.T) {
		gd := "77777777000177"
		customer := misplacedCustomer("exempt")
		customer.GDTaxID = &gd
		customers := &fakeCustomerSource{customers: map[string]models.Customer{"exempt": customer}}

		orch := newTestOrchestrator(t, &fakeCandidateSource{}, customers, newFakeMatchStore(), newStubGeocoder(paulista(), nil))

		outcome, err := orch.RefineBatch(context.Background(), []string{"exempt"})
		require.NoError(t, err)
		assert.Equal(t, 0, outcome.Attempted)
		assert.Equal(t, 1, outcome.Skipped)
	})

	t.Run("unknown ids are skipped", func(t *testing.T) {
		orch := newTestOrchestrator(t, &fakeCandidateSource{}, &fakeCustomerSource{}, newFakeMatchStore(), newStubGeocoder(paulista(), nil))

		outcome, err := orch.RefineBatch(context.Background(), []string{"ghost"})
		require.NoError(t, err)
		assert.Equal(t, 0, outcome.Attempted)
		assert.Equal(t, 1, outcome.Skipped)
	})

	t.Run("oversized batch is rejected", func(t *testing.T) {
		orch := newTestOrchestrator(t, &fakeCandidateSource{}, &fakeCustomerSource{}, newFakeMatchStore(), newStubGeocoder(paulista(), nil))

		ids := make([]string, DefaultConfig().BatchLimit+1)
		for i := range ids {
			ids[i] = fmt.Sprintf("c%d", i)
		}
		_, err := orch.RefineBatch(context.Background(), ids)
		assert.Error(t, err)
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		orch := newTestOrchestrator(t, &fakeCandidateSource{}, &fakeCustomerSource{}, newFakeMatchStore(), newStubGeocoder(paulista(), nil))

		_, err := orch.RefineBatch(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestRefineCustomerLockContention(t *testing.T) {
	customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": misplacedCustomer("c1")}}
	store := newFakeMatchStore()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	locker := redis.NewLocker(redis.NewClientFromRedis(rdb, testLogger()), "")

	engine := matching.NewEngine(
		testLogger(),
		&fakeCandidateSource{},
		customers,
		store,
		nil,
		nil,
		matching.NewScorer(matching.DefaultScorerConfig()),
		matching.NewRanker(matching.DefaultRankerConfig()),
		matching.DefaultEngineConfig(),
	)
	orch := NewOrchestrator(testLogger(), customers, store, engine, newStubGeocoder(paulista(), nil), locker, nil, DefaultConfig())

	// hold the customer lock so the batch cannot take it
	held, err := locker.Acquire(context.Background(), matching.WriteLockKey("c1"), DefaultConfig().LockTTL)
	require.NoError(t, err)
	defer held.Release(context.Background())

	outcome, err := orch.RefineBatch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Attempted)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Empty(t, store.replaced)
}
