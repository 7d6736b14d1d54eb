package matching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/redis"
)

type fakeCandidateSource struct {
	byCEP  map[string][]models.RegistryEntry
	byCNAE map[string][]models.RegistryEntry
	err    error
}

func (f *fakeCandidateSource) ListByCEP(_ context.Context, cep string, _ int) ([]models.RegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byCEP[cep], nil
}

func (f *fakeCandidateSource) ListByMunicipalityCNAE(_ context.Context, munCode, cnaeClass string, _ int) ([]models.RegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
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
	failFor  map[string]bool
	replaced []string
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{sets: make(map[string]models.MatchSet), failFor: make(map[string]bool)}
}

func (f *fakeMatchStore) Replace(_ context.Context, customerID string, matches []models.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[customerID] {
		return errors.New("write failed")
	}
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

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testCustomer(id string) models.Customer {
	return models.Customer{
		ID:               id,
		CEPNorm:          "01310100",
		CNAENorm:         "4712100",
		CNAEClass:        "47121",
		StreetNorm:       "AVENIDA PAULISTA",
		NumberNorm:       "1000",
		NeighborhoodNorm: "BELA VISTA",
		MunCode:          "3550308",
	}
}

func testEntry(taxID, cep string) models.RegistryEntry {
	return models.RegistryEntry{
		TaxID:            taxID,
		LegalName:        "EMPRESA " + taxID,
		CEPNorm:          cep,
		CNAENorm:         "4712100",
		CNAEClass:        "47121",
		StreetNorm:       "AVENIDA PAULISTA",
		NumberNorm:       "1000",
		NeighborhoodNorm: "BELA VISTA",
		Situation:        models.RegistrySituationActive,
	}
}

func newTestEngine(candidates CandidateSource, customers CustomerSource, store MatchStore) *Engine {
	return NewEngine(
		testLogger(),
		candidates,
		customers,
		store,
		nil,
		nil,
		NewScorer(DefaultScorerConfig()),
		NewRanker(DefaultRankerConfig()),
		DefaultEngineConfig(),
	)
}

func testWriteLocker(t *testing.T) *redis.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return redis.NewLocker(redis.NewClientFromRedis(rdb, testLogger()), "")
}

func TestGenerateCandidates(t *testing.T) {
	t.Run("cep block is primary", func(t *testing.T) {
		source := &fakeCandidateSource{
			byCEP: map[string][]models.RegistryEntry{
				"01310100": {testEntry("1", "01310100"), testEntry("2", "01310100"), testEntry("3", "01310100"), testEntry("4", "01310100"), testEntry("5", "01310100")},
			},
		}
		engine := newTestEngine(source, &fakeCustomerSource{}, newFakeMatchStore())

		customer := testCustomer("c1")
		candidates, err := engine.GenerateCandidates(context.Background(), &customer)
		require.NoError(t, err)
		assert.Len(t, candidates, 5)
	})

	t.Run("thin cep block unions the activity block", func(t *testing.T) {
		source := &fakeCandidateSource{
			byCEP: map[string][]models.RegistryEntry{
				"01310100": {testEntry("1", "01310100")},
			},
			byCNAE: map[string][]models.RegistryEntry{
				"3550308:47121": {testEntry("1", "01310100"), testEntry("9", "04500000")},
			},
		}
		engine := newTestEngine(source, &fakeCustomerSource{}, newFakeMatchStore())

		customer := testCustomer("c1")
		candidates, err := engine.GenerateCandidates(context.Background(), &customer)
		require.NoError(t, err)
		// entry "1" appears in both blocks but is deduplicated
		assert.Len(t, candidates, 2)
	})

	t.Run("no blocking key yields empty set", func(t *testing.T) {
		engine := newTestEngine(&fakeCandidateSource{}, &fakeCustomerSource{}, newFakeMatchStore())

		customer := models.Customer{ID: "c1"}
		candidates, err := engine.GenerateCandidates(context.Background(), &customer)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestMatchCustomer(t *testing.T) {
	t.Run("stores ranked matches capped at the configured size", func(t *testing.T) {
		entries := []models.RegistryEntry{
			testEntry("11111111000111", "01310100"),
			testEntry("22222222000122", "01310100"),
			testEntry("33333333000133", "01310100"),
			testEntry("44444444000144", "01310100"),
		}
		source := &fakeCandidateSource{byCEP: map[string][]models.RegistryEntry{"01310100": entries}}
		store := newFakeMatchStore()
		engine := newTestEngine(source, &fakeCustomerSource{}, store)

		customer := testCustomer("c1")
		set, err := engine.MatchCustomer(context.Background(), &customer)
		require.NoError(t, err)
		require.Len(t, set, 3)
		assert.Equal(t, 1, set[0].Rank)
		assert.Equal(t, "11111111000111", set[0].TaxID) // equal scores tie-break on tax id
		assert.Equal(t, []string{"c1"}, store.replaced)
	})

	t.Run("authoritative identity is skipped", func(t *testing.T) {
		store := newFakeMatchStore()
		engine := newTestEngine(&fakeCandidateSource{}, &fakeCustomerSource{}, store)

		gd := "99999999000199"
		customer := testCustomer("c1")
		customer.GDTaxID = &gd

		set, err := engine.MatchCustomer(context.Background(), &customer)
		require.NoError(t, err)
		assert.Nil(t, set)
		assert.Empty(t, store.replaced)
	})

	t.Run("no candidates replaces with empty set", func(t *testing.T) {
		store := newFakeMatchStore()
		engine := newTestEngine(&fakeCandidateSource{}, &fakeCustomerSource{}, store)

		customer := testCustomer("c1")
		set, err := engine.MatchCustomer(context.Background(), &customer)
		require.NoError(t, err)
		assert.Empty(t, set)
		assert.Equal(t, []string{"c1"}, store.replaced)
	})
}

func TestMatchBatchIsolatesFailures(t *testing.T) {
	source := &fakeCandidateSource{
		byCEP: map[string][]models.RegistryEntry{"01310100": {testEntry("11111111000111", "01310100")}},
	}
	customers := &fakeCustomerSource{customers: map[string]models.Customer{
		"ok":   testCustomer("ok"),
		"boom": testCustomer("boom"),
	}}
	store := newFakeMatchStore()
	store.failFor["boom"] = true

	engine := newTestEngine(source, customers, store)

	outcome, err := engine.MatchBatch(context.Background(), []string{"ok", "boom", "missing"})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Requested)
	assert.Equal(t, 1, outcome.Matched)
	assert.Equal(t, 1, outcome.Skipped) // unknown id
	assert.Equal(t, []string{"boom"}, outcome.Failed)
}

func TestMatchCustomerWriteLockContention(t *testing.T) {
	source := &fakeCandidateSource{
		byCEP: map[string][]models.RegistryEntry{"01310100": {testEntry("11111111000111", "01310100")}},
	}
	customers := &fakeCustomerSource{customers: map[string]models.Customer{"c1": testCustomer("c1")}}
	store := newFakeMatchStore()
	locker := testWriteLocker(t)

	engine := NewEngine(
		testLogger(),
		source,
		customers,
		store,
		locker,
		nil,
		NewScorer(DefaultScorerConfig()),
		NewRanker(DefaultRankerConfig()),
		DefaultEngineConfig(),
	)

	// hold the customer's write lock, as a concurrent refinement would
	held, err := locker.Acquire(context.Background(), WriteLockKey("c1"), DefaultEngineConfig().LockTTL)
	require.NoError(t, err)

	customer := testCustomer("c1")
	_, err = engine.MatchCustomer(context.Background(), &customer)
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
	assert.Empty(t, store.replaced)

	// a batch counts the held customer as skipped, not failed
	outcome, err := engine.MatchBatch(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Empty(t, outcome.Failed)

	// once the lock is released the customer matches normally
	require.NoError(t, held.Release(context.Background()))
	set, err := engine.MatchCustomer(context.Background(), &customer)
	require.NoError(t, err)
	assert.NotEmpty(t, set)
}

func TestResolverBatchLookup(t *testing.T) {
	gd := "77777777000177"
	customers := &fakeCustomerSource{customers: map[string]models.Customer{
		"matched":   testCustomer("matched"),
		"unmatched": testCustomer("unmatched"),
		"exempt":    {ID: "exempt", GDTaxID: &gd},
	}}

	store := newFakeMatchStore()
	store.sets["matched"] = models.MatchSet{{
		CustomerID: "matched",
		TaxID:      "11111111000111",
		ScoreTotal: 82.5,
		LegalName:  "EMPRESA UM",
		Rank:       1,
	}}

	resolver := NewResolver(testLogger(), customers, store, NewRanker(DefaultRankerConfig()))

	result, err := resolver.BatchLookup(context.Background(), []string{"matched", "unmatched", "exempt", "ghost"})
	require.NoError(t, err)

	require.Len(t, result, 1)
	entry := result["matched"]
	assert.Equal(t, "11111111000111", entry.TaxID)
	assert.Equal(t, models.ConfidenceHigh, entry.Confidence)
}

func TestResolverResolve(t *testing.T) {
	gd := "77777777000177"
	customers := &fakeCustomerSource{customers: map[string]models.Customer{
		"matched": testCustomer("matched"),
		"nomatch": testCustomer("nomatch"),
		"exempt":  {ID: "exempt", GDTaxID: &gd},
	}}

	store := newFakeMatchStore()
	store.sets["matched"] = models.MatchSet{{TaxID: "11111111000111", ScoreTotal: 64}}

	resolver := NewResolver(testLogger(), customers, store, NewRanker(DefaultRankerConfig()))

	t.Run("gd identity wins", func(t *testing.T) {
		identity, err := resolver.Resolve(context.Background(), "exempt")
		require.NoError(t, err)
		assert.Equal(t, models.IdentitySourceGD, identity.Source)
		assert.Equal(t, gd, identity.TaxID)
	})

	t.Run("fuzzy identity carries score", func(t *testing.T) {
		identity, err := resolver.Resolve(context.Background(), "matched")
		require.NoError(t, err)
		assert.Equal(t, models.IdentitySourceFuzzy, identity.Source)
		require.NotNil(t, identity.Score)
		assert.Equal(t, 64.0, *identity.Score)
	})

	t.Run("no match means none", func(t *testing.T) {
		identity, err := resolver.Resolve(context.Background(), "nomatch")
		require.NoError(t, err)
		assert.Equal(t, models.IdentitySourceNone, identity.Source)
	})

	t.Run("unknown customer is an error", func(t *testing.T) {
		_, err := resolver.Resolve(context.Background(), "ghost")
		assert.Error(t, err)
	})
}
