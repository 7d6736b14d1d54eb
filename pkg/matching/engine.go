package matching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/redis"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// CandidateSource provides registry entries for the blocking keys of a customer.
type CandidateSource interface {
	ListByCEP(ctx context.Context, cep string, limit int) ([]models.RegistryEntry, error)
	ListByMunicipalityCNAE(ctx context.Context, munCode, cnaeClass string, limit int) ([]models.RegistryEntry, error)
}

// CustomerSource provides customer records.
type CustomerSource interface {
	Get(ctx context.Context, id string) (*models.Customer, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Customer, error)
}

// MatchStore persists match sets.
type MatchStore interface {
	Replace(ctx context.Context, customerID string, matches []models.Match) error
	GetSet(ctx context.Context, customerID string) (models.MatchSet, error)
	BatchGetBest(ctx context.Context, ids []string) (map[string]models.Match, error)
}

// EventSink receives notifications after a match set is replaced.
type EventSink interface {
	MatchesReplaced(ctx context.Context, customerID string, best *models.Match, total int) error
}

// EngineConfig contains configuration for the match engine
type EngineConfig struct {
	MaxCandidates     int           // cap on the blocking union per customer
	StoredMatches     int           // ranked matches kept per customer
	WorkerCount       int           // batch matching parallelism
	CEPBlockLimit     int           // candidates fetched per postal code
	CNAEBlockLimit    int           // candidates fetched by municipality and activity class
	CEPBlockThreshold int           // below this many postal candidates the activity block kicks in
	LockTTL           time.Duration // per customer write lock duration
}

// DefaultEngineConfig returns default engine configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxCandidates:     200,
		StoredMatches:     3,
		WorkerCount:       8,
		CEPBlockLimit:     200,
		CNAEBlockLimit:    50,
		CEPBlockThreshold: 5,
		LockTTL:           30 * time.Second,
	}
}

// WriteLockKey is the per customer lock guarding match set writes. Every
// writer, initial match and refinement alike, must hold it so a slow
// computation cannot clobber a newer stored set.
func WriteLockKey(customerID string) string {
	return "match:" + customerID
}

// Engine runs the generate, score, rank pipeline and persists the result.
type Engine struct {
	logger     ectologger.Logger
	candidates CandidateSource
	customers  CustomerSource
	store      MatchStore
	locker     *redis.Locker
	events     EventSink
	scorer     *Scorer
	ranker     *Ranker
	config     EngineConfig
}

// NewEngine creates a new match engine. locker and events may be nil.
func NewEngine(
	logger ectologger.Logger,
	candidates CandidateSource,
	customers CustomerSource,
	store MatchStore,
	locker *redis.Locker,
	events EventSink,
	scorer *Scorer,
	ranker *Ranker,
	config EngineConfig,
) *Engine {
	return &Engine{
		logger:     logger,
		candidates: candidates,
		customers:  customers,
		store:      store,
		locker:     locker,
		events:     events,
		scorer:     scorer,
		ranker:     ranker,
		config:     config,
	}
}

// GenerateCandidates collects registry entries sharing a blocking key with the
// customer: same postal code first, municipality plus activity class when the
// postal block comes up thin. Customers with no usable blocking key get an
// empty set, never an error.
func (e *Engine) GenerateCandidates(ctx context.Context, customer *models.Customer) ([]models.RegistryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.GenerateCandidates")
	defer span.End()

	seen := make(map[string]struct{})
	var result []models.RegistryEntry

	if customer.CEPNorm != "" {
		entries, err := e.candidates.ListByCEP(ctx, customer.CEPNorm, e.config.CEPBlockLimit)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if _, ok := seen[entry.TaxID]; ok {
				continue
			}
			seen[entry.TaxID] = struct{}{}
			result = append(result, entry)
		}
	}

	if len(result) < e.config.CEPBlockThreshold && customer.MunCode != "" && customer.CNAEClass != "" {
		entries, err := e.candidates.ListByMunicipalityCNAE(ctx, customer.MunCode, customer.CNAEClass, e.config.CNAEBlockLimit)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if _, ok := seen[entry.TaxID]; ok {
				continue
			}
			seen[entry.TaxID] = struct{}{}
			result = append(result, entry)
		}
	}

	if len(result) > e.config.MaxCandidates {
		result = result[:e.config.MaxCandidates]
	}

	return result, nil
}

// ScoreCandidates scores every candidate against the customer and keeps the
// ones at or above the floor, ranked.
func (e *Engine) ScoreCandidates(customer *models.Customer, candidates []models.RegistryEntry) []models.Match {
	fields := CustomerFields(customer)

	matches := make([]models.Match, 0, len(candidates))
	for i := range candidates {
		entry := &candidates[i]
		scores := e.scorer.Score(fields, RegistryFields(entry))
		matches = append(matches, buildMatch(customer.ID, entry, scores, models.AddressSourceOriginal))
	}

	matches = e.ranker.Filter(matches)
	return e.ranker.Rank(matches)
}

// MatchCustomer runs the full pipeline for one customer and replaces its
// stored match set. Customers with an authoritative identity are skipped.
func (e *Engine) MatchCustomer(ctx context.Context, customer *models.Customer) (models.MatchSet, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.MatchCustomer")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": customer.ID})

	if customer.HasAuthoritativeIdentity() {
		log.Debug("Customer has authoritative identity, skipping match")
		return nil, nil
	}

	if e.locker != nil {
		lock, err := e.locker.Acquire(ctx, WriteLockKey(customer.ID), e.config.LockTTL)
		if err != nil {
			return nil, err
		}
		defer lock.Release(ctx)
	}

	candidates, err := e.GenerateCandidates(ctx, customer)
	if err != nil {
		return nil, err
	}

	matches := e.ScoreCandidates(customer, candidates)
	if len(matches) > e.config.StoredMatches {
		matches = matches[:e.config.StoredMatches]
	}

	if err := e.store.Replace(ctx, customer.ID, matches); err != nil {
		return nil, err
	}

	set := models.MatchSet(matches)
	if e.events != nil {
		if err := e.events.MatchesReplaced(ctx, customer.ID, set.Best(), len(set)); err != nil {
			log.WithError(err).Warn("Failed to emit match event")
		}
	}

	log.WithFields(map[string]any{"match_count": len(matches)}).Debug("Matched customer")
	return set, nil
}

// BatchOutcome summarizes a batch match run.
type BatchOutcome struct {
	Requested int      `json:"requested"`
	Matched   int      `json:"matched"`
	Unmatched int      `json:"unmatched"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed,omitempty"`
}

// MatchBatch matches a list of customers with a bounded worker pool.
// A failure on one customer never aborts the rest of the batch.
func (e *Engine) MatchBatch(ctx context.Context, ids []string) (*BatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.MatchBatch")
	defer span.End()

	customers, err := e.customers.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	outcome := &BatchOutcome{Requested: len(ids)}
	outcome.Skipped = len(ids) - len(customers) // unknown ids

	workers := e.config.WorkerCount
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan *models.Customer)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for customer := range jobs {
				set, err := e.MatchCustomer(ctx, customer)
				mu.Lock()
				switch {
				case errors.Is(err, redis.ErrLockNotAcquired):
					// another writer holds this customer, leave its set alone
					outcome.Skipped++
				case err != nil:
					outcome.Failed = append(outcome.Failed, customer.ID)
				case customer.HasAuthoritativeIdentity():
					outcome.Skipped++
				case len(set) > 0:
					outcome.Matched++
				default:
					outcome.Unmatched++
				}
				mu.Unlock()
			}
		}()
	}

	for i := range customers {
		jobs <- &customers[i]
	}
	close(jobs)
	wg.Wait()

	return outcome, nil
}

func buildMatch(customerID string, entry *models.RegistryEntry, scores models.FieldScores, addressSource string) models.Match {
	return models.Match{
		CustomerID:    customerID,
		TaxID:         entry.TaxID,
		ScoreTotal:    scores.Total(),
		FieldScores:   scores,
		AddressSource: addressSource,
		LegalName:     entry.LegalName,
		TradeName:     entry.TradeName,
		Street:        entry.Street,
		Number:        entry.Number,
		Neighborhood:  entry.Neighborhood,
		CEP:           entry.CEP,
		Phone:         entry.Phone,
		Email:         entry.Email,
	}
}
