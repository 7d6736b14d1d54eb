// Package refine improves stored match sets using reverse geocoded addresses.
package refine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/geocode"
	"github.com/bdgd-pro/vinculo/pkg/matching"
	"github.com/bdgd-pro/vinculo/pkg/metrics"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/normalizers"
	"github.com/bdgd-pro/vinculo/pkg/redis"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// Geocoder resolves coordinates to an address, reporting provider usage.
type Geocoder interface {
	Locate(ctx context.Context, lat, lon float64) (*geocode.Address, bool, error)
}

// EventSink receives notifications after a refinement improved a match set.
type EventSink interface {
	MatchesRefined(ctx context.Context, customerID string, best *models.Match, total int) error
}

// Config contains configuration for the refinement orchestrator
type Config struct {
	BatchLimit int           // customers per refinement request
	LockTTL    time.Duration // per customer lock duration
}

// DefaultConfig returns default refinement configuration
func DefaultConfig() Config {
	return Config{
		BatchLimit: 100,
		LockTTL:    30 * time.Second,
	}
}

// Orchestrator runs geocode assisted re-matching over stored match sets.
// Refinement is idempotent: running it twice over the same customers leaves
// the stored sets unchanged on the second pass.
type Orchestrator struct {
	logger    ectologger.Logger
	customers matching.CustomerSource
	store     matching.MatchStore
	engine    *matching.Engine
	geocoder  Geocoder
	locker    *redis.Locker
	events    EventSink
	config    Config
}

// NewOrchestrator creates a new refinement orchestrator. events may be nil.
func NewOrchestrator(
	logger ectologger.Logger,
	customers matching.CustomerSource,
	store matching.MatchStore,
	engine *matching.Engine,
	geocoder Geocoder,
	locker *redis.Locker,
	events EventSink,
	config Config,
) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		customers: customers,
		store:     store,
		engine:    engine,
		geocoder:  geocoder,
		locker:    locker,
		events:    events,
		config:    config,
	}
}

// Outcome summarizes a refinement batch.
type Outcome struct {
	Attempted     int      `json:"attempted"`
	Geocoded      int      `json:"geocoded"`
	Improved      int      `json:"improved"`
	NotGeocodable int      `json:"not_geocodable"`
	Skipped       int      `json:"skipped"`
	Failed        []string `json:"failed,omitempty"`
}

// RefineBatch refines the match sets of the given customers. Customers are
// processed sequentially: the geocoding provider is rate limited and gains
// nothing from parallel callers. A failure on one customer never aborts the
// rest of the batch.
func (o *Orchestrator) RefineBatch(ctx context.Context, ids []string) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "refine.Orchestrator.RefineBatch")
	defer span.End()

	if len(ids) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "no customer ids provided")
	}
	if len(ids) > o.config.BatchLimit {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "batch size %d exceeds limit %d", len(ids), o.config.BatchLimit)
	}

	customers, err := o.customers.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	outcome.Skipped = len(ids) - len(customers) // unknown ids

	for i := range customers {
		customer := &customers[i]
		log := o.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": customer.ID})

		if customer.HasAuthoritativeIdentity() {
			outcome.Skipped++
			continue
		}

		outcome.Attempted++
		if !customer.HasCoordinates() {
			outcome.NotGeocodable++
			metrics.RecordRefineRun("not_geocodable")
			continue
		}

		geocoded, improved, err := o.RefineCustomer(ctx, customer)
		switch {
		case errors.Is(err, redis.ErrLockNotAcquired):
			log.Debug("Refinement already running for customer, skipping")
			outcome.Attempted--
			outcome.Skipped++
		case err != nil:
			log.WithError(err).Warn("Failed to refine customer")
			outcome.Failed = append(outcome.Failed, customer.ID)
			metrics.RecordRefineRun("error")
		default:
			if geocoded {
				outcome.Geocoded++
			}
			if improved {
				outcome.Improved++
				metrics.RecordRefineRun("improved")
			} else {
				metrics.RecordRefineRun("unchanged")
			}
		}
	}

	return outcome, nil
}

// RefineCustomer geocodes the customer's coordinates and re-matches against
// both the recorded and the geocoded address, replacing the stored set only
// when the new best score is strictly higher. Returns whether the geocoding
// provider was called and whether the stored set was replaced.
func (o *Orchestrator) RefineCustomer(ctx context.Context, customer *models.Customer) (bool, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "refine.Orchestrator.RefineCustomer")
	defer span.End()

	// same key the match engine locks, so refinement and initial matching
	// never write the same customer concurrently
	lock, err := o.locker.Acquire(ctx, matching.WriteLockKey(customer.ID), o.config.LockTTL)
	if err != nil {
		return false, false, err
	}
	defer lock.Release(ctx)

	addr, providerCalled, err := o.geocoder.Locate(ctx, *customer.Latitude, *customer.Longitude)
	if err != nil {
		if errors.Is(err, geocode.ErrNoAddress) {
			// coordinates resolve to nothing usable, keep the stored set
			return providerCalled, false, nil
		}
		return providerCalled, false, err
	}

	alt := matching.RecordFields{
		CEP:          normalizers.NormalizeCEP(addr.CEP),
		CNAE:         customer.CNAENorm,
		CNAEClass:    customer.CNAEClass,
		Address:      normalizers.NormalizeText(addr.Street),
		Number:       normalizers.NormalizeNumber(addr.Number),
		Neighborhood: normalizers.NormalizeText(addr.Neighborhood),
	}

	current, err := o.store.GetSet(ctx, customer.ID)
	if err != nil {
		return providerCalled, false, err
	}

	candidates, err := o.engine.GenerateCandidatesWithCEP(ctx, customer, alt.CEP)
	if err != nil {
		return providerCalled, false, err
	}

	matches := o.engine.ScoreCandidatesDual(customer, alt, candidates)
	if limit := o.engine.StoredLimit(); len(matches) > limit {
		matches = matches[:limit]
	}

	currentBest := 0.0
	if best := current.Best(); best != nil {
		currentBest = best.ScoreTotal
	}
	newBest := 0.0
	if len(matches) > 0 {
		newBest = matches[0].ScoreTotal
	}

	if newBest <= currentBest {
		return providerCalled, false, nil
	}

	if err := o.store.Replace(ctx, customer.ID, matches); err != nil {
		return providerCalled, false, err
	}

	set := models.MatchSet(matches)
	if o.events != nil {
		if err := o.events.MatchesRefined(ctx, customer.ID, set.Best(), len(set)); err != nil {
			o.logger.WithContext(ctx).WithError(err).Warn("Failed to emit refinement event")
		}
	}

	return providerCalled, true, nil
}
