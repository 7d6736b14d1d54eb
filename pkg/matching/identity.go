package matching

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// LookupEntry is the rank-1 summary returned by batch lookups.
type LookupEntry struct {
	TaxID         string  `json:"tax_id"`
	ScoreTotal    float64 `json:"score_total"`
	Confidence    string  `json:"confidence"`
	LegalName     string  `json:"legal_name"`
	TradeName     string  `json:"trade_name,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Email         string  `json:"email,omitempty"`
	Street        string  `json:"street,omitempty"`
	Number        string  `json:"number,omitempty"`
	Neighborhood  string  `json:"neighborhood,omitempty"`
	CEP           string  `json:"cep,omitempty"`
	AddressSource string  `json:"address_source"`
}

// Resolver answers identity questions from the stored match sets.
type Resolver struct {
	logger    ectologger.Logger
	customers CustomerSource
	store     MatchStore
	ranker    *Ranker
}

// NewResolver creates a new identity resolver
func NewResolver(logger ectologger.Logger, customers CustomerSource, store MatchStore, ranker *Ranker) *Resolver {
	return &Resolver{
		logger:    logger,
		customers: customers,
		store:     store,
		ranker:    ranker,
	}
}

// BatchLookup returns the best stored match per customer id. Unknown ids,
// customers with an authoritative identity and customers without a stored
// match are omitted from the result rather than reported as errors.
func (r *Resolver) BatchLookup(ctx context.Context, ids []string) (map[string]LookupEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.BatchLookup")
	defer span.End()

	customers, err := r.customers.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	lookupIDs := make([]string, 0, len(customers))
	for i := range customers {
		if customers[i].HasAuthoritativeIdentity() {
			continue
		}
		lookupIDs = append(lookupIDs, customers[i].ID)
	}

	result := make(map[string]LookupEntry, len(lookupIDs))
	if len(lookupIDs) == 0 {
		return result, nil
	}

	best, err := r.store.BatchGetBest(ctx, lookupIDs)
	if err != nil {
		return nil, err
	}

	for id, match := range best {
		result[id] = LookupEntry{
			TaxID:         match.TaxID,
			ScoreTotal:    match.ScoreTotal,
			Confidence:    r.ranker.Confidence(match.ScoreTotal),
			LegalName:     match.LegalName,
			TradeName:     match.TradeName,
			Phone:         match.Phone,
			Email:         match.Email,
			Street:        match.Street,
			Number:        match.Number,
			Neighborhood:  match.Neighborhood,
			CEP:           match.CEP,
			AddressSource: match.AddressSource,
		}
	}

	return result, nil
}

// Resolve returns the tagged identity of one customer.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.Identity, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Resolver.Resolve")
	defer span.End()

	customer, err := r.customers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "customer %s not found", id)
	}

	if customer.HasAuthoritativeIdentity() {
		return &models.Identity{
			Source: models.IdentitySourceGD,
			TaxID:  *customer.GDTaxID,
		}, nil
	}

	set, err := r.store.GetSet(ctx, id)
	if err != nil {
		return nil, err
	}

	if best := set.Best(); best != nil {
		score := best.ScoreTotal
		return &models.Identity{
			Source: models.IdentitySourceFuzzy,
			TaxID:  best.TaxID,
			Score:  &score,
		}, nil
	}

	return &models.Identity{Source: models.IdentitySourceNone}, nil
}
