package matching

import (
	"context"

	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// GenerateCandidatesWithCEP collects the regular blocking union plus the
// entries sharing an alternate postal code, deduplicated by tax id.
func (e *Engine) GenerateCandidatesWithCEP(ctx context.Context, customer *models.Customer, altCEP string) ([]models.RegistryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.GenerateCandidatesWithCEP")
	defer span.End()

	result, err := e.GenerateCandidates(ctx, customer)
	if err != nil {
		return nil, err
	}

	if altCEP == "" || altCEP == customer.CEPNorm {
		return result, nil
	}

	seen := make(map[string]struct{}, len(result))
	for _, entry := range result {
		seen[entry.TaxID] = struct{}{}
	}

	entries, err := e.candidates.ListByCEP(ctx, altCEP, e.config.CEPBlockLimit)
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

	if len(result) > e.config.MaxCandidates {
		result = result[:e.config.MaxCandidates]
	}

	return result, nil
}

// ScoreCandidatesDual scores every candidate against the customer's recorded
// address and against an alternate field set, keeping the higher score per
// candidate and tagging which side produced it.
func (e *Engine) ScoreCandidatesDual(customer *models.Customer, alt RecordFields, candidates []models.RegistryEntry) []models.Match {
	original := CustomerFields(customer)

	matches := make([]models.Match, 0, len(candidates))
	for i := range candidates {
		entry := &candidates[i]
		fields := RegistryFields(entry)

		originalScores := e.scorer.Score(original, fields)
		altScores := e.scorer.Score(alt, fields)

		scores, source := originalScores, models.AddressSourceOriginal
		if altScores.Total() > originalScores.Total() {
			scores, source = altScores, models.AddressSourceGeocoded
		}
		matches = append(matches, buildMatch(customer.ID, entry, scores, source))
	}

	matches = e.ranker.Filter(matches)
	return e.ranker.Rank(matches)
}

// StoredLimit returns how many ranked matches are kept per customer.
func (e *Engine) StoredLimit() int {
	return e.config.StoredMatches
}
