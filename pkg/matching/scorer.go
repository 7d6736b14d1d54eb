// Package matching implements candidate generation, scoring and ranking for
// linking utility customers to business registry entries.
package matching

import (
	"math"

	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/normalizers"
)

// Sub-score maxima. The five fields sum to 100.
const (
	MaxCEPScore          = 40.0
	MaxCNAEScore         = 25.0
	MaxAddressScore      = 20.0
	MaxNumberScore       = 10.0
	MaxNeighborhoodScore = 5.0

	// CNAEClassScore is the partial credit for a shared 5-digit activity class.
	CNAEClassScore = 15.0

	cepLength = 8
)

// ScorerConfig tunes the partial-credit rules.
type ScorerConfig struct {
	CEPPrefixMinDigits int     // shared leading digits required for partial postal credit
	AddressMinJaccard  float64 // token similarity below this scores zero
}

// DefaultScorerConfig returns the default scorer configuration
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		CEPPrefixMinDigits: 5,
		AddressMinJaccard:  0.15,
	}
}

// RecordFields holds the normalized comparison fields of one record,
// from either source.
type RecordFields struct {
	CEP          string
	CNAE         string
	CNAEClass    string
	Address      string
	Number       string
	Neighborhood string
}

// CustomerFields extracts the comparison fields of a customer.
func CustomerFields(c *models.Customer) RecordFields {
	return RecordFields{
		CEP:          c.CEPNorm,
		CNAE:         c.CNAENorm,
		CNAEClass:    c.CNAEClass,
		Address:      c.StreetNorm,
		Number:       c.NumberNorm,
		Neighborhood: c.NeighborhoodNorm,
	}
}

// RegistryFields extracts the comparison fields of a registry entry.
func RegistryFields(e *models.RegistryEntry) RecordFields {
	return RecordFields{
		CEP:          e.CEPNorm,
		CNAE:         e.CNAENorm,
		CNAEClass:    e.CNAEClass,
		Address:      e.StreetNorm,
		Number:       e.NumberNorm,
		Neighborhood: e.NeighborhoodNorm,
	}
}

// Scorer computes the weighted field scores between two records.
// Scoring is deterministic: equal inputs always produce equal scores.
type Scorer struct {
	config ScorerConfig
}

// NewScorer creates a new Scorer
func NewScorer(config ScorerConfig) *Scorer {
	return &Scorer{config: config}
}

// Score computes all sub-scores between a customer and a candidate.
func (s *Scorer) Score(customer, candidate RecordFields) models.FieldScores {
	return models.FieldScores{
		CEP:          s.ScoreCEP(customer.CEP, candidate.CEP),
		CNAE:         s.ScoreCNAE(customer, candidate),
		Address:      s.ScoreAddress(customer.Address, candidate.Address),
		Number:       s.ScoreNumber(customer.Number, candidate.Number),
		Neighborhood: s.ScoreNeighborhood(customer.Neighborhood, candidate.Neighborhood),
	}
}

// ScoreCEP scores the postal codes: full credit on exact normalized
// equality, linear partial credit by shared leading digits once the
// configured minimum prefix is reached.
func (s *Scorer) ScoreCEP(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return MaxCEPScore
	}

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	if prefix < s.config.CEPPrefixMinDigits {
		return 0
	}
	return round2(MaxCEPScore * float64(prefix) / cepLength)
}

// ScoreCNAE scores the activity codes: full credit for an exact 7-digit
// match, class credit for a shared 5-digit class.
func (s *Scorer) ScoreCNAE(a, b RecordFields) float64 {
	if a.CNAE != "" && a.CNAE == b.CNAE {
		return MaxCNAEScore
	}
	if a.CNAEClass != "" && a.CNAEClass == b.CNAEClass {
		return CNAEClassScore
	}
	return 0
}

// ScoreAddress scores the street lines by token-set Jaccard similarity.
func (s *Scorer) ScoreAddress(a, b string) float64 {
	sim := jaccard(normalizers.Tokens(a), normalizers.Tokens(b))
	if sim < s.config.AddressMinJaccard {
		return 0
	}
	return round2(sim * MaxAddressScore)
}

// ScoreNumber scores the street numbers: exact match only.
func (s *Scorer) ScoreNumber(a, b string) float64 {
	if a != "" && a == b {
		return MaxNumberScore
	}
	return 0
}

// ScoreNeighborhood scores the neighborhoods: full credit on an exact match,
// proportional credit for partial token overlap.
func (s *Scorer) ScoreNeighborhood(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return MaxNeighborhoodScore
	}

	ta := normalizers.Tokens(a)
	tb := normalizers.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := intersection(ta, tb)
	if inter == 0 {
		return 0
	}
	larger := len(ta)
	if len(tb) > larger {
		larger = len(tb)
	}
	return round2(float64(inter) / float64(larger) * MaxNeighborhoodScore)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}

	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union)
}

func intersection(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	count := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			count++
			delete(set, t)
		}
	}
	return count
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
