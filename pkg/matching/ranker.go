package matching

import (
	"sort"

	"github.com/bdgd-pro/vinculo/pkg/models"
)

// RankerConfig holds the confidence tier boundaries.
type RankerConfig struct {
	HighThreshold   float64
	MediumThreshold float64
	Floor           float64 // matches below this are not kept at all
}

// DefaultRankerConfig returns the default tier boundaries
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		HighThreshold:   75,
		MediumThreshold: 50,
		Floor:           15,
	}
}

// Ranker orders scored matches and assigns dense ranks and confidence tiers.
type Ranker struct {
	config RankerConfig
}

// NewRanker creates a new Ranker
func NewRanker(config RankerConfig) *Ranker {
	return &Ranker{config: config}
}

// Confidence returns the tier for a total score.
func (r *Ranker) Confidence(score float64) string {
	switch {
	case score >= r.config.HighThreshold:
		return models.ConfidenceHigh
	case score >= r.config.MediumThreshold:
		return models.ConfidenceMedium
	case score >= r.config.Floor:
		return models.ConfidenceLow
	default:
		return models.ConfidenceNone
	}
}

// Rank sorts matches by descending total score, assigns the ranks 1..N and
// fills in the confidence tier. Every match gets a distinct rank: ties are
// ordered by ascending tax id, so ranking is deterministic and exactly one
// match per customer holds rank 1.
func (r *Ranker) Rank(matches []models.Match) []models.Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ScoreTotal != matches[j].ScoreTotal {
			return matches[i].ScoreTotal > matches[j].ScoreTotal
		}
		return matches[i].TaxID < matches[j].TaxID
	})

	for i := range matches {
		matches[i].Rank = i + 1
		matches[i].Confidence = r.Confidence(matches[i].ScoreTotal)
	}

	return matches
}

// Filter drops matches below the floor.
func (r *Ranker) Filter(matches []models.Match) []models.Match {
	kept := matches[:0]
	for _, m := range matches {
		if m.ScoreTotal >= r.config.Floor {
			kept = append(kept, m)
		}
	}
	return kept
}
