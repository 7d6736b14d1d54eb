package models

import "time"

// Address sources for a stored match
const (
	AddressSourceOriginal = "bdgd"
	AddressSourceGeocoded = "geocoded"
)

// Confidence tiers for a match score
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
	ConfidenceNone   = "none"
)

// FieldScores carries the per-field sub-scores of a match.
// The maxima are cep 40, cnae 25, address 20, number 10, neighborhood 5.
type FieldScores struct {
	CEP          float64 `db:"score_cep" json:"score_cep"`
	CNAE         float64 `db:"score_cnae" json:"score_cnae"`
	Address      float64 `db:"score_address" json:"score_address"`
	Number       float64 `db:"score_number" json:"score_number"`
	Neighborhood float64 `db:"score_neighborhood" json:"score_neighborhood"`
}

// Total sums the sub-scores.
func (f FieldScores) Total() float64 {
	return f.CEP + f.CNAE + f.Address + f.Number + f.Neighborhood
}

// Match links a customer to a registry entry with a scored rank.
type Match struct {
	CustomerID    string  `db:"customer_id" json:"customer_id"`
	TaxID         string  `db:"tax_id" json:"tax_id"`
	ScoreTotal    float64 `db:"score_total" json:"score_total"`
	FieldScores
	Rank          int       `db:"rank" json:"rank"`
	Confidence    string    `db:"-" json:"confidence"`
	AddressSource string    `db:"address_source" json:"address_source"`
	LegalName     string    `db:"legal_name" json:"legal_name"`
	TradeName     string    `db:"trade_name" json:"trade_name"`
	Street        string    `db:"street" json:"street"`
	Number        string    `db:"number" json:"number"`
	Neighborhood  string    `db:"neighborhood" json:"neighborhood"`
	CEP           string    `db:"cep" json:"cep"`
	Phone         string    `db:"phone" json:"phone,omitempty"`
	Email         string    `db:"email" json:"email,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// MatchSet is the ordered set of stored matches for one customer, best first.
type MatchSet []Match

// Best returns the rank-1 match or nil when the set is empty.
func (s MatchSet) Best() *Match {
	if len(s) == 0 {
		return nil
	}
	return &s[0]
}

// Identity sources
const (
	IdentitySourceGD    = "gd"
	IdentitySourceFuzzy = "fuzzy_match"
	IdentitySourceNone  = "none"
)

// Identity is the resolved identity of a customer with its provenance.
type Identity struct {
	Source string   `json:"source"`
	TaxID  string   `json:"tax_id,omitempty"`
	Score  *float64 `json:"score,omitempty"`
}
