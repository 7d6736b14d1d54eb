package matchset

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/bdgd-pro/vinculo/pkg/database"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

var columns = []string{
	"customer_id", "tax_id", "score_total",
	"score_cep", "score_cnae", "score_address", "score_number", "score_neighborhood",
	"rank", "address_source",
	"legal_name", "trade_name", "street", "number", "neighborhood", "cep", "phone", "email",
	"created_at", "updated_at",
}

// Repository handles stored match set persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match set repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Replace atomically swaps the stored match set of a customer. An empty slice
// clears the set. Readers never observe a partially written set.
func (r *Repository) Replace(ctx context.Context, customerID string, matches []models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.Replace")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	deleteQuery := "DELETE FROM candidate_matches WHERE customer_id = $1"
	if _, err := tx.ExecContext(ctx, deleteQuery, customerID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to clear match set")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace match set")
	}

	if len(matches) > 0 {
		now := time.Now().UTC()
		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("candidate_matches")
		sb.Cols(columns...)
		for i := range matches {
			m := &matches[i]
			m.CustomerID = customerID
			m.CreatedAt = now
			m.UpdatedAt = now
			sb.Values(
				m.CustomerID, m.TaxID, m.ScoreTotal,
				m.FieldScores.CEP, m.FieldScores.CNAE, m.FieldScores.Address, m.FieldScores.Number, m.FieldScores.Neighborhood,
				m.Rank, m.AddressSource,
				m.LegalName, m.TradeName, m.Street, m.Number, m.Neighborhood, m.CEP, m.Phone, m.Email,
				m.CreatedAt, m.UpdatedAt,
			)
		}

		query, args := sb.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to insert match set")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace match set")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace match set")
	}

	return nil
}

// GetSet retrieves the stored match set of a customer, best first. Customers
// with no stored matches get an empty set.
func (r *Repository) GetSet(ctx context.Context, customerID string) (models.MatchSet, error) {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.GetSet")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("candidate_matches")
	sb.Where(sb.Equal("customer_id", customerID))
	sb.OrderBy("rank ASC", "tax_id ASC")

	query, args := sb.Build()
	var matches []models.Match
	if err := r.db.SelectContext(ctx, &matches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match set")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match set")
	}

	return matches, nil
}

// BatchGetBest retrieves the rank one match for each of the given customers.
// Customers without a stored match are absent from the result.
func (r *Repository) BatchGetBest(ctx context.Context, ids []string) (map[string]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.BatchGetBest")
	defer span.End()

	if len(ids) == 0 {
		return map[string]models.Match{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("candidate_matches")
	sb.Where(
		sb.In("customer_id", idsToAny(ids)...),
		sb.Equal("rank", 1),
	)

	query, args := sb.Build()
	var matches []models.Match
	if err := r.db.SelectContext(ctx, &matches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to batch get best matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to batch get best matches")
	}

	result := make(map[string]models.Match, len(matches))
	for _, m := range matches {
		result[m.CustomerID] = m
	}
	return result, nil
}

// ResultRow is a best match joined with its customer, for result listings.
type ResultRow struct {
	CustomerID       string  `db:"customer_id" json:"customer_id"`
	MunicipalityName string  `db:"municipality_name" json:"municipality_name"`
	UF               string  `db:"uf" json:"uf"`
	CustomerStreet   string  `db:"customer_street" json:"customer_street"`
	CustomerCEP      string  `db:"customer_cep" json:"customer_cep"`
	TaxID            string  `db:"tax_id" json:"tax_id"`
	LegalName        string  `db:"legal_name" json:"legal_name"`
	TradeName        string  `db:"trade_name" json:"trade_name"`
	ScoreTotal       float64 `db:"score_total" json:"score_total"`
	AddressSource    string  `db:"address_source" json:"address_source"`
}

// ResultFilter narrows a result listing.
type ResultFilter struct {
	UF         string
	MinScore   *float64
	Confidence string // high, medium, low
	Search     string // matches customer id or legal name
	Offset     int
	Limit      int
}

func applyResultFilter(sb *sqlbuilder.SelectBuilder, filter ResultFilter) {
	where := []string{sb.Equal("m.rank", 1)}
	if filter.UF != "" {
		where = append(where, sb.Equal("c.uf", filter.UF))
	}
	if filter.MinScore != nil {
		where = append(where, sb.GreaterEqualThan("m.score_total", *filter.MinScore))
	}
	switch filter.Confidence {
	case models.ConfidenceHigh:
		where = append(where, sb.GreaterEqualThan("m.score_total", 75.0))
	case models.ConfidenceMedium:
		where = append(where, sb.GreaterEqualThan("m.score_total", 50.0), sb.LessThan("m.score_total", 75.0))
	case models.ConfidenceLow:
		where = append(where, sb.LessThan("m.score_total", 50.0))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		where = append(where, sb.Or(
			sb.ILike("m.legal_name", pattern),
			sb.ILike("m.customer_id", pattern),
		))
	}
	sb.Where(where...)
}

// ListResults retrieves a page of best matches joined with their customers
func (r *Repository) ListResults(ctx context.Context, filter ResultFilter) ([]ResultRow, error) {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.ListResults")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"m.customer_id", "c.municipality_name", "c.uf",
		"c.street AS customer_street", "c.cep AS customer_cep",
		"m.tax_id", "m.legal_name", "m.trade_name", "m.score_total", "m.address_source",
	)
	sb.From("candidate_matches m")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "utility_customers c", "c.cod_id = m.customer_id")
	applyResultFilter(sb, filter)
	sb.OrderBy("m.score_total DESC", "m.customer_id ASC")
	sb.Offset(filter.Offset)
	sb.Limit(filter.Limit)

	query, args := sb.Build()
	var rows []ResultRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match results")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match results")
	}

	return rows, nil
}

// CountResults counts the best matches satisfying the filter
func (r *Repository) CountResults(ctx context.Context, filter ResultFilter) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.CountResults")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("candidate_matches m")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "utility_customers c", "c.cod_id = m.customer_id")
	applyResultFilter(sb, filter)

	query, args := sb.Build()
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count match results")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count match results")
	}

	return count, nil
}

// StatsRow aggregates the stored best matches.
type StatsRow struct {
	TotalMatched  int64    `db:"total_matched"`
	HighCount     int64    `db:"high_count"`
	MediumCount   int64    `db:"medium_count"`
	LowCount      int64    `db:"low_count"`
	AvgTopScore   *float64 `db:"avg_top_score"`
	GeocodedCount int64    `db:"geocoded_count"`
}

// StatsFilter narrows the stats aggregation. Zero value means everything.
type StatsFilter struct {
	UF     string
	Search string // matches customer id or legal name
}

// Stats aggregates tier counts and the average top score over rank one matches
func (r *Repository) Stats(ctx context.Context, filter StatsFilter) (*StatsRow, error) {
	ctx, span := tracing.StartSpan(ctx, "matchset.Repository.Stats")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"COUNT(*) AS total_matched",
		"COUNT(*) FILTER (WHERE m.score_total >= 75) AS high_count",
		"COUNT(*) FILTER (WHERE m.score_total >= 50 AND m.score_total < 75) AS medium_count",
		"COUNT(*) FILTER (WHERE m.score_total < 50) AS low_count",
		"AVG(m.score_total) AS avg_top_score",
		fmt.Sprintf("COUNT(*) FILTER (WHERE m.address_source = '%s') AS geocoded_count", models.AddressSourceGeocoded),
	)
	sb.From("candidate_matches m")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "utility_customers c", "c.cod_id = m.customer_id")

	where := []string{sb.Equal("m.rank", 1)}
	if filter.UF != "" {
		where = append(where, sb.Equal("c.uf", filter.UF))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		where = append(where, sb.Or(
			sb.ILike("m.legal_name", pattern),
			sb.ILike("m.customer_id", pattern),
		))
	}
	sb.Where(where...)

	query, args := sb.Build()
	var row StatsRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to aggregate match stats")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to aggregate match stats")
	}

	return &row, nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
