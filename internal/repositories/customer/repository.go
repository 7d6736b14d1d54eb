package customer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/bdgd-pro/vinculo/pkg/database"
	"github.com/bdgd-pro/vinculo/pkg/models"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

var columns = []string{
	"cod_id", "street", "number", "neighborhood", "cep", "cnae",
	"street_norm", "number_norm", "neighborhood_norm", "cep_norm", "cnae_norm", "cnae_class",
	"mun_code", "municipality_name", "uf", "latitude", "longitude",
	"tariff_group", "sub_class", "contracted_demand", "max_energy",
	"free_market", "has_solar", "gd_tax_id", "created_at", "updated_at",
}

// Repository handles utility customer persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new customer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a customer by its consumer unit id
func (r *Repository) Get(ctx context.Context, id string) (*models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("utility_customers")
	sb.Where(sb.Equal("cod_id", id))

	query, args := sb.Build()
	var customer models.Customer
	if err := r.db.GetContext(ctx, &customer, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("customer %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}

	return &customer, nil
}

// ListByIDs retrieves the customers matching the given ids. Unknown ids are
// silently absent from the result.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]models.Customer, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("utility_customers")
	sb.Where(sb.In("cod_id", idsToAny(ids)...))

	query, args := sb.Build()
	var customers []models.Customer
	if err := r.db.SelectContext(ctx, &customers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list customers by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customers")
	}

	return customers, nil
}

// Count returns the number of customers, optionally scoped to one UF
func (r *Repository) Count(ctx context.Context, uf string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.Count")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("utility_customers")
	if uf != "" {
		sb.Where(sb.Equal("uf", uf))
	}

	query, args := sb.Build()
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count customers")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count customers")
	}

	return count, nil
}

// CountWithCoordinates returns the number of customers carrying a geographic point
func (r *Repository) CountWithCoordinates(ctx context.Context, uf string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.CountWithCoordinates")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("utility_customers")
	where := []string{sb.IsNotNull("latitude"), sb.IsNotNull("longitude")}
	if uf != "" {
		where = append(where, sb.Equal("uf", uf))
	}
	sb.Where(where...)

	query, args := sb.Build()
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count customers with coordinates")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count customers")
	}

	return count, nil
}

// CountWithIdentity returns the number of customers exempt from fuzzy matching
func (r *Repository) CountWithIdentity(ctx context.Context, uf string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.CountWithIdentity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("utility_customers")
	where := []string{sb.IsNotNull("gd_tax_id"), sb.NotEqual("gd_tax_id", "")}
	if uf != "" {
		where = append(where, sb.Equal("uf", uf))
	}
	sb.Where(where...)

	query, args := sb.Build()
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count customers with authoritative identity")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count customers")
	}

	return count, nil
}

// ListIDs retrieves a page of customer ids in stable order, for full runs
func (r *Repository) ListIDs(ctx context.Context, offset, limit int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "customer.Repository.ListIDs")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("cod_id")
	sb.From("utility_customers")
	sb.OrderBy("cod_id ASC")
	sb.Offset(offset)
	sb.Limit(limit)

	query, args := sb.Build()
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list customer ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customer ids")
	}

	return ids, nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
