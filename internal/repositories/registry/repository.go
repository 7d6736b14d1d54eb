package registry

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
	"tax_id", "legal_name", "trade_name", "street", "number", "neighborhood", "cep", "cnae",
	"street_norm", "number_norm", "neighborhood_norm", "cep_norm", "cnae_norm", "cnae_class",
	"mun_code", "uf", "phone", "email", "situation",
}

// Repository handles business registry reads
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new registry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a registry entry by tax id
func (r *Repository) Get(ctx context.Context, taxID string) (*models.RegistryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("registry_entries")
	sb.Where(sb.Equal("tax_id", taxID))

	query, args := sb.Build()
	var entry models.RegistryEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("registry entry %s not found", taxID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get registry entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get registry entry")
	}

	return &entry, nil
}

// ListByCEP retrieves active establishments sharing a normalized postal code
func (r *Repository) ListByCEP(ctx context.Context, cep string, limit int) ([]models.RegistryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.ListByCEP")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("registry_entries")
	sb.Where(
		sb.Equal("cep_norm", cep),
		sb.Equal("situation", models.RegistrySituationActive),
	)
	sb.OrderBy("tax_id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entries []models.RegistryEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list registry entries by postal code")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list registry entries")
	}

	return entries, nil
}

// ListByMunicipalityCNAE retrieves active establishments in a municipality with
// a matching activity class
func (r *Repository) ListByMunicipalityCNAE(ctx context.Context, munCode, cnaeClass string, limit int) ([]models.RegistryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.ListByMunicipalityCNAE")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("registry_entries")
	sb.Where(
		sb.Equal("mun_code", munCode),
		sb.Equal("cnae_class", cnaeClass),
		sb.Equal("situation", models.RegistrySituationActive),
	)
	sb.OrderBy("tax_id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var entries []models.RegistryEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list registry entries by municipality and activity class")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list registry entries")
	}

	return entries, nil
}

// Count returns the total number of active registry entries
func (r *Repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Repository.Count")
	defer span.End()

	query := "SELECT COUNT(*) FROM registry_entries WHERE situation = $1"

	var count int64
	if err := r.db.GetContext(ctx, &count, query, models.RegistrySituationActive); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count registry entries")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count registry entries")
	}

	return count, nil
}
