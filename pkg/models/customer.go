// Package models contains the shared domain types.
package models

import "time"

// Customer is a utility consumer unit from the distribution network registry.
type Customer struct {
	ID               string     `db:"cod_id" json:"cod_id"`
	Street           string     `db:"street" json:"street"`
	Number           string     `db:"number" json:"number"`
	Neighborhood     string     `db:"neighborhood" json:"neighborhood"`
	CEP              string     `db:"cep" json:"cep"`
	CNAE             string     `db:"cnae" json:"cnae"`
	StreetNorm       string     `db:"street_norm" json:"-"`
	NumberNorm       string     `db:"number_norm" json:"-"`
	NeighborhoodNorm string     `db:"neighborhood_norm" json:"-"`
	CEPNorm          string     `db:"cep_norm" json:"-"`
	CNAENorm         string     `db:"cnae_norm" json:"-"`
	CNAEClass        string     `db:"cnae_class" json:"-"`
	MunCode          string     `db:"mun_code" json:"mun_code"`
	MunicipalityName string     `db:"municipality_name" json:"municipality_name"`
	UF               string     `db:"uf" json:"uf"`
	Latitude         *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64   `db:"longitude" json:"longitude,omitempty"`
	TariffGroup      string     `db:"tariff_group" json:"tariff_group,omitempty"`
	SubClass         string     `db:"sub_class" json:"sub_class,omitempty"`
	ContractedDemand *float64   `db:"contracted_demand" json:"contracted_demand,omitempty"`
	MaxEnergy        *float64   `db:"max_energy" json:"max_energy,omitempty"`
	FreeMarket       bool       `db:"free_market" json:"free_market"`
	HasSolar         bool       `db:"has_solar" json:"has_solar"`
	GDTaxID          *string    `db:"gd_tax_id" json:"gd_tax_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// HasCoordinates reports whether the customer carries a usable geographic point.
func (c *Customer) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// HasAuthoritativeIdentity reports whether the customer identity is already
// known from the distributed-generation registry and fuzzy matching is skipped.
func (c *Customer) HasAuthoritativeIdentity() bool {
	return c.GDTaxID != nil && *c.GDTaxID != ""
}
