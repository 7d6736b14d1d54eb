package models

// RegistrySituationActive marks an establishment as active in the business registry.
const RegistrySituationActive = "ATIVA"

// RegistryEntry is an establishment from the national business registry.
type RegistryEntry struct {
	TaxID            string `db:"tax_id" json:"tax_id"`
	LegalName        string `db:"legal_name" json:"legal_name"`
	TradeName        string `db:"trade_name" json:"trade_name"`
	Street           string `db:"street" json:"street"`
	Number           string `db:"number" json:"number"`
	Neighborhood     string `db:"neighborhood" json:"neighborhood"`
	CEP              string `db:"cep" json:"cep"`
	CNAE             string `db:"cnae" json:"cnae"`
	StreetNorm       string `db:"street_norm" json:"-"`
	NumberNorm       string `db:"number_norm" json:"-"`
	NeighborhoodNorm string `db:"neighborhood_norm" json:"-"`
	CEPNorm          string `db:"cep_norm" json:"-"`
	CNAENorm         string `db:"cnae_norm" json:"-"`
	CNAEClass        string `db:"cnae_class" json:"-"`
	MunCode          string `db:"mun_code" json:"mun_code"`
	UF               string `db:"uf" json:"uf"`
	Phone            string `db:"phone" json:"phone,omitempty"`
	Email            string `db:"email" json:"email,omitempty"`
	Situation        string `db:"situation" json:"situation"`
}
