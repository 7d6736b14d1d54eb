// Package geocode resolves geographic coordinates to street addresses through
// a Nominatim-compatible reverse geocoding provider.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/httpclient"
	"github.com/bdgd-pro/vinculo/pkg/tracing"
)

// ErrNoAddress is returned when the provider has no address for the point.
var ErrNoAddress = fmt.Errorf("no address found for coordinates")

// Address is a reverse-geocoded street address.
type Address struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Neighborhood string `json:"neighborhood"`
	CEP          string `json:"cep"`
	Municipality string `json:"municipality"`
	UF           string `json:"uf"`
	DisplayName  string `json:"display_name"`
}

// ClientConfig holds provider configuration
type ClientConfig struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MinInterval time.Duration // provider usage policy: at most one request per interval
}

// DefaultClientConfig returns the default provider configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:     "https://nominatim.openstreetmap.org",
		UserAgent:   "vinculo/1.0",
		Timeout:     10 * time.Second,
		MinInterval: 1100 * time.Millisecond,
	}
}

// Client calls the reverse geocoding provider, serialized behind a rate gate.
type Client struct {
	http   *httpclient.Client
	logger ectologger.Logger
	config ClientConfig

	mu       sync.Mutex
	lastCall time.Time
}

// NewClient creates a new geocoding client
func NewClient(config ClientConfig, logger ectologger.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = config.Timeout

	return &Client{
		http:   httpclient.NewClient(httpCfg, logger),
		logger: logger,
		config: config,
	}
}

type nominatimResponse struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Road          string `json:"road"`
		HouseNumber   string `json:"house_number"`
		Suburb        string `json:"suburb"`
		Neighbourhood string `json:"neighbourhood"`
		Postcode      string `json:"postcode"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
	} `json:"address"`
}

// Reverse resolves a coordinate pair to an address. Waits out the provider
// rate gate before calling.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	ctx, span := tracing.StartSpan(ctx, "geocode.Client.Reverse")
	defer span.End()

	if err := c.waitRateGate(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))
	params.Set("addressdetails", "1")
	params.Set("accept-language", "pt-BR")
	params.Set("zoom", "18")

	reqURL := strings.TrimRight(c.config.BaseURL, "/") + "/reverse?" + params.Encode()

	resp, err := c.http.Get(ctx, reqURL, map[string]string{"User-Agent": c.config.UserAgent})
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "geocoding provider unavailable: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "geocoding provider returned status %d", resp.StatusCode)
	}

	var parsed nominatimResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadGateway, "invalid geocoding response: %v", err)
	}

	if parsed.Error != "" || (parsed.Address.Road == "" && parsed.DisplayName == "") {
		return nil, ErrNoAddress
	}

	municipality := parsed.Address.City
	if municipality == "" {
		municipality = parsed.Address.Town
	}
	if municipality == "" {
		municipality = parsed.Address.Village
	}

	neighborhood := parsed.Address.Suburb
	if neighborhood == "" {
		neighborhood = parsed.Address.Neighbourhood
	}

	return &Address{
		Street:       parsed.Address.Road,
		Number:       parsed.Address.HouseNumber,
		Neighborhood: neighborhood,
		CEP:          parsed.Address.Postcode,
		Municipality: municipality,
		UF:           ufFromState(parsed.Address.State),
		DisplayName:  parsed.DisplayName,
	}, nil
}

func (c *Client) waitRateGate(ctx context.Context) error {
	c.mu.Lock()
	wait := c.config.MinInterval - time.Since(c.lastCall)
	if wait > 0 {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		c.mu.Lock()
	}
	c.lastCall = time.Now()
	c.mu.Unlock()
	return nil
}

var ufByState = map[string]string{
	"ACRE":                "AC",
	"ALAGOAS":             "AL",
	"AMAPA":               "AP",
	"AMAZONAS":            "AM",
	"BAHIA":               "BA",
	"CEARA":               "CE",
	"DISTRITO FEDERAL":    "DF",
	"ESPIRITO SANTO":      "ES",
	"GOIAS":               "GO",
	"MARANHAO":            "MA",
	"MATO GROSSO":         "MT",
	"MATO GROSSO DO SUL":  "MS",
	"MINAS GERAIS":        "MG",
	"PARA":                "PA",
	"PARAIBA":             "PB",
	"PARANA":              "PR",
	"PERNAMBUCO":          "PE",
	"PIAUI":               "PI",
	"RIO DE JANEIRO":      "RJ",
	"RIO GRANDE DO NORTE": "RN",
	"RIO GRANDE DO SUL":   "RS",
	"RONDONIA":            "RO",
	"RORAIMA":             "RR",
	"SANTA CATARINA":      "SC",
	"SAO PAULO":           "SP",
	"SERGIPE":             "SE",
	"TOCANTINS":           "TO",
}

func ufFromState(state string) string {
	if len(state) == 2 {
		return strings.ToUpper(state)
	}
	normalized := normalizeStateName(state)
	return ufByState[normalized]
}

func normalizeStateName(s string) string {
	replacer := strings.NewReplacer(
		"Á", "A", "Â", "A", "Ã", "A", "É", "E", "Ê", "E",
		"Í", "I", "Ó", "O", "Ô", "O", "Õ", "O", "Ú", "U", "Ç", "C",
		"á", "A", "â", "A", "ã", "A", "é", "E", "ê", "E",
		"í", "I", "ó", "O", "ô", "O", "õ", "O", "ú", "U", "ç", "C",
	)
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(s)))
}
