package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestClient(baseURL string) *Client {
	cfg := DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.MinInterval = 0
	return NewClient(cfg, testLogger())
}

func TestReverse(t *testing.T) {
	t.Run("parses a full address", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/reverse", r.URL.Path)
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			assert.Equal(t, "1", r.URL.Query().Get("addressdetails"))
			assert.Equal(t, "18", r.URL.Query().Get("zoom"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"display_name": "Avenida Paulista, Bela Vista, São Paulo",
				"address": {
					"road": "Avenida Paulista",
					"house_number": "1578",
					"suburb": "Bela Vista",
					"postcode": "01310-200",
					"city": "São Paulo",
					"state": "São Paulo"
				}
			}`))
		}))
		defer server.Close()

		addr, err := newTestClient(server.URL).Reverse(context.Background(), -23.5614, -46.6559)
		require.NoError(t, err)

		assert.Equal(t, "Avenida Paulista", addr.Street)
		assert.Equal(t, "1578", addr.Number)
		assert.Equal(t, "Bela Vista", addr.Neighborhood)
		assert.Equal(t, "01310-200", addr.CEP)
		assert.Equal(t, "São Paulo", addr.Municipality)
		assert.Equal(t, "SP", addr.UF)
	})

	t.Run("provider error body means no address", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error": "Unable to geocode"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Reverse(context.Background(), 0, 0)
		assert.ErrorIs(t, err, ErrNoAddress)
	})

	t.Run("non-200 status is an external error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Reverse(context.Background(), 0, 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoAddress)
	})

	t.Run("rate gate spaces calls", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"display_name": "x", "address": {"road": "Rua A"}}`))
		}))
		defer server.Close()

		cfg := DefaultClientConfig()
		cfg.BaseURL = server.URL
		cfg.MinInterval = 50 * time.Millisecond
		client := NewClient(cfg, testLogger())

		start := time.Now()
		_, err := client.Reverse(context.Background(), 0, 0)
		require.NoError(t, err)
		_, err = client.Reverse(context.Background(), 0, 0)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})
}

func TestUFFromState(t *testing.T) {
	assert.Equal(t, "SP", ufFromState("São Paulo"))
	assert.Equal(t, "MG", ufFromState("Minas Gerais"))
	assert.Equal(t, "RJ", ufFromState("RJ"))
	assert.Equal(t, "", ufFromState("Somewhere Else"))
}
