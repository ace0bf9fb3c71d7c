package stocks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/config"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	cfg := config.Config{}
	cfg.Stocks.AlphaVantageKey = "key"
	c := NewClient(cfg, zap.NewNop())
	c.baseURL = baseURL
	return c
}

func TestGlobalQuoteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))

		w.Write([]byte(`{"Global Quote":{
			"01. symbol":"AAPL",
			"05. price":"187.4400",
			"09. change":"1.2300",
			"10. change percent":"0.6600%"
		}}`))
	}))
	defer srv.Close()

	quote, err := newTestClient(srv.URL).GlobalQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", quote.Symbol)
	assert.InDelta(t, 187.44, quote.Price, 0.001)
	assert.InDelta(t, 1.23, quote.Change, 0.001)
	assert.InDelta(t, 0.66, quote.ChangePercent, 0.001)
	assert.False(t, quote.Mock)
}

func TestGlobalQuoteFallsBackToMockOnEmptyQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Alpha Vantage returns an empty object when the quota is spent.
		w.Write([]byte(`{"Global Quote":{}}`))
	}))
	defer srv.Close()

	quote, err := newTestClient(srv.URL).GlobalQuote(context.Background(), "TSLA")
	require.NoError(t, err)

	assert.True(t, quote.Mock)
	assert.Equal(t, "TSLA", quote.Symbol)
	assert.Greater(t, quote.Price, 0.0)

	// Deterministic: same symbol, same mock.
	again, err := newTestClient(srv.URL).GlobalQuote(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, quote.Price, again.Price)
}

func TestGlobalQuoteWithoutKeyServesMock(t *testing.T) {
	quote, err := NewClient(config.Config{}, zap.NewNop()).GlobalQuote(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.True(t, quote.Mock)
}
