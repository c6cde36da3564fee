package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/providers"
)

func TestHTTPHistoryProvider_FetchHistory_ParsesCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"time":"2026-01-01T00:00:00Z","open":100,"high":110,"low":95,"close":105,"volume":1000},
			{"time":"2026-01-01T00:01:00Z","open":105,"high":112,"low":104,"close":108,"adj_close":107.5,"volume":1200}
		]`))
	}))
	defer srv.Close()

	p := providers.NewHTTPHistoryProvider(srv.URL, 1)
	candles, err := p.FetchHistory(context.Background(), "VOO", domain.M1, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, candles[0].IsFinal)
	require.NotNil(t, candles[1].AdjClose)
}

func TestHTTPHistoryProvider_NotFound_ReturnsMarketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := providers.NewHTTPHistoryProvider(srv.URL, 0)
	_, err := p.FetchHistory(context.Background(), "MISSING", domain.M1, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	var marketErr *domain.MarketError
	require.ErrorAs(t, err, &marketErr)
	assert.Equal(t, domain.MarketErrorNotFound, marketErr.Kind)
}
