package ecb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/ecb"
	"github.com/finmetrics/grounding/internal/upstream"
)

const sampleCSV = `KEY,FREQ,CURRENCY,CURRENCY_DENOM,EXR_TYPE,EXR_SUFFIX,TIME_PERIOD,OBS_VALUE
EXR.D.USD.EUR.SP00.A,D,USD,EUR,SP00,A,2024-12-27,1.0444
EXR.D.USD.EUR.SP00.A,D,USD,EUR,SP00,A,2024-12-30,1.0444
EXR.D.USD.EUR.SP00.A,D,USD,EUR,SP00,A,2024-12-31,
EXR.D.USD.EUR.SP00.A,D,USD,EUR,SP00,A,2025-01-02,1.0321
`

func TestParseCSV(t *testing.T) {
	obs, err := ecb.ParseCSV(strings.NewReader(sampleCSV), "USD")
	require.NoError(t, err)

	require.Len(t, obs, 3, "blank observation rows are skipped")
	assert.Equal(t, "USD", obs[0].Currency)
	assert.Equal(t, time.Date(2024, 12, 27, 0, 0, 0, 0, time.UTC), obs[0].Date)
	assert.True(t, decimal.RequireFromString("1.0321").Equal(obs[2].Rate))
}

func TestParseCSV_Errors(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		obs, err := ecb.ParseCSV(strings.NewReader(""), "USD")
		require.NoError(t, err)
		assert.Empty(t, obs)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := ecb.ParseCSV(strings.NewReader("KEY,FREQ\nx,D\n"), "USD")
		assert.Error(t, err)
	})
}

func TestQueryRates(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		switch {
		case strings.Contains(r.URL.Path, "D.JPY."):
			w.WriteHeader(http.StatusNotFound)
		case strings.Contains(r.URL.Path, "D.GBP."):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(sampleCSV))
		}
	}))
	defer srv.Close()

	client := ecb.NewReferenceClient(srv.URL + "/")
	start := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

	t.Run("returns observations", func(t *testing.T) {
		obs, err := client.QueryRates(context.Background(), "usd", start, end)
		require.NoError(t, err)
		assert.Len(t, obs, 3)
		assert.Equal(t, "/D.USD.EUR.SP00.A", gotPath)
		assert.Contains(t, gotQuery, "startPeriod=2024-12-20")
		assert.Contains(t, gotQuery, "endPeriod=2025-01-03")
	})

	t.Run("not found is empty", func(t *testing.T) {
		obs, err := client.QueryRates(context.Background(), "JPY", start, end)
		require.NoError(t, err)
		assert.Empty(t, obs)
	})

	t.Run("server error is a status error", func(t *testing.T) {
		_, err := client.QueryRates(context.Background(), "GBP", start, end)
		var statusErr *upstream.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.True(t, upstream.IsRetryable(err))
	})

	t.Run("EUR is rejected", func(t *testing.T) {
		_, err := client.QueryRates(context.Background(), "EUR", start, end)
		assert.Error(t, err)
	})
}
