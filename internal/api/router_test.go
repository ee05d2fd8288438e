package api_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/api"
	"github.com/finmetrics/grounding/internal/api/middleware"
	"github.com/finmetrics/grounding/internal/config"
	"github.com/finmetrics/grounding/internal/testutil"
)

func TestNewRouter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestServices(t, db)
	issuer := testutil.NewIssuer().Build(t, db)
	testutil.NewFact(issuer.ID).Build(t, db)

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	}
	router := api.NewRouter(api.Services{
		System:  svc.System,
		Facts:   svc.Facts,
		Calc:    svc.Calc,
		Claims:  svc.Claims,
		Catalog: svc.Catalog,
	}, cfg, log.New(io.Discard))

	srv := httptest.NewServer(router)
	defer srv.Close()

	routes := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/status", "", http.StatusOK},
		{http.MethodGet, "/system/health", "", http.StatusOK},
		{http.MethodGet, "/metrics/" + issuer.ID + "/revenue", "", http.StatusOK},
		{http.MethodGet, "/metrics/bad%20id/revenue", "", http.StatusBadRequest},
		{http.MethodGet, "/segments/" + issuer.ID + "/revenue?dim=srt:StatementGeographicalAxis", "", http.StatusNotFound},
		{http.MethodPost, "/calc/explain", `{"issuer":"` + issuer.ID + `","expr":"revenue"}`, http.StatusOK},
		{http.MethodPost, "/calc/verify-expression", `{"issuer":"` + issuer.ID + `","expr":"revenue","assert_value":100}`, http.StatusOK},
		{http.MethodPost, "/claims/verify", `{"context":{"series":[{"id":"S","freq":"Q","points":[["2024-12-31",1]]}]},"claims":[{"id":"c","metric":"S","operator":"=","value":1,"at":"2024-12-31"}]}`, http.StatusOK},
		{http.MethodGet, "/catalog/concepts", "", http.StatusOK},
		{http.MethodGet, "/catalog/metrics", "", http.StatusOK},
		{http.MethodGet, "/portfolio", "", http.StatusNotFound},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			var body io.Reader
			if rt.body != "" {
				body = strings.NewReader(rt.body)
			}
			req, err := http.NewRequest(rt.method, srv.URL+rt.path, body)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, rt.want, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
		})
	}

	t.Run("CORS preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/calc/explain", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	})
}
