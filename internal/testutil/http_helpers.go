package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TestRequestID is the request id every helper request carries, so
// problem responses have a predictable instance.
const TestRequestID = "test-request"

// NewGetRequest creates a GET request with chi URL parameters and query
// parameters, for calling handlers directly.
//
// Example:
//
//	req := testutil.NewGetRequest(
//	    "/metrics/AAPL/revenue",
//	    map[string]string{"issuer": "AAPL", "concept": "revenue"},
//	    map[string]string{"freq": "Q", "limit": "4"},
//	)
func NewGetRequest(path string, urlParams, queryParams map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)

	if len(queryParams) > 0 {
		q := req.URL.Query()
		for key, value := range queryParams {
			q.Add(key, value)
		}
		req.URL.RawQuery = q.Encode()
	}

	return withRouteContext(req, urlParams)
}

// NewJSONRequest creates a POST request whose body is v encoded as JSON.
// A string or []byte is sent as-is, for malformed-body tests.
//
// Example:
//
//	req := testutil.NewJSONRequest(t, "/calc/explain", request.ExplainRequest{
//	    Issuer: "AAPL",
//	    Expr:   "grossProfit / revenue",
//	})
func NewJSONRequest(t *testing.T, path string, v any) *http.Request {
	t.Helper()

	var body []byte
	switch b := v.(type) {
	case string:
		body = []byte(b)
	case []byte:
		body = b
	default:
		var err error
		if body, err = json.Marshal(v); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return withRouteContext(req, nil)
}

func withRouteContext(req *http.Request, params map[string]string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.RequestIDKey, TestRequestID)
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for key, value := range params {
			rctx.URLParams.Add(key, value)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

// DecodeJSON decodes a recorded response body into a T.
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}
