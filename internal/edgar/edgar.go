// Package edgar fetches regulator filings from the SEC EDGAR XBRL API and
// turns them into canonical facts.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/finmetrics/grounding/internal/upstream"
)

// DefaultBaseURL is the companyfacts endpoint.
const DefaultBaseURL = "https://data.sec.gov/api/xbrl/companyfacts"

// Client defines the interface for fetching filings.
// This interface enables dependency injection and testing with mock implementations.
type Client interface {
	CompanyFacts(ctx context.Context, cik string) (CompanyFacts, error)
}

// FilingClient talks to EDGAR over HTTP. EDGAR rejects requests that do
// not identify the caller, so a User-Agent with contact details is required.
type FilingClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewFilingClient creates a client against baseURL (DefaultBaseURL when empty).
func NewFilingClient(baseURL, userAgent string) *FilingClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &FilingClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
	}
}

// CompanyFacts downloads every fact filed by the entity with the given CIK.
func (c *FilingClient) CompanyFacts(ctx context.Context, cik string) (CompanyFacts, error) {
	padded, err := PadCIK(cik)
	if err != nil {
		return CompanyFacts{}, err
	}
	queryURL := fmt.Sprintf("%s/CIK%s.json", c.baseURL, padded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return CompanyFacts{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CompanyFacts{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return CompanyFacts{}, &upstream.StatusError{StatusCode: resp.StatusCode, URL: queryURL}
	}

	var facts CompanyFacts
	if err := json.NewDecoder(resp.Body).Decode(&facts); err != nil {
		return CompanyFacts{}, fmt.Errorf("failed to decode companyfacts for CIK %s: %w", padded, err)
	}
	return facts, nil
}

// PadCIK left-pads a numeric CIK to the ten digits EDGAR uses in URLs.
func PadCIK(cik string) (string, error) {
	cik = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(cik)), "CIK"))
	if cik == "" || len(cik) > 10 {
		return "", fmt.Errorf("invalid CIK %q", cik)
	}
	for _, r := range cik {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid CIK %q", cik)
		}
	}
	return strings.Repeat("0", 10-len(cik)) + cik, nil
}
