// Package ecb fetches euro foreign exchange reference rates from the ECB
// statistical data warehouse. Only EUR-based daily series are queried; any
// other pair is derived from two EUR legs by the caller.
package ecb

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/upstream"
)

// DefaultBaseURL is the EXR dataflow endpoint.
const DefaultBaseURL = "https://data-api.ecb.europa.eu/service/data/EXR"

// Client defines the interface for fetching reference rates.
// This interface enables dependency injection and testing with mock implementations.
type Client interface {
	QueryRates(ctx context.Context, currency string, start, end time.Time) ([]Observation, error)
}

// ReferenceClient queries the ECB data API over HTTP.
type ReferenceClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewReferenceClient creates a client against baseURL (DefaultBaseURL when empty).
func NewReferenceClient(baseURL string) *ReferenceClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &ReferenceClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// QueryRates returns the daily EUR reference rates for currency published in
// [start, end], oldest first. Days without a publication (weekends, TARGET
// holidays) are simply absent. An unknown series yields an empty result.
func (c *ReferenceClient) QueryRates(ctx context.Context, currency string, start, end time.Time) ([]Observation, error) {
	currency = strings.ToUpper(currency)
	if currency == "EUR" {
		return nil, fmt.Errorf("EUR has no reference series against itself")
	}

	q := url.Values{}
	q.Set("startPeriod", start.Format("2006-01-02"))
	q.Set("endPeriod", end.Format("2006-01-02"))
	q.Set("format", "csvdata")
	queryURL := fmt.Sprintf("%s/D.%s.EUR.SP00.A?%s", c.baseURL, url.PathEscape(currency), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// The data API answers 404 when the window holds no observations.
	if resp.StatusCode == http.StatusNotFound {
		return []Observation{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &upstream.StatusError{StatusCode: resp.StatusCode, URL: queryURL}
	}

	return ParseCSV(resp.Body, currency)
}

// ParseCSV reads an SDMX csvdata body. Rows whose value is blank or not a
// positive number are skipped.
func ParseCSV(r io.Reader, currency string) ([]Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Observation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate header: %w", err)
	}

	dateCol, valueCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "TIME_PERIOD":
			dateCol = i
		case "OBS_VALUE":
			valueCol = i
		}
	}
	if dateCol < 0 || valueCol < 0 {
		return nil, fmt.Errorf("rate response lacks TIME_PERIOD or OBS_VALUE columns")
	}

	observations := []Observation{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read rate row: %w", err)
		}
		if len(record) <= dateCol || len(record) <= valueCol {
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[dateCol]))
		if err != nil {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[valueCol]))
		if err != nil || !rate.IsPositive() {
			continue
		}
		observations = append(observations, Observation{Currency: currency, Date: date.UTC(), Rate: rate})
	}
	return observations, nil
}

// SeriesURL is the public address of the EUR reference series for currency.
func SeriesURL(currency string) string {
	return fmt.Sprintf("%s/D.%s.EUR.SP00.A", DefaultBaseURL, strings.ToUpper(currency))
}
