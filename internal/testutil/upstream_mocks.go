package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/ecb"
	"github.com/finmetrics/grounding/internal/edgar"
	"github.com/finmetrics/grounding/internal/upstream"
)

// MockRateSource is a mock implementation of ecb.Client for testing.
// It answers from configured observations instead of calling the reference
// source. Safe for concurrent use.
type MockRateSource struct {
	mu           sync.Mutex
	observations map[string][]ecb.Observation
	err          error
	delay        time.Duration
	queryCount   int
}

// NewMockRateSource creates a mock with no observations.
func NewMockRateSource() *MockRateSource {
	return &MockRateSource{observations: map[string][]ecb.Observation{}}
}

// WithRate adds one EUR→currency observation.
func (m *MockRateSource) WithRate(currency, date, rate string) *MockRateSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations[currency] = append(m.observations[currency], ecb.Observation{
		Currency: currency,
		Date:     MustDate(date),
		Rate:     decimal.RequireFromString(rate),
	})
	return m
}

// WithError configures the mock to fail every query with err.
func (m *MockRateSource) WithError(err error) *MockRateSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithUnavailable configures the mock to answer 503, a retryable failure.
func (m *MockRateSource) WithUnavailable() *MockRateSource {
	return m.WithError(&upstream.StatusError{StatusCode: 503, URL: ecb.DefaultBaseURL})
}

// WithDelay slows every query down, for coalescing tests.
func (m *MockRateSource) WithDelay(d time.Duration) *MockRateSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// QueryCount returns how many times QueryRates was called.
func (m *MockRateSource) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCount
}

// QueryRates returns the configured observations dated within [start, end].
func (m *MockRateSource) QueryRates(ctx context.Context, currency string, start, end time.Time) ([]ecb.Observation, error) {
	m.mu.Lock()
	m.queryCount++
	delay, err := m.delay, m.err
	all := append([]ecb.Observation(nil), m.observations[currency]...)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	var out []ecb.Observation
	for _, o := range all {
		if !o.Date.Before(start) && !o.Date.After(end) {
			out = append(out, o)
		}
	}
	return out, nil
}

// MockFilingSource is a mock implementation of edgar.Client for testing.
// Safe for concurrent use.
type MockFilingSource struct {
	mu         sync.Mutex
	docs       map[string]edgar.CompanyFacts
	err        error
	delay      time.Duration
	queryCount int
}

// NewMockFilingSource creates a mock with no documents.
func NewMockFilingSource() *MockFilingSource {
	return &MockFilingSource{docs: map[string]edgar.CompanyFacts{}}
}

// WithDocument serves doc for cik.
func (m *MockFilingSource) WithDocument(cik string, doc edgar.CompanyFacts) *MockFilingSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[cik] = doc
	return m
}

// WithError configures the mock to fail every query with err.
func (m *MockFilingSource) WithError(err error) *MockFilingSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay slows every query down, for coalescing tests.
func (m *MockFilingSource) WithDelay(d time.Duration) *MockFilingSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// QueryCount returns how many times CompanyFacts was called.
func (m *MockFilingSource) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCount
}

// CompanyFacts returns the configured document, or a 404 status error.
func (m *MockFilingSource) CompanyFacts(ctx context.Context, cik string) (edgar.CompanyFacts, error) {
	m.mu.Lock()
	m.queryCount++
	delay, err := m.delay, m.err
	doc, ok := m.docs[cik]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return edgar.CompanyFacts{}, ctx.Err()
		}
	}
	if err != nil {
		return edgar.CompanyFacts{}, err
	}
	if !ok {
		return edgar.CompanyFacts{}, &upstream.StatusError{StatusCode: 404, URL: edgar.DefaultBaseURL}
	}
	return doc, nil
}
