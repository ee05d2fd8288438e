// Package upstream protects calls to external data sources. Each source gets
// its own token bucket, circuit breaker, per-attempt timeout and retry budget.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// Settings configures a Guard.
type Settings struct {
	Name             string
	RatePerSecond    float64
	Burst            int
	Timeout          time.Duration
	Retries          int
	Backoff          time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// StatusError is a non-2xx answer from an upstream.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// IsRetryable reports whether err is a transient transport failure. Timeouts,
// network errors, 429 and 5xx qualify; anything logical does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Guard wraps calls to one upstream dependency.
type Guard struct {
	name       string
	limiter    *rate.Limiter
	breaker    *Breaker
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *log.Logger

	calls    atomic.Int64
	failures atomic.Int64

	mu          sync.Mutex
	lastErr     string
	lastSuccess time.Time
	lastFailure time.Time
}

// NewGuard builds a Guard from settings. A zero RatePerSecond means unlimited.
func NewGuard(s Settings, logger *log.Logger) *Guard {
	limit := rate.Inf
	if s.RatePerSecond > 0 {
		limit = rate.Limit(s.RatePerSecond)
	}
	burst := s.Burst
	if burst < 1 {
		burst = 1
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.Backoff <= 0 {
		s.Backoff = 250 * time.Millisecond
	}
	if s.MaxBackoff < s.Backoff {
		s.MaxBackoff = 8 * s.Backoff
	}
	return &Guard{
		name:       s.Name,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    NewBreaker(s.FailureThreshold, s.Cooldown),
		timeout:    s.Timeout,
		retries:    s.Retries,
		backoff:    s.Backoff,
		maxBackoff: s.MaxBackoff,
		logger:     logger.WithPrefix(s.Name),
	}
}

// Name returns the dependency name.
func (g *Guard) Name() string {
	return g.name
}

// Breaker exposes the circuit breaker.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// Available reports whether the breaker would currently let a call through.
func (g *Guard) Available() bool {
	return g.breaker.State() != StateOpen
}

// Do runs fn under the guard. Retryable failures are retried with doubling
// backoff; when the budget is spent, or the breaker is open, the result is
// an upstream_unavailable error.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := g.backoff
	var lastErr error

	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.Wrap(apperrors.KindRequestCancelled, ctx.Err(), g.name)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > g.maxBackoff {
				backoff = g.maxBackoff
			}
		}

		if !g.breaker.Allow() {
			return apperrors.New(apperrors.KindUpstreamUnavailable, g.name+" circuit open").
				With("dependency", g.name).
				With("breaker", string(StateOpen))
		}
		if err := g.limiter.Wait(ctx); err != nil {
			g.breaker.Release()
			return apperrors.Wrap(apperrors.KindRequestCancelled, err, g.name)
		}

		g.calls.Add(1)
		actx, cancel := context.WithTimeout(ctx, g.timeout)
		err := fn(actx)
		cancel()

		if err == nil {
			g.breaker.Success()
			g.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			g.breaker.Release()
			return apperrors.Wrap(apperrors.KindRequestCancelled, ctx.Err(), g.name)
		}
		if !IsRetryable(err) {
			// The dependency answered; the request was wrong.
			g.breaker.Success()
			return err
		}

		g.breaker.Failure()
		g.recordFailure(err)
		lastErr = err
		g.logger.Warn("upstream call failed", "attempt", attempt+1, "of", g.retries+1, "err", err)
	}

	return apperrors.Wrap(apperrors.KindUpstreamUnavailable, lastErr,
		fmt.Sprintf("%s unavailable after %d attempts", g.name, g.retries+1)).
		With("dependency", g.name)
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSuccess = time.Now().UTC()
}

func (g *Guard) recordFailure(err error) {
	g.failures.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastFailure = time.Now().UTC()
	g.lastErr = err.Error()
}

// Status snapshots breaker state and call counters.
func (g *Guard) Status() model.DependencyStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.breaker.State()
	st := model.DependencyStatus{
		Name:                g.name,
		State:               string(state),
		Degraded:            state != StateClosed,
		ConsecutiveFailures: g.breaker.Failures(),
		Calls:               g.calls.Load(),
		Failures:            g.failures.Load(),
		LastError:           g.lastErr,
	}
	if !g.lastSuccess.IsZero() {
		s := g.lastSuccess.Format(time.RFC3339)
		st.LastSuccess = &s
	}
	if !g.lastFailure.IsZero() {
		s := g.lastFailure.Format(time.RFC3339)
		st.LastFailure = &s
	}
	return st
}
