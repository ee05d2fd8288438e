package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intEqual(a, b int) bool { return a == b }

func TestCache_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New[string, int]("test", time.Hour,
		cache.WithClock[string, int](clock.Now),
		cache.WithEqual[string, int](intEqual))

	require.NoError(t, c.Put("a", 1))

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Hour)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire at ttl")

	stale, ok := c.GetStale("a")
	assert.True(t, ok)
	assert.Equal(t, 1, stale)

	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 0, c.Len())
}

// TestCache_WriteOnce checks that a second write must agree with the first.
//
// WHY: cached FX rates are immutable; a refetch returning a different rate
// for the same date is a data-integrity problem, not an update.
func TestCache_WriteOnce(t *testing.T) {
	c := cache.New[string, int]("rates", time.Hour, cache.WithEqual[string, int](intEqual))

	require.NoError(t, c.Put("EUR/USD@2024-01-02", 108))
	require.NoError(t, c.Put("EUR/USD@2024-01-02", 108))

	err := c.Put("EUR/USD@2024-01-02", 109)
	require.ErrorIs(t, err, apperrors.ErrDataIntegrity)

	v, _ := c.Get("EUR/USD@2024-01-02")
	assert.Equal(t, 108, v)
}

func TestCache_GetOrFetchCoalesces(t *testing.T) {
	c := cache.New[string, int]("test", time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrFetch(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("GetOrFetch() returned unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent misses should share one fetch")
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int64(1), c.Stats().Fetches)
}

func TestCache_GetOrFetchError(t *testing.T) {
	c := cache.New[string, int]("test", time.Hour)
	boom := errors.New("upstream down")

	_, err := c.GetOrFetch(context.Background(), "k", func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(), "failed fetches are not cached")
}

// TestCache_CancelledCallerStillPopulates verifies a cancelled request does
// not waste an in-flight fetch.
func TestCache_CancelledCallerStillPopulates(t *testing.T) {
	c := cache.New[string, int]("test", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := c.GetOrFetch(ctx, "k", func(fctx context.Context) (int, error) {
			close(started)
			<-finish
			if fctx.Err() != nil {
				return 0, fctx.Err()
			}
			return 7, nil
		})
		assert.ErrorIs(t, err, apperrors.ErrRequestCancelled)
	}()

	<-started
	cancel()
	<-done
	close(finish)

	require.Eventually(t, func() bool {
		v, ok := c.Get("k")
		return ok && v == 7
	}, time.Second, 10*time.Millisecond)
}

func TestCache_ExpiredEntryMayBeReplaced(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New[string, int]("test", time.Minute,
		cache.WithClock[string, int](clock.Now),
		cache.WithEqual[string, int](intEqual))

	require.NoError(t, c.Put("k", 1))
	require.Error(t, c.Put("k", 2))

	clock.Advance(time.Minute)
	require.NoError(t, c.Put("k", 2))
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_Invalidate(t *testing.T) {
	c := cache.New[string, int]("test", time.Hour)
	require.NoError(t, c.Put("AAA|revenue", 1))
	require.NoError(t, c.Put("AAA|netIncome", 2))
	require.NoError(t, c.Put("BBB|revenue", 3))

	removed := c.Invalidate(func(k string) bool { return k[:3] == "AAA" })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Put("AAA|revenue", 10), "invalidated keys accept a new value")
}

type pairKey struct {
	A, B string
}

// TestCache_DistinctKeysDoNotShareAFetch tests that coalescing is per key.
//
// WHY: Keys that print alike, such as {"a b", "c"} and {"a", "b c"}, are
// different entries. Sharing one fetch would hand a caller another key's value.
func TestCache_DistinctKeysDoNotShareAFetch(t *testing.T) {
	c := cache.New[pairKey, string]("pairs", time.Minute)
	first, second := pairKey{"a b", "c"}, pairKey{"a", "b c"}

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(key pairKey) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			if key == first {
				close(started)
				<-release
				return "first", nil
			}
			return "second", nil
		}
	}

	var wg sync.WaitGroup
	var got1 string
	var err1 error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got1, err1 = c.GetOrFetch(context.Background(), first, fetch(first))
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got2, err2 := c.GetOrFetch(ctx, second, fetch(second))
	close(release)
	wg.Wait()

	require.NoError(t, err2)
	require.NoError(t, err1)
	if got2 != "second" {
		t.Errorf("Expected second, got %s", got2)
	}
	assert.Equal(t, "first", got1)
	assert.Equal(t, int64(2), c.Stats().Fetches)
}
