package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(maxAge time.Duration, maxElements int, clock *fakeClock) *ResponseCache {
	return New(Config{MaxAge: maxAge, MaxElements: maxElements}, zerolog.Nop(), WithClock(clock.Now))
}

func countingFetch(calls *int, body string) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		*calls++
		return []byte(body), nil
	}
}

func TestGetOrFetchHitWithinMaxAge(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10*time.Second, 10, clock)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		body, err := c.GetOrFetch(ctx, "http://mdr/forms", countingFetch(&calls, "forms"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != "forms" {
			t.Fatalf("unexpected body %q", body)
		}
		clock.Advance(5 * time.Second)
	}
	// third read happens exactly at max age, still a hit
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}

func TestGetOrFetchRefetchesStaleEntry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10*time.Second, 10, clock)
	ctx := context.Background()

	calls := 0
	if _, err := c.GetOrFetch(ctx, "k", countingFetch(&calls, "v1")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Second)
	body, err := c.GetOrFetch(ctx, "k", countingFetch(&calls, "v2"))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || string(body) != "v2" {
		t.Errorf("expected refetch with v2, got calls=%d body=%q", calls, body)
	}
	if c.Count() != 1 {
		t.Errorf("expected a single entry per key, got %d", c.Count())
	}
}

func TestKeysDifferingOnlyInQueryDoNotCollide(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Minute, 10, clock)
	ctx := context.Background()

	calls := 0
	a, _ := c.GetOrFetch(ctx, "http://ts/CodeSystem?url=a", countingFetch(&calls, "a"))
	b, _ := c.GetOrFetch(ctx, "http://ts/CodeSystem?url=b", countingFetch(&calls, "b"))
	if string(a) == string(b) || calls != 2 {
		t.Errorf("expected distinct entries, got %q %q after %d calls", a, b, calls)
	}
}

func TestEvictsGloballyOldestEntry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, 3, clock)
	ctx := context.Background()
	calls := 0

	for _, key := range []string{"a", "b", "c"} {
		if _, err := c.GetOrFetch(ctx, key, countingFetch(&calls, key)); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	if _, err := c.GetOrFetch(ctx, "d", countingFetch(&calls, "d")); err != nil {
		t.Fatal(err)
	}

	urls := c.URLs()
	want := []string{"b", "c", "d"}
	if fmt.Sprint(urls) != fmt.Sprint(want) {
		t.Errorf("expected %v after eviction, got %v", want, urls)
	}
}

func TestEvictionUsesFetchTimeNotInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(5*time.Second, 2, clock)
	ctx := context.Background()
	calls := 0

	c.GetOrFetch(ctx, "a", countingFetch(&calls, "a"))
	clock.Advance(time.Second)
	c.GetOrFetch(ctx, "b", countingFetch(&calls, "b"))
	clock.Advance(10 * time.Second)

	// "a" is stale and gets refetched, which makes "b" the oldest; no overflow though
	c.GetOrFetch(ctx, "a", countingFetch(&calls, "a2"))
	clock.Advance(time.Second)
	c.GetOrFetch(ctx, "c", countingFetch(&calls, "c"))

	urls := c.URLs()
	want := []string{"a", "c"}
	if fmt.Sprint(urls) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, urls)
	}
}

func TestEvictionKeepsJustInsertedEntryOnEqualFetchTimes(t *testing.T) {
	for i := 0; i < 50; i++ {
		clock := newFakeClock()
		c := newTestCache(time.Hour, 1, clock)
		ctx := context.Background()
		calls := 0

		c.GetOrFetch(ctx, "a", countingFetch(&calls, "a"))
		c.GetOrFetch(ctx, "b", countingFetch(&calls, "b"))

		if urls := c.URLs(); fmt.Sprint(urls) != "[b]" {
			t.Fatalf("run %d: expected [b], got %v", i, urls)
		}
	}
}

func TestEvictionBreaksTiesByKey(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, 2, clock)
	ctx := context.Background()
	calls := 0

	c.GetOrFetch(ctx, "b", countingFetch(&calls, "b"))
	c.GetOrFetch(ctx, "a", countingFetch(&calls, "a"))
	clock.Advance(time.Second)
	c.GetOrFetch(ctx, "c", countingFetch(&calls, "c"))

	if urls := c.URLs(); fmt.Sprint(urls) != "[b c]" {
		t.Errorf("expected [b c], got %v", urls)
	}
}

func TestZeroMaxElementsKeepsNothing(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, 0, clock)
	calls := 0

	body, err := c.GetOrFetch(context.Background(), "a", countingFetch(&calls, "a"))
	if err != nil || string(body) != "a" {
		t.Fatalf("unexpected result %q %v", body, err)
	}
	if c.Count() != 0 {
		t.Errorf("expected an empty cache, got %d entries", c.Count())
	}
}

func TestNegativeMaxElementsNeverEvicts(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, -1, clock)
	ctx := context.Background()
	calls := 0

	for i := 0; i < 500; i++ {
		c.GetOrFetch(ctx, fmt.Sprintf("key-%d", i), countingFetch(&calls, "x"))
		clock.Advance(time.Millisecond)
	}
	if c.Count() != 500 {
		t.Errorf("expected 500 entries, got %d", c.Count())
	}
	if s := c.Status(); s.Fullness != "unbounded" {
		t.Errorf("unexpected fullness %q", s.Fullness)
	}
}

func TestFetchErrorIsNotCached(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, 10, clock)
	ctx := context.Background()
	boom := errors.New("upstream down")

	_, err := c.GetOrFetch(ctx, "k", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if c.Count() != 0 {
		t.Errorf("failed fetch must not be cached, count=%d", c.Count())
	}

	calls := 0
	body, err := c.GetOrFetch(ctx, "k", countingFetch(&calls, "ok"))
	if err != nil || string(body) != "ok" || calls != 1 {
		t.Errorf("expected a fresh fetch after failure, got %q %v calls=%d", body, err, calls)
	}
}

func TestCleanRemovesOnlyStaleEntries(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10*time.Second, 10, clock)
	ctx := context.Background()
	calls := 0

	c.GetOrFetch(ctx, "old", countingFetch(&calls, "old"))
	clock.Advance(8 * time.Second)
	c.GetOrFetch(ctx, "new", countingFetch(&calls, "new"))
	clock.Advance(5 * time.Second)

	ejected := c.Clean("manual")
	if fmt.Sprint(ejected) != "[old]" {
		t.Errorf("expected [old] to be ejected, got %v", ejected)
	}
	if fmt.Sprint(c.URLs()) != "[new]" {
		t.Errorf("unexpected remaining keys %v", c.URLs())
	}
}

func TestClear(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(time.Hour, 10, clock)
	ctx := context.Background()
	calls := 0

	c.GetOrFetch(ctx, "a", countingFetch(&calls, "a"))
	c.GetOrFetch(ctx, "b", countingFetch(&calls, "b"))

	if n := c.Clear(); n != 2 {
		t.Errorf("expected 2 cleared entries, got %d", n)
	}
	if c.Count() != 0 {
		t.Errorf("expected empty cache, got %d", c.Count())
	}
}

func TestStatus(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(3*time.Minute, 3, clock)
	ctx := context.Background()
	calls := 0

	c.GetOrFetch(ctx, "first", countingFetch(&calls, "1"))
	clock.Advance(time.Second)
	c.GetOrFetch(ctx, "second", countingFetch(&calls, "2"))

	s := c.Status()
	if s.MaxAgeSeconds != 180 || s.MaxElements != 3 || s.NumberElements != 2 {
		t.Errorf("unexpected status %+v", s)
	}
	if s.Fullness != "67%" {
		t.Errorf("expected 67%%, got %q", s.Fullness)
	}
	if fmt.Sprint(s.CachedURLs) != "[first second]" {
		t.Errorf("unexpected urls %v", s.CachedURLs)
	}
}

func TestConcurrentCallersOfSameKeyFetchOnce(t *testing.T) {
	c := New(Config{MaxAge: time.Minute, MaxElements: 10}, zerolog.Nop())
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return []byte("body"), nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.GetOrFetch(ctx, "same", fetch)
	}()
	<-started

	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := c.GetOrFetch(ctx, "same", fetch)
			results[i] = string(body)
		}(i)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single upstream fetch, got %d", got)
	}
	for _, r := range results {
		if r != "body" {
			t.Errorf("unexpected body %q", r)
		}
	}
}
