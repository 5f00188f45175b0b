package cache

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// ResponseCache stores upstream response bodies keyed by their fully resolved
// request URL. A single mutex guards the whole get-or-fetch sequence, so two
// callers asking for the same cold key cause exactly one upstream request.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	config  Config
	now     func() time.Time
	log     zerolog.Logger
}

type Entry struct {
	Key       string
	FetchedAt time.Time
	Body      []byte
}

type Config struct {
	// MaxAge is how long an entry counts as fresh. Older entries are refetched
	// on access and removed by Clean.
	MaxAge time.Duration

	// MaxElements bounds the number of entries. When an insertion exceeds it the
	// oldest entry is evicted. A negative value disables the bound.
	MaxElements int
}

// Status describes the cache for the admin surface.
type Status struct {
	MaxAgeSeconds  int64    `json:"max_age_seconds"`
	MaxElements    int      `json:"max_elements"`
	NumberElements int      `json:"number_elements"`
	Fullness       string   `json:"fullness"`
	CachedURLs     []string `json:"cached_urls"`
}

// FetchFunc produces a fresh body for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

type Option func(*ResponseCache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

func New(config Config, log zerolog.Logger, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]*Entry),
		config:  config,
		now:     time.Now,
		log:     log.With().Str("component", "response_cache").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.log.Info().
		Dur("max_age", config.MaxAge).
		Int("max_elements", config.MaxElements).
		Msg("Response cache initialised")
	return c
}

// GetOrFetch returns the cached body for key when it is fresh, otherwise calls
// fetch, stores the result and returns it. Failed fetches are not cached.
func (c *ResponseCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && c.isFresh(entry) {
		c.log.Debug().
			Str("key", key).
			Time("valid_until", entry.FetchedAt.Add(c.config.MaxAge)).
			Msg("Cache hit")
		return entry.Body, nil
	}

	c.log.Debug().Str("key", key).Msg("Cache miss")
	body, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.entries[key] = &Entry{
		Key:       key,
		FetchedAt: c.now(),
		Body:      body,
	}

	if c.config.MaxElements >= 0 && len(c.entries) > c.config.MaxElements {
		c.evictOldest(key)
	}
	return body, nil
}

func (c *ResponseCache) isFresh(entry *Entry) bool {
	return c.now().Sub(entry.FetchedAt) <= c.config.MaxAge
}

// evictOldest removes the entry with the smallest FetchedAt; callers hold mu.
// The entry under inserted counts as the newest, so equal fetch times never
// evict it while other entries remain. Other ties go to the smaller key.
func (c *ResponseCache) evictOldest(inserted string) {
	var oldest *Entry
	for _, entry := range c.entries {
		if entry.Key == inserted {
			continue
		}
		if oldest == nil || entry.FetchedAt.Before(oldest.FetchedAt) ||
			(entry.FetchedAt.Equal(oldest.FetchedAt) && entry.Key < oldest.Key) {
			oldest = entry
		}
	}
	if oldest == nil {
		oldest = c.entries[inserted]
	}
	if oldest == nil {
		return
	}

	delete(c.entries, oldest.Key)
	c.log.Debug().
		Str("key", oldest.Key).
		Time("fetched_at", oldest.FetchedAt).
		Int("remaining_entries", len(c.entries)).
		Msg("Evicted oldest cache entry")
}

// Clean removes every stale entry and returns their keys. The reason only ends
// up in the log ("scheduled", "manual").
func (c *ResponseCache) Clean(reason string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ejected []string
	for key, entry := range c.entries {
		if !c.isFresh(entry) {
			ejected = append(ejected, key)
			delete(c.entries, key)
		}
	}
	slices.Sort(ejected)

	event := c.log.Debug()
	if len(ejected) > 0 {
		event = c.log.Info()
	}
	event.
		Str("reason", reason).
		Strs("ejected", ejected).
		Int("remaining_entries", len(c.entries)).
		Msg("Completed cache cleanup")
	return ejected
}

// Clear drops all entries and returns how many there were.
func (c *ResponseCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.log.Info().Int("cleared_entries", n).Msg("Cache cleared")
	return n
}

func (c *ResponseCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// URLs returns the cached keys, oldest first.
func (c *ResponseCache) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedKeys()
}

func (c *ResponseCache) sortedKeys() []string {
	entries := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		if n := a.FetchedAt.Compare(b.FetchedAt); n != 0 {
			return n
		}
		return strings.Compare(a.Key, b.Key)
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys
}

func (c *ResponseCache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	fullness := "unbounded"
	if c.config.MaxElements > 0 {
		fullness = fmt.Sprintf("%.0f%%", math.Round(float64(count)/float64(c.config.MaxElements)*100))
	} else if c.config.MaxElements == 0 {
		fullness = "0%"
	}

	return Status{
		MaxAgeSeconds:  int64(c.config.MaxAge / time.Second),
		MaxElements:    c.config.MaxElements,
		NumberElements: count,
		Fullness:       fullness,
		CachedURLs:     c.sortedKeys(),
	}
}
