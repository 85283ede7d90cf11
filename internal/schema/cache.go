package schema

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 10 * time.Minute
	DefaultSampleRows = 3

	sharedFetchTimeout = 30 * time.Second
)

// FetchError reports a failed refresh. The previously cached entry, if any,
// stays in place.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch schema: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	TTL time.Duration
	// SampleRows <= 0 means DefaultSampleRows. Set NoSamples to fetch none.
	SampleRows int
	NoSamples  bool
	// SingleFlight makes concurrent misses share one fetch.
	SingleFlight bool
	Now          func() time.Time
}

// Cache memoizes the schema snapshot and samples for a fixed TTL. Reads are
// lock-free; a refresh swaps in a new entry.
type Cache struct {
	fetcher    Fetcher
	ttl        time.Duration
	sampleRows int
	now        func() time.Time

	entry atomic.Pointer[Entry]
	group *singleflight.Group
}

func NewCache(fetcher Fetcher, opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sampleRows := opts.SampleRows
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	if opts.NoSamples {
		sampleRows = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cache := &Cache{
		fetcher:    fetcher,
		ttl:        ttl,
		sampleRows: sampleRows,
		now:        now,
	}
	if opts.SingleFlight {
		cache.group = &singleflight.Group{}
	}
	return cache
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Current returns the stored entry without fetching. It is nil until the
// first successful Get.
func (c *Cache) Current() *Entry {
	return c.entry.Load()
}

// Get returns the cached entry while it is younger than the TTL, unless force
// is set. Otherwise it fetches, stores, and returns a new entry.
func (c *Cache) Get(ctx context.Context, force bool) (*Entry, error) {
	if !force {
		if entry := c.entry.Load(); entry != nil && c.now().Sub(entry.FetchedAt) < c.ttl {
			observability.ObserveSchemaCacheLookup(true)
			return entry, nil
		}
	}
	observability.ObserveSchemaCacheLookup(false)

	if c.group == nil {
		return c.refresh(ctx)
	}
	// The shared fetch outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := c.group.DoChan("schema", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, &FetchError{Err: ctx.Err()}
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Entry), nil
	}
}

func (c *Cache) refresh(ctx context.Context) (*Entry, error) {
	started := time.Now()
	snapshot, samples, err := c.fetcher.FetchSnapshot(ctx, c.sampleRows)
	observability.ObserveSchemaFetch(time.Since(started), err)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if snapshot.Columns == nil {
		snapshot.Columns = map[string][]string{}
	}
	if samples == nil {
		samples = Samples{}
	}
	entry := &Entry{Snapshot: snapshot, Samples: samples, FetchedAt: c.now().UTC()}
	c.entry.Store(entry)
	return entry, nil
}
