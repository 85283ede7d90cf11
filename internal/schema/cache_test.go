package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
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

type countingFetcher struct {
	calls      atomic.Int32
	sampleArgs atomic.Int32
	err        error
}

func (f *countingFetcher) FetchSnapshot(_ context.Context, sampleLimit int) (Snapshot, Samples, error) {
	f.calls.Add(1)
	f.sampleArgs.Store(int32(sampleLimit))
	if f.err != nil {
		return Snapshot{}, nil, f.err
	}
	return Snapshot{
			Tables:  []string{"Farmers"},
			Columns: map[string][]string{"Farmers": {"id", "name"}},
		}, Samples{
			"Farmers": {{"id": int64(1), "name": "Ada"}},
		}, nil
}

func TestCacheHitWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, Options{TTL: 10 * time.Minute, SampleRows: 3, Now: clock.Now})

	first, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(9 * time.Minute)
	second, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first != second {
		t.Fatal("expected the same entry within TTL")
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	if got := fetcher.sampleArgs.Load(); got != 3 {
		t.Fatalf("sample limit = %d, want 3", got)
	}
	if !first.FetchedAt.Equal(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("FetchedAt = %s", first.FetchedAt)
	}
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, Options{TTL: 10 * time.Minute, Now: clock.Now})

	first, _ := cache.Get(context.Background(), false)
	clock.Advance(10 * time.Minute)
	second, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first == second {
		t.Fatal("expected a new entry once the TTL elapsed")
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2", got)
	}
}

func TestCacheForceRefresh(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, Options{})

	first, _ := cache.Get(context.Background(), false)
	second, err := cache.Get(context.Background(), true)
	if err != nil {
		t.Fatalf("Get(force) error = %v", err)
	}
	if first == second || fetcher.calls.Load() != 2 {
		t.Fatalf("force refresh did not fetch: calls=%d", fetcher.calls.Load())
	}
	if cache.Current() != second {
		t.Fatal("Current() should return the latest entry")
	}
}

func TestCacheFetchFailureKeepsPreviousEntry(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, Options{})
	previous, _ := cache.Get(context.Background(), false)

	cause := errors.New("connection refused")
	fetcher.err = cause
	_, err := cache.Get(context.Background(), true)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Get() error = %v, want *FetchError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Get() error = %v, want wrapped cause", err)
	}
	if cache.Current() != previous {
		t.Fatal("failed refresh must not replace the cached entry")
	}
}

func TestCacheCurrentBeforeFirstFetch(t *testing.T) {
	cache := NewCache(&countingFetcher{}, Options{})
	if cache.Current() != nil {
		t.Fatal("Current() should be nil before the first fetch")
	}
	if cache.TTL() != DefaultTTL {
		t.Fatalf("TTL() = %s", cache.TTL())
	}
}

func TestCacheSingleFlightSharesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, sampleLimit int) (Snapshot, Samples, error) {
		calls.Add(1)
		<-release
		return Snapshot{Tables: []string{"farmers"}}, nil, nil
	})
	cache := NewCache(fetcher, Options{SingleFlight: true})

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	entries := make([]*Entry, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			entry, err := cache.Get(context.Background(), false)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			entries[i] = entry
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	if got := calls.Load(); got < 1 || got > callers {
		t.Fatalf("fetch calls = %d", got)
	}
	for _, entry := range entries {
		if entry == nil || len(entry.Snapshot.Tables) != 1 {
			t.Fatalf("entry = %#v", entry)
		}
	}
}

func TestCacheSingleFlightSurvivesFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	fetchStarted := make(chan struct{})
	var calls atomic.Int32
	var fetchCtxErr atomic.Value
	fetcher := FetcherFunc(func(ctx context.Context, sampleLimit int) (Snapshot, Samples, error) {
		if calls.Add(1) == 1 {
			close(fetchStarted)
		}
		<-release
		if err := ctx.Err(); err != nil {
			fetchCtxErr.Store(err)
			return Snapshot{}, nil, err
		}
		return Snapshot{Tables: []string{"farmers"}}, nil, nil
	})
	cache := NewCache(fetcher, Options{SingleFlight: true})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(firstCtx, false)
		firstErr <- err
	}()
	<-fetchStarted

	type outcome struct {
		entry *Entry
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		entry, err := cache.Get(context.Background(), true)
		second <- outcome{entry: entry, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v", err)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("joined caller error = %v", got.err)
	}
	if len(got.entry.Snapshot.Tables) != 1 {
		t.Fatalf("entry = %#v", got.entry)
	}
	if stored := fetchCtxErr.Load(); stored != nil {
		t.Fatalf("shared fetch saw cancellation: %v", stored)
	}
	if cache.Current() == nil {
		t.Fatal("shared fetch result was not stored")
	}
}

func TestCacheSampleRowsDefaults(t *testing.T) {
	fetcher := &countingFetcher{}
	if _, err := NewCache(fetcher, Options{}).Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := fetcher.sampleArgs.Load(); got != DefaultSampleRows {
		t.Fatalf("zero-value sample rows = %d, want %d", got, DefaultSampleRows)
	}

	fetcher = &countingFetcher{}
	if _, err := NewCache(fetcher, Options{SampleRows: 5, NoSamples: true}).Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := fetcher.sampleArgs.Load(); got != 0 {
		t.Fatalf("NoSamples sample rows = %d, want 0", got)
	}

	fetcher = &countingFetcher{}
	if _, err := NewCache(fetcher, Options{SampleRows: 7}).Get(context.Background(), false); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := fetcher.sampleArgs.Load(); got != 7 {
		t.Fatalf("explicit sample rows = %d, want 7", got)
	}
}

func TestAllowedTablesAreLowerCased(t *testing.T) {
	cache := NewCache(&countingFetcher{}, Options{})
	entry, err := cache.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	tables := entry.AllowedTables()
	if len(tables) != 1 || tables[0] != "farmers" {
		t.Fatalf("AllowedTables() = %#v", tables)
	}
	if (*Entry)(nil).AllowedTables() != nil {
		t.Fatal("nil entry should have no tables")
	}
}

func TestSnapshotTableNamesIncludesColumnOnlyTables(t *testing.T) {
	snapshot := Snapshot{
		Tables:  []string{"b", "a", "b"},
		Columns: map[string][]string{"a": nil, "b": nil, "d": nil, "c": nil},
	}
	got := snapshot.TableNames()
	want := []string{"b", "a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("TableNames() = %#v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TableNames() = %#v, want %#v", got, want)
		}
	}
}
