package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher 可控制回傳內容與阻塞的目錄來源
type fakeFetcher struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	calls   atomic.Int32
	gate    chan struct{}
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]Entry, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, f.err
}

func (f *fakeFetcher) set(entries []Entry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries, f.err = entries, err
}

func sampleEntries() []Entry {
	return []Entry{
		{ID: "1", CanonicalName: "Tomato", Type: "vegetables"},
		{ID: "2", CanonicalName: "Cherry Tomato", Type: "vegetables"},
		{ID: "3", CanonicalName: "Berry", Type: "fruits"},
		{ID: "4", CanonicalName: "Olive Oil", Type: "condiments"},
		{ID: "5", CanonicalName: "Vegetable Oil", Type: "condiments"},
		{ID: "6", CanonicalName: "Peach"},
		{ID: "7", CanonicalName: "Basil", Type: "seasoning"},
	}
}

func newTestCache(f Fetcher, serveStale bool) (*Cache, *time.Time) {
	c := NewCache(f, DefaultTTL, serveStale)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestEnsureFreshFetchesOnceWithinTTL(t *testing.T) {
	f := &fakeFetcher{entries: sampleEntries()}
	c, now := newTestCache(f, true)
	ctx := context.Background()

	require.NoError(t, c.EnsureFresh(ctx))
	require.NoError(t, c.EnsureFresh(ctx))
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, 7, c.Snapshot().Len())

	*now = now.Add(25 * time.Hour)
	require.NoError(t, c.EnsureFresh(ctx))
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestEnsureFreshNoCacheFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	c, _ := newTestCache(f, true)

	err := c.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCatalogUnavailable)
	assert.Nil(t, c.Snapshot())
}

func TestEnsureFreshEmptyListingIsFailure(t *testing.T) {
	f := &fakeFetcher{entries: []Entry{}}
	c, _ := newTestCache(f, true)

	assert.ErrorIs(t, c.EnsureFresh(context.Background()), common.ErrCatalogUnavailable)
}

func TestEnsureFreshStaleBehaviour(t *testing.T) {
	for _, serveStale := range []bool{true, false} {
		f := &fakeFetcher{entries: sampleEntries()}
		c, now := newTestCache(f, serveStale)
		ctx := context.Background()
		require.NoError(t, c.EnsureFresh(ctx))
		before := c.Snapshot()

		f.set(nil, errors.New("down"))
		*now = now.Add(48 * time.Hour)

		err := c.EnsureFresh(ctx)
		if serveStale {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, common.ErrCatalogUnavailable)
		}
		// 失敗的抓取不會破壞舊資料
		assert.Same(t, before, c.Snapshot())
	}
}

func TestEnsureFreshSingleFlight(t *testing.T) {
	f := &fakeFetcher{entries: sampleEntries(), gate: make(chan struct{})}
	c, _ := newTestCache(f, true)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnsureFresh(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.calls.Load())
	assert.NotNil(t, c.Snapshot())
}

func TestSnapshotSkipsBlankAndDuplicateNames(t *testing.T) {
	s := newSnapshot([]Entry{
		{ID: "1", CanonicalName: "Tomato"},
		{ID: "2", CanonicalName: " tomato "},
		{ID: "3", CanonicalName: ""},
		{ID: "4", CanonicalName: "Onion"},
	}, time.Now())

	assert.Equal(t, []string{"onion", "tomato"}, s.Names())
	e, ok := s.Lookup("tomato")
	require.True(t, ok)
	assert.Equal(t, "1", e.ID)
}

func TestCacheStats(t *testing.T) {
	c, now := newTestCache(&fakeFetcher{entries: sampleEntries()}, true)
	assert.Zero(t, c.Entries())
	assert.True(t, c.RefreshedAt().IsZero())

	require.NoError(t, c.EnsureFresh(context.Background()))
	assert.Equal(t, 7, c.Entries())
	assert.Equal(t, *now, c.RefreshedAt())
}
