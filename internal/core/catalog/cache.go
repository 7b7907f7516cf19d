package catalog

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL 目錄緩存有效時間
const DefaultTTL = 24 * time.Hour

var errEmptyCatalog = errors.New("catalog listing is empty")

// Snapshot 某次成功抓取的完整目錄，建立後不再修改
type Snapshot struct {
	entries     map[string]Entry
	names       []string
	RefreshedAt time.Time
}

func newSnapshot(entries []Entry, at time.Time) *Snapshot {
	s := &Snapshot{
		entries:     make(map[string]Entry, len(entries)),
		RefreshedAt: at,
	}
	for _, e := range entries {
		key := common.NormalizeName(e.CanonicalName)
		if key == "" {
			continue
		}
		if _, dup := s.entries[key]; dup {
			continue
		}
		s.entries[key] = e
		s.names = append(s.names, key)
	}
	sort.Strings(s.names)
	return s
}

// Lookup 以正規化名稱查詢
func (s *Snapshot) Lookup(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// Names 排序後的所有正規化名稱
func (s *Snapshot) Names() []string {
	return s.names
}

// Len 目錄筆數
func (s *Snapshot) Len() int {
	return len(s.names)
}

// Cache 目錄緩存，整份替換並以 singleflight 避免重複抓取
type Cache struct {
	fetcher    Fetcher
	ttl        time.Duration
	serveStale bool
	now        func() time.Time

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// NewCache 創建目錄緩存
func NewCache(fetcher Fetcher, ttl time.Duration, serveStale bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetcher:    fetcher,
		ttl:        ttl,
		serveStale: serveStale,
		now:        time.Now,
	}
}

// Snapshot 目前的目錄，從未成功抓取時為 nil
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Entries 目前緩存的目錄筆數
func (c *Cache) Entries() int {
	if s := c.snap.Load(); s != nil {
		return s.Len()
	}
	return 0
}

// RefreshedAt 最近一次成功抓取的時間
func (c *Cache) RefreshedAt() time.Time {
	if s := c.snap.Load(); s != nil {
		return s.RefreshedAt
	}
	return time.Time{}
}

func (c *Cache) fresh(s *Snapshot) bool {
	return s != nil && c.now().Sub(s.RefreshedAt) < c.ttl
}

// EnsureFresh 緩存過期或為空時重新抓取
// 抓取失敗且沒有舊資料時回傳 ErrCatalogUnavailable；有舊資料時依 serveStale 決定。
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if c.fresh(c.snap.Load()) {
		return nil
	}

	_, err, shared := c.group.Do("refresh", func() (interface{}, error) {
		if c.fresh(c.snap.Load()) {
			return nil, nil
		}
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	if err == nil {
		return nil
	}

	if stale := c.snap.Load(); stale != nil && c.serveStale {
		common.LogWarn("Catalog refresh failed, serving stale catalog",
			zap.Time("refreshed_at", stale.RefreshedAt),
			zap.Int("entries", stale.Len()),
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return nil
	}
	return common.Wrap(common.ErrCatalogUnavailable, err)
}

func (c *Cache) refresh(ctx context.Context) error {
	entries, err := c.fetcher.FetchAll(ctx)
	if err != nil {
		return err
	}
	snap := newSnapshot(entries, c.now())
	if snap.Len() == 0 {
		return errEmptyCatalog
	}
	c.snap.Store(snap)
	common.LogInfo("Catalog refreshed", zap.Int("entries", snap.Len()))
	return nil
}
