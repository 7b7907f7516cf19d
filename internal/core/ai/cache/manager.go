package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ingredient-recognizer/internal/infrastructure/config"
	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

// Store 模型回應緩存介面
type Store interface {
	// Get 取得緩存值，未命中回傳 common.ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 寫入緩存值
	Set(ctx context.Context, key string, value []byte) error
	// Close 釋放資源
	Close() error
}

// Key 以模型、語言與圖片內容生成緩存鍵
func Key(model, language string, image []byte) string {
	return fmt.Sprintf("vision:%s:%s:%s", model, strings.ToLower(language), common.HashBytes(image))
}

// New 依設定建立緩存，停用時回傳 nil
func New(cfg config.CacheConfig) (Store, error) {
	if !cfg.Enabled {
		common.LogInfo("Cache disabled")
		return nil, nil
	}
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		s, err := NewRedisStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "memory":
		return NewManager(cfg), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// Manager 記憶體緩存管理器
type Manager struct {
	cfg   config.CacheConfig
	now   func() time.Time
	mu    sync.Mutex
	store map[string]cacheEntry
	stats cacheStats
	done  chan struct{}
	once  sync.Once
}

// cacheEntry 緩存條目
type cacheEntry struct {
	value       []byte
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

// cacheStats 緩存統計
type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewManager 創建記憶體緩存管理器
func NewManager(cfg config.CacheConfig) *Manager {
	m := &Manager{
		cfg:   cfg,
		now:   time.Now,
		store: make(map[string]cacheEntry),
		done:  make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go m.startCleanup()
	}

	common.LogInfo("快取管理員已初始化",
		zap.Int("max_size", cfg.MaxSize),
		zap.Duration("ttl", cfg.TTL),
		zap.Duration("cleanup_interval", cfg.CleanupInterval),
	)
	return m
}

// Get 獲取緩存值
func (m *Manager) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.store[key]
	if !ok {
		m.stats.misses++
		common.LogCacheMiss("memory")
		return nil, common.ErrCacheMiss
	}

	now := m.now()
	if now.After(entry.expiresAt) {
		delete(m.store, key)
		m.stats.evictions++
		m.stats.misses++
		common.LogCacheMiss("memory")
		return nil, common.ErrCacheMiss
	}

	entry.lastAccess = now
	entry.accessCount++
	m.store[key] = entry
	m.stats.hits++
	common.LogCacheHit("memory")
	return entry.value, nil
}

// Set 設置緩存值
func (m *Manager) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.store[key]; !exists && m.cfg.MaxSize > 0 && len(m.store) >= m.cfg.MaxSize {
		m.cleanup()
		// 仍然滿載時淘汰最少使用的項目
		if len(m.store) >= m.cfg.MaxSize {
			m.evictLRU()
		}
		if len(m.store) >= m.cfg.MaxSize {
			common.LogWarn("快取已滿", zap.Int("size", len(m.store)))
			return common.ErrCacheFull
		}
	}

	now := m.now()
	m.store[key] = cacheEntry{
		value:      value,
		expiresAt:  now.Add(m.cfg.TTL),
		lastAccess: now,
	}
	return nil
}

// Len 目前緩存數量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

func (m *Manager) startCleanup() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.cleanup()
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

// cleanup 清理過期的緩存，呼叫者需持有鎖
func (m *Manager) cleanup() int {
	now := m.now()
	count := 0
	for key, entry := range m.store {
		if now.After(entry.expiresAt) {
			delete(m.store, key)
			count++
			m.stats.evictions++
		}
	}
	if count > 0 {
		common.LogDebug("Cleaned up expired cache entries",
			zap.Int("count", count),
			zap.Int("remaining_size", len(m.store)),
		)
	}
	return count
}

// evictLRU 淘汰訪問次數最少且最久未使用的項目
func (m *Manager) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	var lowestAccessCount int

	for key, entry := range m.store {
		if oldestKey == "" ||
			entry.accessCount < lowestAccessCount ||
			(entry.accessCount == lowestAccessCount && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowestAccessCount = entry.accessCount
		}
	}

	if oldestKey != "" {
		delete(m.store, oldestKey)
		m.stats.evictions++
	}
}

// Close 關閉緩存管理器
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = make(map[string]cacheEntry)
	common.LogInfo("快取管理員已關閉",
		zap.Int64("hits", m.stats.hits),
		zap.Int64("misses", m.stats.misses),
		zap.Int64("evictions", m.stats.evictions),
	)
	return nil
}
