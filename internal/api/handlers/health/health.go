package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"ingredient-recognizer/internal/core/ai/queue"
	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger 可探測連線狀態的外部依賴
type Pinger interface {
	Ping(ctx context.Context) error
}

// CatalogStats 目錄快取狀態
type CatalogStats interface {
	Entries() int
	RefreshedAt() time.Time
}

// QueueStats 模型呼叫隊列狀態
type QueueStats interface {
	GetQueueStatus() *queue.Status
}

// Response 健康檢查響應
type Response struct {
	Status           string                 `json:"status"`
	Timestamp        time.Time              `json:"timestamp"`
	Version          string                 `json:"version"`
	VisionConfigured bool                   `json:"vision_configured"`
	CatalogEnabled   bool                   `json:"catalog_enabled"`
	CatalogReachable bool                   `json:"catalog_reachable"`
	CatalogEntries   int                    `json:"catalog_entries,omitempty"`
	CatalogRefreshed *time.Time             `json:"catalog_refreshed_at,omitempty"`
	Runtime          map[string]interface{} `json:"runtime"`
	Queue            *queue.Status          `json:"queue,omitempty"`
}

// Checker 健康檢查處理器
// 檢查只讀取狀態與探測連線，不會觸發目錄刷新或模型呼叫。
type Checker struct {
	version          string
	visionConfigured bool
	catalog          Pinger
	stats            CatalogStats
	queue            QueueStats
	pingTimeout      time.Duration
}

// NewChecker 創建健康檢查處理器，未啟用的依賴傳 nil
func NewChecker(version string, visionConfigured bool, catalog Pinger, stats CatalogStats, q QueueStats) *Checker {
	return &Checker{
		version:          version,
		visionConfigured: visionConfigured,
		catalog:          catalog,
		stats:            stats,
		queue:            q,
		pingTimeout:      3 * time.Second,
	}
}

func (h *Checker) catalogReachable(ctx context.Context) bool {
	if h.catalog == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()
	if err := h.catalog.Ping(ctx); err != nil {
		common.LogWarn("Catalog ping failed", zap.Error(err))
		return false
	}
	return true
}

// HealthCheck 回報設定與外部依賴狀態
func (h *Checker) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := Response{
		Timestamp:        time.Now(),
		Version:          h.version,
		VisionConfigured: h.visionConfigured,
		CatalogEnabled:   h.catalog != nil,
		CatalogReachable: h.catalogReachable(c.Request.Context()),
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":  m.Alloc,
				"sys":    m.Sys,
				"num_gc": m.NumGC,
			},
		},
	}
	if h.stats != nil && h.stats.Entries() > 0 {
		at := h.stats.RefreshedAt()
		resp.CatalogEntries = h.stats.Entries()
		resp.CatalogRefreshed = &at
	}

	if h.queue != nil {
		resp.Queue = h.queue.GetQueueStatus()
	}

	resp.Status = "ok"
	if !h.visionConfigured || (resp.CatalogEnabled && !resp.CatalogReachable) {
		resp.Status = "degraded"
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("status", resp.Status),
	)

	c.JSON(http.StatusOK, resp)
}

// ReadinessCheck 至少一條辨識流程可用時才就緒
func (h *Checker) ReadinessCheck(c *gin.Context) {
	if !h.visionConfigured && !h.catalogReachable(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck 存活檢查處理器
func LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
