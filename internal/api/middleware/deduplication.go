package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deduplicator 記錄最近的 POST 請求指紋
type Deduplicator struct {
	mu        sync.Mutex
	window    time.Duration
	requests  map[string]time.Time
	lastPrune time.Time
	now       func() time.Time
}

// NewDeduplicator 創建去重器，window 內相同的請求視為重複
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = time.Second
	}
	return &Deduplicator{
		window:   window,
		requests: make(map[string]time.Time),
		now:      time.Now,
	}
}

// seen 記錄指紋並回傳是否在窗口內出現過
func (d *Deduplicator) seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastPrune) > 10*d.window {
		for k, t := range d.requests {
			if now.Sub(t) > d.window {
				delete(d.requests, k)
			}
		}
		d.lastPrune = now
	}

	if last, ok := d.requests[fingerprint]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.requests[fingerprint] = now
	return false
}

// Deduplication 請求去重中間件，只處理 POST
func Deduplication(d *Deduplicator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, common.ErrorResponse{
						Code:    common.ErrCodeInvalidRequest,
						Message: "request body too large",
					})
					return
				}
				common.LogError("Failed to read request body", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusBadRequest, common.ErrorResponse{
					Code:    common.ErrCodeInvalidRequest,
					Message: "failed to read request body",
				})
				return
			}
			// 恢復請求體
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		fingerprint := c.ClientIP() + ":" + c.Request.URL.Path + ":" + common.HashBytes(body)
		if d.seen(fingerprint) {
			common.LogInfo("Duplicate request rejected",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, common.ErrorResponse{
				Code:    common.ErrCodeTooManyRequests,
				Message: "duplicate request",
			})
			return
		}

		c.Next()
	}
}
