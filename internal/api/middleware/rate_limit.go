package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"ingredient-recognizer/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter 令牌桶限流器
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter 創建新的限流器，每個 window 最多 requests 次
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests),
		now:     time.Now,
	}
}

// Allow 檢查是否允許請求
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}

// RateLimit 限流中間件
func RateLimit(limiter *RateLimiter, window time.Duration) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))

	return func(c *gin.Context) {
		if !limiter.Allow() {
			common.LogInfo("Rate limit exceeded",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)

			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, common.ErrorResponse{
				Code:    common.ErrCodeTooManyRequests,
				Message: common.ErrTooManyRequests.Message,
			})
			return
		}

		c.Next()
	}
}
