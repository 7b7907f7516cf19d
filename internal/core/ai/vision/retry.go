package vision

import (
	"time"

	"ingredient-recognizer/internal/core/ai/provider"
)

// RetryPolicy 重試策略
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int, kind provider.ErrorKind) time.Duration
}

// DefaultRetryPolicy 預設重試策略：最多 3 次，依錯誤分類線性退避
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff,
	}
}

// LinearBackoff 傳輸錯誤 attempt×2s，過載 attempt×3s，限流 attempt×6s
func LinearBackoff(attempt int, kind provider.ErrorKind) time.Duration {
	switch kind {
	case provider.KindTransport:
		return time.Duration(attempt) * 2 * time.Second
	case provider.KindOverloaded:
		return time.Duration(attempt) * 3 * time.Second
	case provider.KindRateLimited:
		return time.Duration(attempt) * 6 * time.Second
	default:
		return 0
	}
}
