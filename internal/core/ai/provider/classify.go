package provider

import (
	"net/http"
	"strings"
)

// ClassifyStatus 依 HTTP 狀態碼與錯誤訊息決定錯誤分類
func ClassifyStatus(status int, message string) ErrorKind {
	msg := strings.ToLower(message)
	switch {
	case status == http.StatusNotFound:
		return KindModelNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusServiceUnavailable:
		return KindOverloaded
	case strings.Contains(msg, "overloaded"):
		return KindOverloaded
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota"):
		return KindRateLimited
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return KindModelNotFound
	default:
		return KindStatus
	}
}
