package common

import (
	"errors"
	"net/http"
)

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code    string `json:"code"`              // 錯誤代碼
	Message string `json:"message"`           // 錯誤信息
	Details string `json:"details,omitempty"` // 詳細信息（僅在開發模式顯示）
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Code    string // 錯誤代碼
	Message string // 錯誤信息
	Err     error  // 原始錯誤
	Status  int    // HTTP 狀態碼
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始錯誤
func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is 以錯誤代碼比對，讓 errors.Is 可以辨識包裝過的預定義錯誤
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Wrap 以預定義錯誤為基礎包裝原始錯誤
func Wrap(base *CustomError, err error) *CustomError {
	return NewError(base.Code, base.Message, base.Status, err)
}

// ValidationError 表示驗證錯誤
type ValidationError struct {
	message string
}

// Error 實現 error 介面
func (e *ValidationError) Error() string {
	return e.message
}

// NewValidationError 創建新的驗證錯誤
func NewValidationError(message string) error {
	return &ValidationError{
		message: message,
	}
}

// IsValidationError 檢查是否為驗證錯誤
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusOf 取得錯誤對應的 HTTP 狀態碼與錯誤代碼
func StatusOf(err error) (int, string) {
	if IsValidationError(err) {
		return http.StatusBadRequest, ErrCodeInvalidRequest
	}
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Status, ce.Code
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// 預定義錯誤代碼
const (
	// 客戶端錯誤 (4xx)
	ErrCodeInvalidRequest  = "INVALID_REQUEST"   // 400
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS" // 429

	// 服務器錯誤 (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"     // 504

	// 上游與辨識流程
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeModelNotFound       = "MODEL_NOT_FOUND"
	ErrCodeParseError          = "PARSE_ERROR"
	ErrCodeCatalogUnavailable  = "CATALOG_UNAVAILABLE"
)

// 預定義錯誤
var (
	// 客戶端錯誤
	ErrTooManyRequests = NewError(ErrCodeTooManyRequests, "請求過於頻繁", http.StatusTooManyRequests, nil)

	// 服務器錯誤
	ErrInternalError      = NewError(ErrCodeInternalError, "服務器內部錯誤", http.StatusInternalServerError, nil)
	ErrServiceUnavailable = NewError(ErrCodeServiceUnavailable, "服務暫時不可用", http.StatusServiceUnavailable, nil)
	ErrGatewayTimeout     = NewError(ErrCodeGatewayTimeout, "網關超時", http.StatusGatewayTimeout, nil)

	// 業務錯誤
	ErrCacheFull = NewError("CACHE_FULL", "緩存已滿", http.StatusServiceUnavailable, nil)
	ErrCacheMiss = NewError("CACHE_MISS", "緩存未命中", http.StatusNotFound, nil)

	// 辨識流程錯誤
	ErrUpstreamUnavailable = NewError(ErrCodeUpstreamUnavailable, "影像辨識服務暫時不可用", http.StatusServiceUnavailable, nil)
	ErrRateLimited         = NewError(ErrCodeRateLimited, "影像辨識服務限流", http.StatusTooManyRequests, nil)
	ErrModelNotFound       = NewError(ErrCodeModelNotFound, "找不到影像辨識模型", http.StatusBadGateway, nil)
	ErrParseError          = NewError(ErrCodeParseError, "無法解析影像辨識回應", http.StatusBadGateway, nil)
	ErrCatalogUnavailable  = NewError(ErrCodeCatalogUnavailable, "食材目錄不可用", http.StatusServiceUnavailable, nil)
)
