package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request 表示發送到影像辨識模型的請求
type Request struct {
	Prompt   string
	Image    []byte
	MIMEType string
}

// Response 表示模型回傳的文字內容
type Response struct {
	Content string
	Model   string
}

// Provider 定義影像辨識模型提供者介面
type Provider interface {
	// Generate 送出提示詞與圖片，回傳模型文字回應
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GetModel 獲取當前使用的模型名稱
	GetModel() string

	// GetTimeout 獲取單次請求超時時間
	GetTimeout() time.Duration

	// Close 關閉提供者連接
	Close() error
}

// ErrorKind 上游錯誤分類，決定重試策略
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransport 網路或傳輸層錯誤
	KindTransport
	// KindOverloaded 上游回報過載
	KindOverloaded
	// KindRateLimited 上游回報限流
	KindRateLimited
	// KindModelNotFound 模型或端點不存在
	KindModelNotFound
	// KindStatus 其他錯誤狀態，不重試
	KindStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindOverloaded:
		return "overloaded"
	case KindRateLimited:
		return "rate_limited"
	case KindModelNotFound:
		return "model_not_found"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Error 帶有分類的上游錯誤
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Model      string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", e.Model, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 創建分類錯誤
func NewError(kind ErrorKind, status int, model string, err error) *Error {
	return &Error{Kind: kind, StatusCode: status, Model: model, Err: err}
}

// KindOf 取得錯誤分類，未分類的錯誤視為 KindUnknown
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Retryable 判斷該分類是否可以在同一模型上重試
func (k ErrorKind) Retryable() bool {
	return k == KindTransport || k == KindOverloaded || k == KindRateLimited
}
