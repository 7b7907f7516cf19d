package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"ingredient-recognizer/internal/pkg/common"

	"go.uber.org/zap"
)

var errClosed = errors.New("queue manager is closed")

// Status 隊列狀態
type Status struct {
	Running        int   `json:"running"`
	QueueLength    int   `json:"queue_length"`
	ProcessedCount int64 `json:"processed_count"`
	MaxQueueSize   int   `json:"max_queue_size"`
	Workers        int   `json:"workers"`
}

// Manager 限制同時進行的模型呼叫數，超出的請求排隊等待
type Manager struct {
	slots     chan struct{}
	maxSize   int
	waiting   atomic.Int32
	processed atomic.Int64
	done      chan struct{}
	once      sync.Once
}

// NewManager 創建新的隊列管理器
func NewManager(workers, maxSize int) *Manager {
	if workers < 1 {
		workers = 1
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &Manager{
		slots:   make(chan struct{}, workers),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
}

// Acquire 取得執行名額，完成後必須呼叫 release
// 隊列已滿時立即回傳 ErrServiceUnavailable。
func (m *Manager) Acquire(ctx context.Context) (func(), error) {
	select {
	case <-m.done:
		return nil, common.Wrap(common.ErrServiceUnavailable, errClosed)
	default:
	}

	select {
	case m.slots <- struct{}{}:
		return m.releaser(), nil
	default:
	}

	if int(m.waiting.Add(1)) > m.maxSize {
		m.waiting.Add(-1)
		common.LogWarn("Vision queue is full",
			zap.Int("max_queue_size", m.maxSize),
			zap.Int("workers", cap(m.slots)),
		)
		return nil, common.Wrap(common.ErrServiceUnavailable, errors.New("queue is full"))
	}
	defer m.waiting.Add(-1)

	select {
	case m.slots <- struct{}{}:
		return m.releaser(), nil
	case <-ctx.Done():
		return nil, common.Wrap(common.ErrServiceUnavailable, ctx.Err())
	case <-m.done:
		return nil, common.Wrap(common.ErrServiceUnavailable, errClosed)
	}
}

func (m *Manager) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-m.slots
			m.processed.Add(1)
		})
	}
}

// GetQueueStatus 獲取隊列狀態
func (m *Manager) GetQueueStatus() *Status {
	return &Status{
		Running:        len(m.slots),
		QueueLength:    int(m.waiting.Load()),
		ProcessedCount: m.processed.Load(),
		MaxQueueSize:   m.maxSize,
		Workers:        cap(m.slots),
	}
}

// Close 關閉隊列管理器，等待中的請求會失敗
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}
