package lock

import (
	"context"
	"sync"
	"time"
)

// LocalManager 进程内钱包锁
// 单实例部署和测试使用，语义与 Redis 实现一致：
// 按用户互斥 + 有界等待，超时返回 ErrLockTimeout
type LocalManager struct {
	mu      sync.Mutex
	slots   map[int64]chan struct{}
	timeout time.Duration
}

func NewLocalManager() *LocalManager {
	return &LocalManager{
		slots:   make(map[int64]chan struct{}),
		timeout: time.Duration(maxRetries) * retryInterval, // 与 Redis 实现同一个等待预算
	}
}

func (m *LocalManager) slot(userID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.slots[userID]
	if !ok {
		// 容量 1 的 channel 即一把互斥锁；条目随账户数有界增长，不回收
		ch = make(chan struct{}, 1)
		m.slots[userID] = ch
	}
	return ch
}

func (m *LocalManager) AcquireWallet(ctx context.Context, userID int64) (func(), error) {
	ch := m.slot(userID)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	}
}
