package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（持有者崩溃时锁自动释放，防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查 value + 删除"的原子性
// ============================================================================

const (
	defaultExpiration = 30 * time.Second
	retryInterval     = 100 * time.Millisecond
	maxRetries        = 30
)

// RedisManager 基于 Redis 的钱包锁，多实例部署时使用
type RedisManager struct {
	client *redis.Client
}

func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

func (m *RedisManager) AcquireWallet(ctx context.Context, userID int64) (func(), error) {
	l := &distributedLock{
		client:     m.client,
		key:        fmt.Sprintf("wallet:lock:user:%d", userID),
		value:      uuid.NewString(), // 持有者标识，释放时校验
		expiration: defaultExpiration,
	}

	if err := l.lock(ctx, retryInterval, maxRetries); err != nil {
		return nil, err
	}

	return func() { l.unlock(context.Background()) }, nil
}

type distributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// tryLock 非阻塞获取，SetNX 保证同一时刻只有一个客户端成功
func (l *distributedLock) tryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// lock 带重试的阻塞式获取，预算耗尽返回 ErrLockTimeout
func (l *distributedLock) lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.tryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockTimeout
}

// unlock 释放锁
//
// 为什么要检查 value？
//
//	A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕调用 unlock
//	如果不检查 value，A 会把 B 的锁删掉
func (l *distributedLock) unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}
