package lock

import (
	"context"
	"errors"
)

// ============================================================================
// 钱包互斥锁
// ============================================================================
//
// 【为什么必须按钱包加锁？】
//
// 场景：同一用户并发发起两笔扣款（网络抖动导致重复提交）
//
// 没有锁：
//   goroutine1: 读余额=100 -> 扣款100 -> 余额=0   OK
//   goroutine2: 读余额=100 -> 扣款100 -> 余额=-100 超扣了！
//
// 有锁：
//   goroutine1: 获取锁 -> 读余额=100 -> 扣款100 -> 释放锁
//   goroutine2: 等锁... -> 获取锁 -> 读余额=0 -> 余额不足，拒绝
//
// 扣款 SQL 本身还带 balance >= amount 的条件做兜底，
// 锁保证的是"读余额快照 + 扣款 + 记流水"整段的串行化。
//
// 获取锁有重试预算，预算耗尽返回 ErrLockTimeout，调用方带退避重试，
// 绝不无限阻塞。
// ============================================================================

// ErrLockTimeout 在重试预算内未能取得钱包锁
var ErrLockTimeout = errors.New("获取钱包锁超时")

// Manager 按用户维度的钱包互斥锁
// 生产环境用 Redis 实现（多实例部署），测试与单机用进程内实现
type Manager interface {
	// AcquireWallet 获取 userID 对应钱包的锁，成功时返回释放函数
	AcquireWallet(ctx context.Context, userID int64) (release func(), err error)
}

// AcquirePair 按 userID 升序获取两把钱包锁
//
// 【关键点】双钱包操作（转账、代理销售）固定按升序拿锁，
// 两个相反方向的操作不会互相持有对方要的锁，从根上消除死锁
func AcquirePair(ctx context.Context, m Manager, userIDA, userIDB int64) (release func(), err error) {
	if userIDA == userIDB {
		return m.AcquireWallet(ctx, userIDA)
	}

	first, second := userIDA, userIDB
	if second < first {
		first, second = second, first
	}

	releaseFirst, err := m.AcquireWallet(ctx, first)
	if err != nil {
		return nil, err
	}

	releaseSecond, err := m.AcquireWallet(ctx, second)
	if err != nil {
		releaseFirst()
		return nil, err
	}

	return func() {
		releaseSecond()
		releaseFirst()
	}, nil
}
