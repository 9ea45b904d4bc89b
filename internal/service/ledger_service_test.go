package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/internal/service"
)

// =============================================================================
// 入账 / 出账
// =============================================================================

func TestLedger_CreditThenDebit_BalanceSnapshot(t *testing.T) {
	// 余额 100.00 -> 扣 50.00 -> 流水快照 50.00 -> 再扣 60.00 被拒
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 0)

	_, err := ledger.Credit(ctx, 1, 10000, model.TransactionTypeTopup, "topup-1", "充值")
	require.NoError(t, err)

	debit, err := ledger.Debit(ctx, 1, 5000, model.TransactionTypeWiFiPurchase, "buy-1", "购买")
	require.NoError(t, err)
	assert.Equal(t, int64(-5000), debit.Amount)
	assert.Equal(t, int64(5000), debit.BalanceAfter)
	assert.Equal(t, model.TransactionStatusCompleted, debit.Status)

	_, err = ledger.Debit(ctx, 1, 6000, model.TransactionTypeWiFiPurchase, "buy-2", "购买")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	assert.Equal(t, int64(5000), walletBalance(t, db, 1))
}

func TestLedger_InvalidAmount(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 10000)

	_, err := ledger.Debit(ctx, 1, 0, model.TransactionTypeWiFiPurchase, "z-1", "")
	assert.ErrorIs(t, err, service.ErrInvalidAmount)

	_, err = ledger.Credit(ctx, 1, -100, model.TransactionTypeTopup, "z-2", "")
	assert.ErrorIs(t, err, service.ErrInvalidAmount)
}

func TestLedger_DebitReplay_SameReference(t *testing.T) {
	// 同一 reference 重放：返回同一条流水，余额只扣一次
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 10000)

	first, err := ledger.Debit(ctx, 1, 3000, model.TransactionTypeWiFiPurchase, "order-77", "购买")
	require.NoError(t, err)

	replay, err := ledger.Debit(ctx, 1, 3000, model.TransactionTypeWiFiPurchase, "order-77", "购买")
	require.NoError(t, err)
	assert.Equal(t, first.TransactionNo, replay.TransactionNo)
	assert.Equal(t, int64(7000), walletBalance(t, db, 1))
}

func TestLedger_DebitSuspendedWallet(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWallet(t, db, 1, "27820000001", 10000)
	require.NoError(t, db.Model(w).Update("status", model.WalletStatusSuspended).Error)

	_, err := ledger.Debit(ctx, 1, 1000, model.TransactionTypeWiFiPurchase, "s-1", "")
	assert.ErrorIs(t, err, service.ErrWalletSuspended)

	_, err = ledger.Credit(ctx, 1, 1000, model.TransactionTypeTopup, "s-2", "")
	assert.ErrorIs(t, err, service.ErrWalletSuspended)
}

func TestLedger_DebitUnknownWallet(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Debit(context.Background(), 999, 1000, model.TransactionTypeWiFiPurchase, "n-1", "")
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)
}

func TestLedger_DailyLimitEnforced(t *testing.T) {
	// 限额按日累计：窗口内累计超限的那一笔被拒，余额充足也不放行
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWallet(t, db, 1, "27820000001", 1000000)
	require.NoError(t, db.Model(w).Update("daily_limit", 8000).Error)

	_, err := ledger.Debit(ctx, 1, 5000, model.TransactionTypeWiFiPurchase, "d-1", "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, 1, 5000, model.TransactionTypeWiFiPurchase, "d-2", "")
	assert.ErrorIs(t, err, repository.ErrLimitExceeded)

	// 没超的小额继续放行
	_, err = ledger.Debit(ctx, 1, 3000, model.TransactionTypeWiFiPurchase, "d-3", "")
	require.NoError(t, err)
}

// =============================================================================
// 并发守恒
// =============================================================================

func TestLedger_ConcurrentDebits_NoOverdraw(t *testing.T) {
	// 余额 100.00，20 个并发各扣 10.00：恰好 10 笔成功，余额归零不为负
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 10000)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ledger.Debit(ctx, 1, 1000, model.TransactionTypeWiFiPurchase,
				refN("con", n), "并发扣款")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
		}
	}

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), walletBalance(t, db, 1))

	// 流水净额与余额变动守恒
	var sum int64
	require.NoError(t, db.Model(&model.Transaction{}).
		Where("user_id = ? AND status = ?", 1, model.TransactionStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)
	assert.Equal(t, int64(-10000), sum)
}

// =============================================================================
// PENDING 确认
// =============================================================================

func TestLedger_ConfirmPending_Idempotent(t *testing.T) {
	// 同一笔充值确认两次：余额只入一次账
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 0)

	pending, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-123")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, pending.Status)
	assert.Equal(t, int64(0), walletBalance(t, db, 1))

	first, err := ledger.ConfirmPending(ctx, "pf-123", 5000)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, first.Status)
	assert.Equal(t, int64(5000), walletBalance(t, db, 1))

	second, err := ledger.ConfirmPending(ctx, "pf-123", 5000)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionNo, second.TransactionNo)
	assert.Equal(t, int64(5000), walletBalance(t, db, 1))
}

func TestLedger_ConfirmPending_GatewayAmountWins(t *testing.T) {
	// 入账金额以网关确认的为准，不信任预留时的请求金额
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 0)

	_, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-124")
	require.NoError(t, err)

	confirmed, err := ledger.ConfirmPending(ctx, "pf-124", 4800)
	require.NoError(t, err)
	assert.Equal(t, int64(4800), confirmed.Amount)
	assert.Equal(t, int64(4800), walletBalance(t, db, 1))
}

func TestLedger_ConfirmPending_AfterFailed(t *testing.T) {
	// 超时关单后网关迟到的确认被状态机拒绝
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 0)

	pending, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-125")
	require.NoError(t, err)
	require.NoError(t, ledger.FailPending(ctx, pending.TransactionNo))

	_, err = ledger.ConfirmPending(ctx, "pf-125", 5000)
	assert.ErrorIs(t, err, repository.ErrStatusInvalid)
	assert.Equal(t, int64(0), walletBalance(t, db, 1))
}

func TestLedger_ConfirmPending_UnknownReference(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.ConfirmPending(context.Background(), "pf-none", 5000)
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}

// =============================================================================
// 冲正
// =============================================================================

func TestLedger_ReverseDebit(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 10000)

	debit, err := ledger.Debit(ctx, 1, 4000, model.TransactionTypeWiFiPurchase, "rv-1", "购买")
	require.NoError(t, err)

	reversal, err := ledger.Reverse(ctx, debit.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), reversal.Amount)
	assert.Equal(t, debit.TransactionNo, reversal.ReversalOf)
	assert.Equal(t, int64(10000), walletBalance(t, db, 1))

	// 原流水置 REVERSED，金额快照不变
	original, err := repository.NewTransactionRepository(db).GetByTransactionNo(ctx, debit.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusReversed, original.Status)
	assert.Equal(t, int64(-4000), original.Amount)
}

func TestLedger_ReverseTwice_Rejected(t *testing.T) {
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 10000)

	debit, err := ledger.Debit(ctx, 1, 4000, model.TransactionTypeWiFiPurchase, "rv-2", "购买")
	require.NoError(t, err)

	_, err = ledger.Reverse(ctx, debit.TransactionNo)
	require.NoError(t, err)

	_, err = ledger.Reverse(ctx, debit.TransactionNo)
	assert.ErrorIs(t, err, service.ErrAlreadyReversed)
	assert.Equal(t, int64(10000), walletBalance(t, db, 1))
}

func TestLedger_ReverseCredit_InsufficientBalance(t *testing.T) {
	// 入账后钱已被花掉，冲正入账余额不够时拒绝，不产生负余额
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	seedWallet(t, db, 1, "27820000001", 0)

	credit, err := ledger.Credit(ctx, 1, 5000, model.TransactionTypeTopup, "rv-3", "充值")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, 1, 4000, model.TransactionTypeWiFiPurchase, "rv-4", "购买")
	require.NoError(t, err)

	_, err = ledger.Reverse(ctx, credit.TransactionNo)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	assert.Equal(t, int64(1000), walletBalance(t, db, 1))
}

func TestLedger_DebitShortfall_ReturnsPromptly(t *testing.T) {
	// 失败原因的重读必须走扣款事务自己的连接：
	// 单连接池下另开连接会永远等不到空闲连接
	ledger, db, _ := newTestLedger(t)
	seedWallet(t, db, 1, "27820000001", 1000)

	done := make(chan error, 1)
	go func() {
		_, err := ledger.Debit(context.Background(), 1, 5000,
			model.TransactionTypeWiFiPurchase, "short-1", "")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	case <-time.After(5 * time.Second):
		t.Fatal("余额不足路径超时未返回")
	}
}

func TestLedger_ReverseDebit_RestoresSpendAllowance(t *testing.T) {
	// 冲正退款的同时退回占掉的消费限额，当日还能再买
	ledger, db, _ := newTestLedger(t)
	ctx := context.Background()
	w := seedWallet(t, db, 1, "27820000001", 100000)
	require.NoError(t, db.Model(w).Update("daily_limit", 5000).Error)

	debit, err := ledger.Debit(ctx, 1, 5000, model.TransactionTypeWiFiPurchase, "ra-1", "购买")
	require.NoError(t, err)

	// 限额已占满
	_, err = ledger.Debit(ctx, 1, 1000, model.TransactionTypeWiFiPurchase, "ra-2", "购买")
	assert.ErrorIs(t, err, repository.ErrLimitExceeded)

	_, err = ledger.Reverse(ctx, debit.TransactionNo)
	require.NoError(t, err)

	var after model.Wallet
	require.NoError(t, db.Where("user_id = ?", 1).First(&after).Error)
	assert.Equal(t, int64(0), after.DailySpent)
	assert.Equal(t, int64(0), after.MonthlySpent)

	// 额度回来了，同额消费再次放行
	_, err = ledger.Debit(ctx, 1, 5000, model.TransactionTypeWiFiPurchase, "ra-3", "购买")
	require.NoError(t, err)
}

func refN(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}
