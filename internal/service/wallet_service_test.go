package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/internal/service"
)

func newTestWalletService(t *testing.T) (*service.WalletService, *service.LedgerService, *testDeps) {
	ledger, db, cfg := newTestLedger(t)
	return service.NewWalletService(ledger), ledger, &testDeps{db: db, cfg: cfg}
}

func TestWallet_GetWallet_AutoCreate(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	ctx := context.Background()

	wallet, err := ws.GetWallet(ctx, 42, "27820000042")
	require.NoError(t, err)
	assert.Equal(t, int64(42), wallet.UserID)
	assert.Equal(t, int64(0), wallet.Balance)
	assert.Equal(t, "ZAR", wallet.Currency)
	assert.NotEmpty(t, wallet.ReferralCode)
	assert.Equal(t, deps.cfg.Business.DailyLimitCents, wallet.DailyLimit)

	// 再取返回同一个钱包，已开户后 phone 可省略
	again, err := ws.GetWallet(ctx, 42, "")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestWallet_GetWallet_EmptyPhone_NoAutoCreate(t *testing.T) {
	// phone 占唯一索引，空手机号不允许开户
	ws, _, deps := newTestWalletService(t)
	ctx := context.Background()

	_, err := ws.GetWallet(ctx, 43, "")
	assert.ErrorIs(t, err, service.ErrPhoneRequired)

	var count int64
	require.NoError(t, deps.db.Model(&model.Wallet{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestWallet_Transfer(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)
	seedWallet(t, deps.db, 2, "27820000002", 500)

	result, err := ws.Transfer(ctx, 1, "27820000002", 3000, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), result.NewBalance)
	assert.Equal(t, int64(7000), walletBalance(t, deps.db, 1))
	assert.Equal(t, int64(3500), walletBalance(t, deps.db, 2))

	// 收款方流水用 -R 后缀关联号
	txRepo := repository.NewTransactionRepository(deps.db)
	recipientLeg, err := txRepo.GetByReference(ctx, "tr-1-R")
	require.NoError(t, err)
	require.NotNil(t, recipientLeg)
	assert.Equal(t, int64(3000), recipientLeg.Amount)
	assert.Equal(t, int64(2), recipientLeg.UserID)
}

func TestWallet_Transfer_Replay(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)
	seedWallet(t, deps.db, 2, "27820000002", 0)

	_, err := ws.Transfer(ctx, 1, "27820000002", 3000, "tr-2")
	require.NoError(t, err)
	_, err = ws.Transfer(ctx, 1, "27820000002", 3000, "tr-2")
	require.NoError(t, err)

	assert.Equal(t, int64(7000), walletBalance(t, deps.db, 1))
	assert.Equal(t, int64(3000), walletBalance(t, deps.db, 2))
}

func TestWallet_Transfer_SelfRejected(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	_, err := ws.Transfer(context.Background(), 1, "27820000001", 1000, "tr-3")
	assert.ErrorIs(t, err, service.ErrSelfTransfer)
}

func TestWallet_Transfer_InsufficientFunds(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	seedWallet(t, deps.db, 1, "27820000001", 500)
	seedWallet(t, deps.db, 2, "27820000002", 0)

	_, err := ws.Transfer(context.Background(), 1, "27820000002", 1000, "tr-4")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
	assert.Equal(t, int64(500), walletBalance(t, deps.db, 1))
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 2))
}

func TestWallet_Transfer_UnknownRecipient(t *testing.T) {
	ws, _, deps := newTestWalletService(t)
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	_, err := ws.Transfer(context.Background(), 1, "27829999999", 1000, "tr-5")
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)
}

func TestWallet_ListTransactions_NewestFirst(t *testing.T) {
	ws, ledger, deps := newTestWalletService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	for i := 0; i < 3; i++ {
		_, err := ledger.Credit(ctx, 1, 1000, model.TransactionTypeTopup, refN("lt", i), "充值")
		require.NoError(t, err)
	}

	transactions, total, err := ws.ListTransactions(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, transactions, 2)
}
