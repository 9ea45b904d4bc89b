package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokal/internal/catalog"
	"lokal/internal/config"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/internal/service"
)

func newTestPurchaseService(t *testing.T) (*service.PurchaseService, *testDeps) {
	ledger, db, cfg := newTestLedger(t)
	cat := catalog.Load(&config.CatalogConfig{}) // 内置默认套餐
	return service.NewPurchaseService(ledger, cat), &testDeps{db: db, cfg: cfg}
}

func seedMeter(t *testing.T, deps *testDeps, userID int64, meterNumber, status string) {
	require.NoError(t, deps.db.Create(&model.ElectricityMeter{
		MeterNumber: meterNumber,
		UserID:      userID,
		Status:      status,
	}).Error)
}

// =============================================================================
// WiFi 套餐
// =============================================================================

func TestPurchase_WiFi_IssuesVoucher(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	// wifi-daily-standard: R10.00 / 1GB / 24h
	result, err := ps.PurchaseWiFi(ctx, 1, "wifi-daily-standard", "wp-1")
	require.NoError(t, err)
	require.NotNil(t, result.Voucher)
	assert.False(t, result.RequiresPayment)
	assert.Equal(t, model.VoucherStatusUnused, result.Voucher.Status)
	assert.Equal(t, int64(1024), result.Voucher.DataLimitMB)
	assert.Len(t, result.Voucher.VoucherCode, 12)
	assert.Equal(t, result.Transaction.TransactionNo, result.Voucher.TransactionNo)
	assert.Equal(t, int64(9000), walletBalance(t, deps.db, 1))
}

func TestPurchase_WiFi_Replay_SameVoucher(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	first, err := ps.PurchaseWiFi(ctx, 1, "wifi-daily-lite", "wp-2")
	require.NoError(t, err)

	replay, err := ps.PurchaseWiFi(ctx, 1, "wifi-daily-lite", "wp-2")
	require.NoError(t, err)
	assert.Equal(t, first.Voucher.VoucherCode, replay.Voucher.VoucherCode)
	assert.Equal(t, int64(9500), walletBalance(t, deps.db, 1))
}

func TestPurchase_WiFi_InsufficientFunds_RequiresPayment(t *testing.T) {
	// 余额不足不报错，返回差额引导走网关充值
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 300)

	result, err := ps.PurchaseWiFi(ctx, 1, "wifi-daily-lite", "wp-3")
	require.NoError(t, err)
	assert.True(t, result.RequiresPayment)
	assert.Equal(t, int64(200), result.ShortfallCents)
	assert.Equal(t, int64(300), walletBalance(t, deps.db, 1))
}

func TestPurchase_WiFi_UnknownPackage(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	_, err := ps.PurchaseWiFi(context.Background(), 1, "no-such-package", "wp-4")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

// =============================================================================
// 电力套餐 / 履约补偿
// =============================================================================

func TestPurchase_Electricity_CreditsMeter(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)
	seedMeter(t, deps, 1, "MTR-001", model.MeterStatusOn)

	// elec-10kwh: R25.00 / 10 kWh
	result, err := ps.PurchaseElectricity(ctx, 1, "elec-10kwh", "MTR-001", "ep-1")
	require.NoError(t, err)
	require.NotNil(t, result.Meter)
	assert.Equal(t, int64(1000), result.Meter.KWhBalance)
	assert.Equal(t, int64(7500), walletBalance(t, deps.db, 1))
}

func TestPurchase_Electricity_OfflineMeter_Compensated(t *testing.T) {
	// 履约失败（电表离线）：扣款被冲正，余额原路退回
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)
	seedMeter(t, deps, 1, "MTR-002", model.MeterStatusOffline)

	_, err := ps.PurchaseElectricity(ctx, 1, "elec-10kwh", "MTR-002", "ep-2")
	assert.ErrorIs(t, err, service.ErrFulfillmentFailed)
	assert.Equal(t, int64(10000), walletBalance(t, deps.db, 1))

	// 扣款流水存在且已置 REVERSED，配对一条反向补偿流水
	txRepo := repository.NewTransactionRepository(deps.db)
	debit, err := txRepo.GetByReference(ctx, "ep-2")
	require.NoError(t, err)
	require.NotNil(t, debit)
	assert.Equal(t, model.TransactionStatusReversed, debit.Status)

	reversal, err := txRepo.GetByReference(ctx, "ep-2-REV")
	require.NoError(t, err)
	require.NotNil(t, reversal)
	assert.Equal(t, debit.TransactionNo, reversal.ReversalOf)
}

func TestPurchase_Electricity_ForeignMeter_Rejected(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	seedWallet(t, deps.db, 1, "27820000001", 10000)
	seedMeter(t, deps, 2, "MTR-003", model.MeterStatusOn)

	_, err := ps.PurchaseElectricity(context.Background(), 1, "elec-10kwh", "MTR-003", "ep-3")
	assert.ErrorIs(t, err, repository.ErrMeterNotFound)
	assert.Equal(t, int64(10000), walletBalance(t, deps.db, 1))
}

// =============================================================================
// 凭证生命周期
// =============================================================================

func TestPurchase_VoucherLifecycle(t *testing.T) {
	ps, deps := newTestPurchaseService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 10000)

	result, err := ps.PurchaseWiFi(ctx, 1, "wifi-daily-lite", "vl-1")
	require.NoError(t, err)
	code := result.Voucher.VoucherCode

	// 激活：UNUSED -> ACTIVE，开始计有效期
	activated, err := ps.ActivateVoucher(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.VoucherStatusActive, activated.Status)
	require.NotNil(t, activated.ExpiresAt)

	// 重复激活被状态机拒绝
	_, err = ps.ActivateVoucher(ctx, code)
	assert.ErrorIs(t, err, repository.ErrVoucherStatusInvalid)

	// 用量上报，用尽转 DEPLETED
	used, err := ps.RecordVoucherUsage(ctx, code, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), used.DataRemainingMB())

	depleted, err := ps.RecordVoucherUsage(ctx, code, 300)
	require.NoError(t, err)
	assert.Equal(t, model.VoucherStatusDepleted, depleted.Status)

	// 用尽后继续上报被拒
	_, err = ps.RecordVoucherUsage(ctx, code, 1)
	assert.Error(t, err)
}
