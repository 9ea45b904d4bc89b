package service_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/internal/service"
)

func newTestGatewayService(t *testing.T) (*service.GatewayService, *service.LedgerService, *testDeps) {
	ledger, db, cfg := newTestLedger(t)
	return service.NewGatewayService(ledger, &cfg.Gateway), ledger, &testDeps{db: db, cfg: cfg}
}

// signedForm 模拟网关回调：参数 + 有效签名
func signedForm(gw *service.GatewayService, params map[string]string) url.Values {
	params["signature"] = gw.Sign(params)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return form
}

// =============================================================================
// 发起充值
// =============================================================================

func TestGateway_InitiateTopup(t *testing.T) {
	gw, _, deps := newTestGatewayService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	initiation, err := gw.InitiateTopup(ctx, 1, 5000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(initiation.Reference, "PF"))
	assert.Contains(t, initiation.RedirectURL, deps.cfg.Gateway.PayBaseURL)
	assert.Contains(t, initiation.RedirectURL, "amount=50.00")
	assert.Equal(t, model.TransactionStatusPending, initiation.Transaction.Status)

	// 发起充值不动余额
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 1))
}

func TestGateway_InitiateTopup_InvalidAmount(t *testing.T) {
	gw, _, deps := newTestGatewayService(t)
	seedWallet(t, deps.db, 1, "27820000001", 0)

	_, err := gw.InitiateTopup(context.Background(), 1, 0)
	assert.ErrorIs(t, err, service.ErrInvalidAmount)
}

// =============================================================================
// 签名
// =============================================================================

func TestGateway_Verify_RoundTrip(t *testing.T) {
	gw, _, _ := newTestGatewayService(t)

	params := map[string]string{
		"merchant_id":    "10000100",
		"m_payment_id":   "pf-1",
		"payment_status": "COMPLETE",
		"amount_gross":   "50.00",
	}
	params["signature"] = gw.Sign(params)
	assert.True(t, gw.Verify(params))

	// 篡改金额后验签失败
	params["amount_gross"] = "500.00"
	assert.False(t, gw.Verify(params))
}

func TestGateway_Verify_MissingSignature(t *testing.T) {
	gw, _, _ := newTestGatewayService(t)

	assert.False(t, gw.Verify(map[string]string{"m_payment_id": "pf-1"}))
}

// =============================================================================
// 回调处理
// =============================================================================

func TestGateway_Notification_Complete_CreditsWallet(t *testing.T) {
	gw, ledger, deps := newTestGatewayService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	_, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-123")
	require.NoError(t, err)

	form := signedForm(gw, map[string]string{
		"merchant_id":    "10000100",
		"m_payment_id":   "pf-123",
		"payment_status": "COMPLETE",
		"amount_gross":   "50.00",
	})

	result, err := gw.HandleNotification(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)
	assert.Equal(t, int64(5000), walletBalance(t, deps.db, 1))

	// 同一回调重放：余额不再变动
	_, err = gw.HandleNotification(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), walletBalance(t, deps.db, 1))
}

func TestGateway_Notification_BadSignature_Rejected(t *testing.T) {
	gw, ledger, deps := newTestGatewayService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	_, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-124")
	require.NoError(t, err)

	form := url.Values{}
	form.Set("merchant_id", "10000100")
	form.Set("m_payment_id", "pf-124")
	form.Set("payment_status", "COMPLETE")
	form.Set("amount_gross", "50.00")
	form.Set("signature", "deadbeefdeadbeefdeadbeefdeadbeef")

	_, err = gw.HandleNotification(ctx, form)
	assert.ErrorIs(t, err, service.ErrUnverifiedPayload)
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 1))
}

func TestGateway_Notification_WrongMerchant_Rejected(t *testing.T) {
	gw, _, _ := newTestGatewayService(t)

	form := signedForm(gw, map[string]string{
		"merchant_id":    "99999999",
		"m_payment_id":   "pf-125",
		"payment_status": "COMPLETE",
		"amount_gross":   "50.00",
	})

	_, err := gw.HandleNotification(context.Background(), form)
	assert.ErrorIs(t, err, service.ErrUnverifiedPayload)
}

func TestGateway_Notification_Failed_ClosesPending(t *testing.T) {
	gw, ledger, deps := newTestGatewayService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	_, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-126")
	require.NoError(t, err)

	form := signedForm(gw, map[string]string{
		"merchant_id":    "10000100",
		"m_payment_id":   "pf-126",
		"payment_status": "FAILED",
	})

	result, err := gw.HandleNotification(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, result.Status)
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 1))

	// FAILED 为终态，迟到的 COMPLETE 被拒绝
	late := signedForm(gw, map[string]string{
		"merchant_id":    "10000100",
		"m_payment_id":   "pf-126",
		"payment_status": "COMPLETE",
		"amount_gross":   "50.00",
	})
	_, err = gw.HandleNotification(ctx, late)
	assert.ErrorIs(t, err, repository.ErrStatusInvalid)
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 1))
}

func TestGateway_Notification_IntermediateStatus_NoOp(t *testing.T) {
	// 中间态回调只确认收到，流水保持 PENDING
	gw, ledger, deps := newTestGatewayService(t)
	ctx := context.Background()
	seedWallet(t, deps.db, 1, "27820000001", 0)

	_, err := ledger.ReservePending(ctx, 1, 5000, model.TransactionTypeTopup, "pf-127")
	require.NoError(t, err)

	form := signedForm(gw, map[string]string{
		"merchant_id":    "10000100",
		"m_payment_id":   "pf-127",
		"payment_status": "PENDING",
	})

	result, err := gw.HandleNotification(ctx, form)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, result.Status)
	assert.Equal(t, int64(0), walletBalance(t, deps.db, 1))
}
