package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lokal/internal/model"
)

func TestCommissionFor_TierRates(t *testing.T) {
	// R50.00 的销售额在各等级下的佣金
	cases := []struct {
		tier string
		want int64
	}{
		{model.AgentTierBronze, 250},   // 5%
		{model.AgentTierSilver, 350},   // 7%
		{model.AgentTierGold, 500},     // 10%
		{model.AgentTierPlatinum, 600}, // 12%
	}

	for _, c := range cases {
		assert.Equal(t, c.want, model.CommissionFor(c.tier, 5000), "tier %s", c.tier)
	}
}

func TestCommissionFor_RoundsDown(t *testing.T) {
	// 3 分的 7% 是 0.21 分，向下取整到 0，绝不凭空多出一分钱
	assert.Equal(t, int64(0), model.CommissionFor(model.AgentTierSilver, 3))
	// 99 分的 5% 是 4.95 分 -> 4
	assert.Equal(t, int64(4), model.CommissionFor(model.AgentTierBronze, 99))
}

func TestCommissionFor_UnknownTier_FallsBackToBronze(t *testing.T) {
	assert.Equal(t, int64(250), model.CommissionFor("DIAMOND", 5000))
}

func TestTransactionStateMachine(t *testing.T) {
	assert.True(t, model.CanTransitionTo(model.TransactionStatusPending, model.TransactionStatusCompleted))
	assert.True(t, model.CanTransitionTo(model.TransactionStatusPending, model.TransactionStatusFailed))
	assert.True(t, model.CanTransitionTo(model.TransactionStatusCompleted, model.TransactionStatusReversed))

	// 终态不允许再迁移
	assert.False(t, model.CanTransitionTo(model.TransactionStatusFailed, model.TransactionStatusCompleted))
	assert.False(t, model.CanTransitionTo(model.TransactionStatusReversed, model.TransactionStatusCompleted))
	assert.False(t, model.CanTransitionTo(model.TransactionStatusCompleted, model.TransactionStatusPending))
}

func TestVoucherStateMachine(t *testing.T) {
	assert.True(t, model.VoucherCanTransitionTo(model.VoucherStatusUnused, model.VoucherStatusActive))
	assert.True(t, model.VoucherCanTransitionTo(model.VoucherStatusActive, model.VoucherStatusDepleted))
	assert.True(t, model.VoucherCanTransitionTo(model.VoucherStatusActive, model.VoucherStatusExpired))

	assert.False(t, model.VoucherCanTransitionTo(model.VoucherStatusDepleted, model.VoucherStatusActive))
	assert.False(t, model.VoucherCanTransitionTo(model.VoucherStatusExpired, model.VoucherStatusActive))
}
