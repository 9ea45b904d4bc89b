package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeTopup               = "TOPUP"                // 充值
	TransactionTypeWiFiPurchase        = "WIFI_PURCHASE"        // WiFi 套餐购买
	TransactionTypeElectricityPurchase = "ELECTRICITY_PURCHASE" // 电力套餐购买
	TransactionTypeTransfer            = "TRANSFER"             // 钱包间转账
	TransactionTypeReferralBonus       = "REFERRAL_BONUS"       // 邀请奖励
	TransactionTypeCommission          = "COMMISSION"           // 代理佣金（commission_balance 变动）
	TransactionTypeFloatTopup          = "FLOAT_TOPUP"          // 代理浮动金预存
	TransactionTypeFloatDebit          = "FLOAT_DEBIT"          // 代售扣减浮动金
	TransactionTypeWithdrawal          = "WITHDRAWAL"           // 提现（佣金转入钱包）
)

// ============================================================================
// 交易状态机
// ============================================================================

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusReversed  = "REVERSED"
)

// 允许的状态迁移：
//   PENDING   -> COMPLETED（支付网关确认）
//   PENDING   -> FAILED（超时/拒绝，终态）
//   COMPLETED -> REVERSED（冲正补偿）
// 除此之外任何迁移都不合法，COMPLETED 之后金额与余额快照不可变
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted: {TransactionStatusReversed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 钱包流水实体
// ============================================================================

// Transaction 钱包流水表
// 记录钱包的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改金额，不删除 —— 保证审计可追溯
// 2. reference 全局唯一 —— 支付网关回调的幂等边界
// 3. 记录交易后余额快照 —— 便于校验余额一致性
// 4. 纠错通过新增一条反向冲正流水，绝不改写历史
type Transaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        int64     `gorm:"index;not null" json:"user_id"`                               // 钱包所属用户
	Type          string    `gorm:"type:varchar(32);not null" json:"type"`                       // 交易类型
	Amount        int64     `gorm:"not null" json:"amount"`                                      // 金额（分，正数入账，负数出账）
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                               // 交易后余额快照（分，浮动金/佣金流水对应各自账户）
	Reference     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`      // 外部关联号 / 幂等键
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ReversalOf    string    `gorm:"type:varchar(64);index" json:"reversal_of,omitempty"`         // 冲正流水指向的原流水号
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}
