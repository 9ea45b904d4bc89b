package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AgentTierBronze   = "BRONZE"
	AgentTierSilver   = "SILVER"
	AgentTierGold     = "GOLD"
	AgentTierPlatinum = "PLATINUM"
)

const (
	AgentStatusPending   = "PENDING"
	AgentStatusActive    = "ACTIVE"
	AgentStatusSuspended = "SUSPENDED"
)

// 各等级佣金费率
// 费率乘在"分"上，结果向下取整到分，5000 分的 7% 恰好是 350 分
var commissionRates = map[string]decimal.Decimal{
	AgentTierBronze:   decimal.NewFromFloat(0.05),
	AgentTierSilver:   decimal.NewFromFloat(0.07),
	AgentTierGold:     decimal.NewFromFloat(0.10),
	AgentTierPlatinum: decimal.NewFromFloat(0.12),
}

// CommissionRate 返回等级对应的费率，未知等级按最低档处理
func CommissionRate(tier string) decimal.Decimal {
	if rate, ok := commissionRates[tier]; ok {
		return rate
	}
	return commissionRates[AgentTierBronze]
}

// CommissionFor 按等级费率计算销售额（分）对应的佣金（分）
func CommissionFor(tier string, saleAmount int64) int64 {
	return decimal.NewFromInt(saleAmount).Mul(CommissionRate(tier)).IntPart()
}

// Agent 代理（小卖部/街边商户）
// 代理用预存的浮动金（float）垫付顾客的现金购买，佣金单独记账
//
// float_balance 与 commission_balance 的约束同钱包余额：
// 永远 >= 0，只通过条件 UPDATE 变更，每次变更配一条流水
type Agent struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	AgentCode         string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"agent_code"`
	BusinessName      string    `gorm:"type:varchar(255)" json:"business_name"`
	Tier              string    `gorm:"type:varchar(20);not null;default:BRONZE" json:"tier"`
	FloatBalance      int64     `gorm:"not null;default:0" json:"float_balance"`      // 浮动金余额（分）
	CommissionBalance int64     `gorm:"not null;default:0" json:"commission_balance"` // 待提现佣金（分）
	TotalSales        int64     `gorm:"not null;default:0" json:"total_sales"`        // 累计销售额（分）
	Status            string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Version           int       `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Agent) TableName() string {
	return "agent"
}

// CommissionEntry 佣金台账
// 与销售流水一一对应，记录计佣时的等级与费率快照
type CommissionEntry struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentID          int64     `gorm:"index;not null" json:"agent_id"`
	Tier             string    `gorm:"type:varchar(20);not null" json:"tier"`
	SaleAmount       int64     `gorm:"not null" json:"sale_amount"`       // 销售额（分）
	CommissionAmount int64     `gorm:"not null" json:"commission_amount"` // 佣金（分）
	TransactionNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 对应的销售流水号
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CommissionEntry) TableName() string {
	return "commission_entry"
}
