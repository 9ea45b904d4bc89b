package model

import (
	"time"
)

const (
	WalletStatusActive    = "ACTIVE"
	WalletStatusSuspended = "SUSPENDED"
)

// Wallet 用户钱包表
// 记录用户的可用余额，是整个账本系统的核心数据
//
// 【重要】余额约束：
// 1. balance 永远 >= 0 —— 扣款通过条件 UPDATE 保证，绝不允许透支
// 2. 金额一律以最小货币单位（分）存储，绝不使用浮点数
// 3. 余额只能通过账本服务（LedgerService）变更，每次变更必须配一条流水
type Wallet struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64     `gorm:"uniqueIndex;not null" json:"user_id"`                   // 用户ID，业务方传入
	Phone            string    `gorm:"type:varchar(15);uniqueIndex;not null" json:"phone"`    // 手机号（转账/代理收款时查找）
	Balance          int64     `gorm:"not null;default:0" json:"balance"`                     // 可用余额（分）
	Currency         string    `gorm:"type:varchar(3);not null;default:ZAR" json:"currency"`  // ISO 货币代码
	Status           string    `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	DailyLimit       int64     `gorm:"not null;default:0" json:"daily_limit"`                 // 日消费限额（分）
	MonthlyLimit     int64     `gorm:"not null;default:0" json:"monthly_limit"`               // 月消费限额（分）
	DailySpent       int64     `gorm:"not null;default:0" json:"daily_spent"`                 // 当日已消费（分）
	MonthlySpent     int64     `gorm:"not null;default:0" json:"monthly_spent"`               // 当月已消费（分）
	LastDailyReset   time.Time `gorm:"not null" json:"last_daily_reset"`                      // 日计数窗口起点
	LastMonthlyReset time.Time `gorm:"not null" json:"last_monthly_reset"`                    // 月计数窗口起点
	ReferralCode     string    `gorm:"type:varchar(10);uniqueIndex" json:"referral_code"`     // 本人的邀请码
	ReferredBy       int64     `gorm:"not null;default:0" json:"referred_by"`                 // 邀请人 user_id（0 表示无）
	ReferralRedeemed bool      `gorm:"not null;default:false" json:"referral_redeemed"`       // 是否已兑换过邀请码（一次性）
	Version          int       `gorm:"not null;default:0" json:"version"`                     // 乐观锁版本号
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}

// NeedsDailyReset 日消费计数窗口是否已过期
func (w *Wallet) NeedsDailyReset(now time.Time) bool {
	y1, m1, d1 := w.LastDailyReset.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// NeedsMonthlyReset 月消费计数窗口是否已过期
func (w *Wallet) NeedsMonthlyReset(now time.Time) bool {
	return w.LastMonthlyReset.Year() != now.Year() || w.LastMonthlyReset.Month() != now.Month()
}
