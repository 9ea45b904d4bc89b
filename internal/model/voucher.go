package model

import (
	"time"
)

const (
	VoucherStatusUnused   = "UNUSED"
	VoucherStatusActive   = "ACTIVE"
	VoucherStatusExpired  = "EXPIRED"
	VoucherStatusDepleted = "DEPLETED"
)

// 凭证状态迁移：UNUSED -> ACTIVE -> EXPIRED / DEPLETED
// 终态后不允许重新激活
var ValidVoucherTransitions = map[string][]string{
	VoucherStatusUnused: {VoucherStatusActive, VoucherStatusExpired},
	VoucherStatusActive: {VoucherStatusExpired, VoucherStatusDepleted},
}

func VoucherCanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidVoucherTransitions[currentStatus]
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

// WiFiVoucher WiFi 上网凭证表
// 购买成功（扣款流水 COMPLETED）之后由履约服务生成，绝不先发码后扣款
//
// 不变量：data_used_mb <= data_limit_mb
type WiFiVoucher struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64      `gorm:"index;not null" json:"user_id"`
	PackageID     string     `gorm:"type:varchar(64);not null" json:"package_id"`
	VoucherCode   string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"voucher_code"` // 人工可输入的兑换码
	Status        string     `gorm:"type:varchar(20);index;not null;default:UNUSED" json:"status"`
	DataLimitMB   int64      `gorm:"not null" json:"data_limit_mb"`
	DataUsedMB    int64      `gorm:"not null;default:0" json:"data_used_mb"`
	ValidityHours int        `gorm:"not null" json:"validity_hours"`
	TransactionNo string     `gorm:"type:varchar(64);index" json:"transaction_no"` // 配对的扣款流水
	ActivatedAt   *time.Time `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WiFiVoucher) TableName() string {
	return "wifi_voucher"
}

func (v *WiFiVoucher) DataRemainingMB() int64 {
	if v.DataUsedMB >= v.DataLimitMB {
		return 0
	}
	return v.DataLimitMB - v.DataUsedMB
}
