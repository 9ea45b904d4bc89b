package model

import (
	"time"
)

const (
	MeterStatusOn      = "ON"
	MeterStatusOff     = "OFF"
	MeterStatusOffline = "OFFLINE"
)

// ElectricityMeter 预付费电表
// 电力套餐的履约目标：购买成功后给电表充入 kWh 额度
// 电量以 0.01 kWh 为最小单位存整数，与金额的"分"同一套约定
type ElectricityMeter struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MeterNumber    string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"meter_number"`
	UserID         int64     `gorm:"index;not null" json:"user_id"`
	KWhBalance     int64     `gorm:"column:kwh_balance;not null;default:0" json:"kwh_balance"` // 剩余电量（0.01 kWh）
	Status         string    `gorm:"type:varchar(20);not null;default:ON" json:"status"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ElectricityMeter) TableName() string {
	return "electricity_meter"
}
