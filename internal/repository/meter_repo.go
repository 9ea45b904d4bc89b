package repository

import (
	"context"
	"errors"

	"lokal/internal/model"

	"gorm.io/gorm"
)

var ErrMeterNotFound = errors.New("电表不存在")

type MeterRepository struct {
	db *gorm.DB
}

func NewMeterRepository(db *gorm.DB) *MeterRepository {
	return &MeterRepository{db: db}
}

func (r *MeterRepository) Create(ctx context.Context, meter *model.ElectricityMeter) error {
	return r.db.WithContext(ctx).Create(meter).Error
}

func (r *MeterRepository) GetByMeterNumber(ctx context.Context, meterNumber string) (*model.ElectricityMeter, error) {
	var meter model.ElectricityMeter
	err := r.db.WithContext(ctx).Where("meter_number = ?", meterNumber).First(&meter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeterNotFound
		}
		return nil, err
	}
	return &meter, nil
}

func (r *MeterRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.ElectricityMeter, error) {
	var meters []*model.ElectricityMeter
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&meters).Error
	return meters, err
}

// CreditKWh 给电表充入电量（0.01 kWh 为单位）
func (r *MeterRepository) CreditKWh(ctx context.Context, tx *gorm.DB, meterNumber string, kwhCenti int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ElectricityMeter{}).
		Where("meter_number = ?", meterNumber).
		Update("kwh_balance", gorm.Expr("kwh_balance + ?", kwhCenti))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMeterNotFound
	}
	return nil
}

// DebitKWh 扣减电量（冲正履约时回收）
// kwh_balance >= ? 条件防止扣成负数，用户已用掉的电量无法回收时保持 0
func (r *MeterRepository) DebitKWh(ctx context.Context, tx *gorm.DB, meterNumber string, kwhCenti int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.ElectricityMeter{}).
		Where("meter_number = ? AND kwh_balance >= ?", meterNumber, kwhCenti).
		Update("kwh_balance", gorm.Expr("kwh_balance - ?", kwhCenti))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMeterNotFound
	}
	return nil
}
