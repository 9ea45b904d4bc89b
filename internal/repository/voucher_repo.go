package repository

import (
	"context"
	"errors"
	"time"

	"lokal/internal/model"

	"gorm.io/gorm"
)

var (
	ErrVoucherNotFound      = errors.New("凭证不存在")
	ErrVoucherStatusInvalid = errors.New("凭证状态不允许该操作")
	ErrVoucherDataExceeded  = errors.New("凭证流量已用尽")
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) Create(ctx context.Context, tx *gorm.DB, voucher *model.WiFiVoucher) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(voucher).Error
}

func (r *VoucherRepository) GetByCode(ctx context.Context, voucherCode string) (*model.WiFiVoucher, error) {
	var voucher model.WiFiVoucher
	err := r.db.WithContext(ctx).Where("voucher_code = ?", voucherCode).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

func (r *VoucherRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.WiFiVoucher, error) {
	var voucher model.WiFiVoucher
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &voucher, nil
}

func (r *VoucherRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.WiFiVoucher, error) {
	var vouchers []*model.WiFiVoucher
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&vouchers).Error
	return vouchers, err
}

// Activate 激活凭证：UNUSED -> ACTIVE，同时起算有效期
// WHERE status = UNUSED 守卫保证重复激活不会刷新有效期
func (r *VoucherRepository) Activate(ctx context.Context, voucherCode string, now time.Time) (*model.WiFiVoucher, error) {
	voucher, err := r.GetByCode(ctx, voucherCode)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(time.Duration(voucher.ValidityHours) * time.Hour)

	result := r.db.WithContext(ctx).
		Model(&model.WiFiVoucher{}).
		Where("voucher_code = ? AND status = ?", voucherCode, model.VoucherStatusUnused).
		Updates(map[string]interface{}{
			"status":       model.VoucherStatusActive,
			"activated_at": now,
			"expires_at":   expiresAt,
		})

	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrVoucherStatusInvalid
	}

	return r.GetByCode(ctx, voucherCode)
}

// AddUsage 累计流量消耗，data_used_mb 不允许超过 data_limit_mb
// 用满即置 DEPLETED（终态，不再回头）
func (r *VoucherRepository) AddUsage(ctx context.Context, voucherCode string, usedMB int64) (*model.WiFiVoucher, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WiFiVoucher{}).
		Where("voucher_code = ? AND status = ? AND data_used_mb + ? <= data_limit_mb",
			voucherCode, model.VoucherStatusActive, usedMB).
		Update("data_used_mb", gorm.Expr("data_used_mb + ?", usedMB))

	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		voucher, err := r.GetByCode(ctx, voucherCode)
		if err != nil {
			return nil, err
		}
		if voucher.Status != model.VoucherStatusActive {
			return nil, ErrVoucherStatusInvalid
		}
		return nil, ErrVoucherDataExceeded
	}

	voucher, err := r.GetByCode(ctx, voucherCode)
	if err != nil {
		return nil, err
	}

	if voucher.DataUsedMB >= voucher.DataLimitMB {
		err = r.db.WithContext(ctx).
			Model(&model.WiFiVoucher{}).
			Where("voucher_code = ? AND status = ?", voucherCode, model.VoucherStatusActive).
			Update("status", model.VoucherStatusDepleted).Error
		if err != nil {
			return nil, err
		}
		voucher.Status = model.VoucherStatusDepleted
	}

	return voucher, nil
}

// GetExpired 查询有效期已过但仍为 ACTIVE 的凭证（过期清扫任务用）
func (r *VoucherRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.WiFiVoucher, error) {
	var vouchers []*model.WiFiVoucher
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", model.VoucherStatusActive, now).
		Limit(limit).
		Find(&vouchers).Error
	return vouchers, err
}

// MarkExpired 按状态机置 EXPIRED
func (r *VoucherRepository) MarkExpired(ctx context.Context, voucherCode, fromStatus string) error {
	if !model.VoucherCanTransitionTo(fromStatus, model.VoucherStatusExpired) {
		return ErrVoucherStatusInvalid
	}

	result := r.db.WithContext(ctx).
		Model(&model.WiFiVoucher{}).
		Where("voucher_code = ? AND status = ?", voucherCode, fromStatus).
		Update("status", model.VoucherStatusExpired)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVoucherStatusInvalid
	}
	return nil
}
