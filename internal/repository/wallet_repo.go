package repository

import (
	"context"
	"errors"
	"time"

	"lokal/internal/model"
	"lokal/pkg/idgen"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound    = errors.New("钱包不存在")
	ErrInsufficientFunds = errors.New("余额不足")
	ErrLimitExceeded     = errors.New("超出消费限额")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByPhone(ctx context.Context, phone string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) GetByReferralCode(ctx context.Context, code string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate 获取钱包，不存在时按默认限额创建
// 注册即开钱包，钱包记录从不硬删除
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64, phone, currency string, dailyLimit, monthlyLimit int64) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	now := time.Now()
	newWallet := &model.Wallet{
		UserID:           userID,
		Phone:            phone,
		Currency:         currency,
		Status:           model.WalletStatusActive,
		DailyLimit:       dailyLimit,
		MonthlyLimit:     monthlyLimit,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		ReferralCode:     idgen.GenerateReferralCode(),
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Deduct 扣减余额
//
// 【关键点】条件 UPDATE 一步完成"检查 + 扣减"：
//   balance >= amount           —— 余额永不为负的兜底
//   daily/monthly 限额条件      —— 消费限额在扣款前强制
//   version 匹配                —— 乐观锁，防御锁外的意外写入
//
// countLimits=false 时跳过限额检查与计数（冲正回补、佣金提现不占消费额度）
func (r *WalletRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int, countLimits bool) error {
	if tx == nil {
		tx = r.db
	}

	query := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version)

	updates := map[string]interface{}{
		"balance": gorm.Expr("balance - ?", amount),
		"version": gorm.Expr("version + 1"),
	}

	if countLimits {
		query = query.
			Where("daily_spent + ? <= daily_limit", amount).
			Where("monthly_spent + ? <= monthly_limit", amount)
		updates["daily_spent"] = gorm.Expr("daily_spent + ?", amount)
		updates["monthly_spent"] = gorm.Expr("monthly_spent + ?", amount)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 条件没满足，在同一事务句柄上重读一次区分原因
		// 不能走 r.db：调用方可能持有未提交事务，新连接会读到旧值甚至互相等待
		var wallet model.Wallet
		if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientFunds
		}
		if countLimits && (wallet.DailySpent+amount > wallet.DailyLimit || wallet.MonthlySpent+amount > wallet.MonthlyLimit) {
			return ErrLimitExceeded
		}
		return ErrOptimisticLock
	}

	return nil
}

// Increase 增加余额
func (r *WalletRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}

	return nil
}

// RestoreSpendAllowance 冲正出账时回退限额计数
// 窗口可能在扣款后被重置过，计数不减成负数
func (r *WalletRepository) RestoreSpendAllowance(ctx context.Context, tx *gorm.DB, userID, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	return tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"daily_spent":   gorm.Expr("CASE WHEN daily_spent >= ? THEN daily_spent - ? ELSE 0 END", amount, amount),
			"monthly_spent": gorm.Expr("CASE WHEN monthly_spent >= ? THEN monthly_spent - ? ELSE 0 END", amount, amount),
		}).Error
}

// ResetSpendWindows 惰性重置日/月消费计数
// 钱包读取和扣款前调用，窗口已过期才真正写库
func (r *WalletRepository) ResetSpendWindows(ctx context.Context, wallet *model.Wallet, now time.Time) error {
	updates := map[string]interface{}{}

	if wallet.NeedsDailyReset(now) {
		updates["daily_spent"] = 0
		updates["last_daily_reset"] = now
		wallet.DailySpent = 0
		wallet.LastDailyReset = now
	}
	if wallet.NeedsMonthlyReset(now) {
		updates["monthly_spent"] = 0
		updates["last_monthly_reset"] = now
		wallet.MonthlySpent = 0
		wallet.LastMonthlyReset = now
	}

	if len(updates) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", wallet.UserID).
		Updates(updates).Error
}

// MarkReferralRedeemed 标记邀请码已兑换（一次性）
// referral_redeemed = false 的条件保证并发兑换只有一个成功
func (r *WalletRepository) MarkReferralRedeemed(ctx context.Context, tx *gorm.DB, userID, referrerID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND referral_redeemed = ?", userID, false).
		Updates(map[string]interface{}{
			"referral_redeemed": true,
			"referred_by":       referrerID,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetReferrer 记录获客来源，仅在尚无邀请关系时写入
// 不占用一次性兑换资格，后续用户仍可正常兑换邀请码
func (r *WalletRepository) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND referred_by = 0 AND referral_redeemed = ?", userID, false).
		Update("referred_by", referrerID).Error
}
