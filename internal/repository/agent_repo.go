package repository

import (
	"context"
	"errors"

	"lokal/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAgentNotFound        = errors.New("代理不存在")
	ErrFloatNotEnough       = errors.New("浮动金余额不足")
	ErrCommissionNotEnough  = errors.New("佣金余额不足")
)

type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

func (r *AgentRepository) Create(ctx context.Context, agent *model.Agent) error {
	return r.db.WithContext(ctx).Create(agent).Error
}

func (r *AgentRepository) GetByUserID(ctx context.Context, userID int64) (*model.Agent, error) {
	var agent model.Agent
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

// DeductFloat 扣减浮动金，float_balance >= amount 条件保证不透支
func (r *AgentRepository) DeductFloat(ctx context.Context, tx *gorm.DB, agentID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ? AND float_balance >= ?", agentID, amount).
		Updates(map[string]interface{}{
			"float_balance": gorm.Expr("float_balance - ?", amount),
			"total_sales":   gorm.Expr("total_sales + ?", amount),
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		agent := &model.Agent{}
		if err := tx.WithContext(ctx).Where("id = ?", agentID).First(agent).Error; err != nil {
			return ErrAgentNotFound
		}
		return ErrFloatNotEnough
	}
	return nil
}

// RefundFloat 回补浮动金（佣金入账失败时冲正第一步）
func (r *AgentRepository) RefundFloat(ctx context.Context, tx *gorm.DB, agentID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]interface{}{
			"float_balance": gorm.Expr("float_balance + ?", amount),
			"total_sales":   gorm.Expr("total_sales - ?", amount),
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// IncreaseFloat 浮动金充值
func (r *AgentRepository) IncreaseFloat(ctx context.Context, tx *gorm.DB, agentID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]interface{}{
			"float_balance": gorm.Expr("float_balance + ?", amount),
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// IncreaseCommission 佣金入账
func (r *AgentRepository) IncreaseCommission(ctx context.Context, tx *gorm.DB, agentID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]interface{}{
			"commission_balance": gorm.Expr("commission_balance + ?", amount),
			"version":            gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// DeductCommission 扣减佣金余额（提现到钱包）
func (r *AgentRepository) DeductCommission(ctx context.Context, tx *gorm.DB, agentID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Agent{}).
		Where("id = ? AND commission_balance >= ?", agentID, amount).
		Updates(map[string]interface{}{
			"commission_balance": gorm.Expr("commission_balance - ?", amount),
			"version":            gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCommissionNotEnough
	}
	return nil
}

func (r *AgentRepository) CreateCommissionEntry(ctx context.Context, tx *gorm.DB, entry *model.CommissionEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetCommissionEntryByTransactionNo 佣金台账与销售流水一一对应
func (r *AgentRepository) GetCommissionEntryByTransactionNo(ctx context.Context, transactionNo string) (*model.CommissionEntry, error) {
	var entry model.CommissionEntry
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *AgentRepository) ListCommissionEntries(ctx context.Context, agentID int64, limit int) ([]*model.CommissionEntry, error) {
	var entries []*model.CommissionEntry
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
