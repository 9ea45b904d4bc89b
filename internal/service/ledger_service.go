package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lokal/internal/config"
	"lokal/internal/infrastructure/lock"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/pkg/idgen"

	"gorm.io/gorm"
)

// LedgerService 账本引擎
//
// 所有余额变更的唯一入口。每个操作都是"单钱包原子单元"：
//
//	获取钱包锁 -> 锁内二次幂等检查 -> 数据库事务（改余额 + 记流水 + 发件箱）
//
// 【关键点】
// 1. 幂等性：reference 上的唯一索引 + 先查后写，重放请求返回已有流水
// 2. 原子性：余额、流水、事件在同一个数据库事务内落库
// 3. 并发安全：同一钱包的读-判-写序列由钱包锁串行化
type LedgerService struct {
	db         *gorm.DB
	locks      lock.Manager
	cfg        *config.BusinessConfig
	topics     *config.KafkaTopicConfig
	walletRepo *repository.WalletRepository
	txRepo     *repository.TransactionRepository
	outboxRepo *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, locks lock.Manager, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:         db,
		locks:      locks,
		cfg:        &cfg.Business,
		topics:     &cfg.Kafka.Topic,
		walletRepo: repository.NewWalletRepository(db),
		txRepo:     repository.NewTransactionRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// Credit 入账
// 幂等：同一 reference 已有 COMPLETED 流水时直接返回该流水（网关重试防双倍入账）
func (s *LedgerService) Credit(ctx context.Context, userID, amount int64, txType, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if existing, err := s.replayByReference(ctx, reference); existing != nil || err != nil {
		return existing, err
	}

	release, err := s.locks.AcquireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.creditLocked(ctx, userID, amount, txType, reference, description)
}

// creditLocked 在已持有钱包锁的前提下入账（双钱包流程复用）
func (s *LedgerService) creditLocked(ctx context.Context, userID, amount int64, txType, reference, description string) (*model.Transaction, error) {
	// 获取锁后再查一次幂等，堵住"检查-抢锁"窗口内的并发重放
	if existing, err := s.replayByReference(ctx, reference); existing != nil || err != nil {
		return existing, err
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		BalanceAfter:  wallet.Balance + amount,
		Reference:     reference,
		Status:        model.TransactionStatusCompleted,
		Description:   description,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.Increase(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
		if err := s.txRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		return s.appendEvent(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}

	return trans, nil
}

// Debit 出账
// 余额不足返回 ErrInsufficientFunds，超限额返回 ErrLimitExceeded，
// 并发出账由钱包锁串行化，两笔同时扣款绝不会都以同一份余额通过检查
func (s *LedgerService) Debit(ctx context.Context, userID, amount int64, txType, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if existing, err := s.replayByReference(ctx, reference); existing != nil || err != nil {
		return existing, err
	}

	release, err := s.locks.AcquireWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.debitLocked(ctx, userID, amount, txType, reference, description, true)
}

// debitLocked 在已持有钱包锁的前提下出账
// countLimits=false 时不占消费限额（冲正回收入账的反向扣款）
func (s *LedgerService) debitLocked(ctx context.Context, userID, amount int64, txType, reference, description string, countLimits bool) (*model.Transaction, error) {
	if existing, err := s.replayByReference(ctx, reference); existing != nil || err != nil {
		return existing, err
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	// 消费计数窗口过期则先重置，再做限额判断
	if countLimits {
		if err := s.walletRepo.ResetSpendWindows(ctx, wallet, time.Now()); err != nil {
			return nil, fmt.Errorf("重置消费窗口失败: %w", err)
		}
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          txType,
		Amount:        -amount,
		BalanceAfter:  wallet.Balance - amount,
		Reference:     reference,
		Status:        model.TransactionStatusCompleted,
		Description:   description,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.Deduct(ctx, tx, userID, amount, wallet.Version, countLimits); err != nil {
			return err
		}
		if err := s.txRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		return s.appendEvent(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}

	return trans, nil
}

// ReservePending 预留一笔待确认的入账（充值等待外部支付确认）
// 不动余额，只落一条 PENDING 流水占住 reference
func (s *LedgerService) ReservePending(ctx context.Context, userID, amount int64, txType, reference string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if existing, err := s.txRepo.GetByReference(ctx, reference); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		BalanceAfter:  wallet.Balance, // 余额未动，快照保持原值，确认时更新
		Reference:     reference,
		Status:        model.TransactionStatusPending,
	}

	if err := s.txRepo.Create(ctx, nil, trans); err != nil {
		return nil, fmt.Errorf("创建待确认流水失败: %w", err)
	}

	return trans, nil
}

// ConfirmPending 确认待入账流水：PENDING -> COMPLETED 并实际入账
//
// 【关键点】这里是支付回调的幂等边界：
// 同一 reference 已 COMPLETED 时直接返回该流水，余额不再变动。
// 回调乱序、重复到达都靠这一个机制兜住，不依赖任何顺序假设
func (s *LedgerService) ConfirmPending(ctx context.Context, reference string, confirmedAmount int64) (*model.Transaction, error) {
	if confirmedAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	trans, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if trans == nil {
		return nil, repository.ErrTransactionNotFound
	}
	if trans.Status == model.TransactionStatusCompleted {
		return trans, nil
	}
	if trans.Status != model.TransactionStatusPending {
		return nil, repository.ErrStatusInvalid
	}

	release, err := s.locks.AcquireWallet(ctx, trans.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 锁内重读，并发回调只有一个能看到 PENDING
	trans, err = s.txRepo.GetByTransactionNo(ctx, trans.TransactionNo)
	if err != nil {
		return nil, err
	}
	if trans.Status == model.TransactionStatusCompleted {
		return trans, nil
	}
	if trans.Status != model.TransactionStatusPending {
		return nil, repository.ErrStatusInvalid
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, trans.UserID)
	if err != nil {
		return nil, err
	}

	balanceAfter := wallet.Balance + confirmedAmount

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.Increase(ctx, tx, trans.UserID, confirmedAmount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
		// WHERE status = PENDING 守卫，同一笔确认只生效一次
		if err := s.txRepo.Complete(ctx, tx, trans.TransactionNo, confirmedAmount, balanceAfter); err != nil {
			return err
		}
		trans.Status = model.TransactionStatusCompleted
		trans.Amount = confirmedAmount
		trans.BalanceAfter = balanceAfter
		return s.appendEvent(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}

	return trans, nil
}

// Reverse 冲正一笔已完成流水
// 新增一条反向补偿流水并把原流水置 REVERSED，绝不改写原流水的金额。
// 已冲正的流水再次调用返回 ErrAlreadyReversed，余额不动
func (s *LedgerService) Reverse(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	trans, err := s.txRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if trans.Status == model.TransactionStatusReversed {
		return nil, ErrAlreadyReversed
	}
	if trans.Status != model.TransactionStatusCompleted {
		return nil, repository.ErrStatusInvalid
	}

	release, err := s.locks.AcquireWallet(ctx, trans.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.reverseLocked(ctx, transactionNo)
}

func (s *LedgerService) reverseLocked(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	trans, err := s.txRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if trans.Status == model.TransactionStatusReversed {
		return nil, ErrAlreadyReversed
	}
	if trans.Status != model.TransactionStatusCompleted {
		return nil, repository.ErrStatusInvalid
	}

	wallet, err := s.walletRepo.GetByUserID(ctx, trans.UserID)
	if err != nil {
		return nil, err
	}

	reversal := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        trans.UserID,
		Type:          trans.Type,
		Amount:        -trans.Amount,
		BalanceAfter:  wallet.Balance - trans.Amount,
		Reference:     trans.Reference + "-REV",
		Status:        model.TransactionStatusCompleted,
		ReversalOf:    trans.TransactionNo,
		Description:   fmt.Sprintf("冲正 %s", trans.TransactionNo),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if trans.Amount < 0 {
			// 原流水是出账，补偿即回补余额
			if err := s.walletRepo.Increase(ctx, tx, trans.UserID, -trans.Amount); err != nil {
				return fmt.Errorf("回补余额失败: %w", err)
			}
			// 出账时占掉的消费限额一并退回（冲正流水本身不占限额，不参与回退）
			if trans.ReversalOf == "" {
				if err := s.walletRepo.RestoreSpendAllowance(ctx, tx, trans.UserID, -trans.Amount); err != nil {
					return fmt.Errorf("回退限额计数失败: %w", err)
				}
			}
		} else {
			// 原流水是入账，补偿要扣回，余额不够时冲正失败
			if err := s.walletRepo.Deduct(ctx, tx, trans.UserID, trans.Amount, wallet.Version, false); err != nil {
				return err
			}
		}

		if err := s.txRepo.UpdateStatus(ctx, tx, trans.TransactionNo, model.TransactionStatusCompleted, model.TransactionStatusReversed); err != nil {
			return err
		}
		if err := s.txRepo.Create(ctx, tx, reversal); err != nil {
			return fmt.Errorf("记录冲正流水失败: %w", err)
		}
		return s.appendEvent(ctx, tx, reversal)
	})
	if err != nil {
		return nil, err
	}

	return reversal, nil
}

// FailPending 将超时未确认的 PENDING 流水置为 FAILED（老化任务用）
func (s *LedgerService) FailPending(ctx context.Context, transactionNo string) error {
	return s.txRepo.UpdateStatus(ctx, nil, transactionNo, model.TransactionStatusPending, model.TransactionStatusFailed)
}

// replayByReference 幂等重放检查
// reference 已有 COMPLETED 流水 -> 返回该流水（对调用方等价于本次成功）
// reference 被 PENDING/FAILED 占用 -> 状态不允许，属调用方用错了关联号
func (s *LedgerService) replayByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	existing, err := s.txRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.Status == model.TransactionStatusCompleted {
		return existing, nil
	}
	return nil, repository.ErrStatusInvalid
}

// appendEvent 流水事件进发件箱，与流水同事务落库
func (s *LedgerService) appendEvent(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"transaction_no": trans.TransactionNo,
		"user_id":        trans.UserID,
		"type":           trans.Type,
		"amount":         trans.Amount,
		"balance_after":  trans.BalanceAfter,
		"reference":      trans.Reference,
		"status":         trans.Status,
		"created_at":     time.Now().Format(time.RFC3339),
	})

	msg := &model.OutboxMessage{
		MessageKey: trans.TransactionNo,
		Topic:      s.topics.TransactionEvent,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}
