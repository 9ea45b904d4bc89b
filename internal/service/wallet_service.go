package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lokal/internal/infrastructure/lock"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/pkg/idgen"
)

// WalletService 钱包查询与转账
// 只读操作不取钱包锁，可任意并发；转账走账本引擎的双钱包流程
type WalletService struct {
	ledger *LedgerService
}

func NewWalletService(ledger *LedgerService) *WalletService {
	return &WalletService{ledger: ledger}
}

// GetWallet 查询钱包，不存在时按默认限额开户
// 读取时惰性重置过期的日/月消费计数窗口
func (s *WalletService) GetWallet(ctx context.Context, userID int64, phone string) (*model.Wallet, error) {
	// 开户要占 phone 唯一索引，空手机号会撞库
	if wallet, err := s.ledger.walletRepo.GetByUserID(ctx, userID); err == nil {
		if err := s.ledger.walletRepo.ResetSpendWindows(ctx, wallet, time.Now()); err != nil {
			return nil, err
		}
		return wallet, nil
	} else if !errors.Is(err, repository.ErrWalletNotFound) {
		return nil, err
	}
	if phone == "" {
		return nil, ErrPhoneRequired
	}

	wallet, err := s.ledger.walletRepo.GetOrCreate(ctx, userID, phone,
		s.ledger.cfg.Currency, s.ledger.cfg.DailyLimitCents, s.ledger.cfg.MonthlyLimitCents)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.walletRepo.ResetSpendWindows(ctx, wallet, time.Now()); err != nil {
		return nil, err
	}

	return wallet, nil
}

// ListTransactions 按时间倒序分页查询流水
func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.ledger.txRepo.ListByUserID(ctx, userID, page, pageSize)
}

type TransferResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Recipient   string             `json:"recipient"`
	NewBalance  int64              `json:"new_balance"`
}

// Transfer 钱包间转账
//
// 双钱包操作：按 userID 升序取两把锁（防死锁），
// 出账入账两条流水共用同一关联号（收款方加 -R 后缀），重放天然幂等。
// 入账失败时冲正出账，绝不出现"扣了款没到账"
func (s *WalletService) Transfer(ctx context.Context, userID int64, recipientPhone string, amount int64, reference string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	recipient, err := s.ledger.walletRepo.GetByPhone(ctx, recipientPhone)
	if err != nil {
		return nil, err
	}
	if recipient.UserID == userID {
		return nil, ErrSelfTransfer
	}

	if reference == "" {
		reference = idgen.GenerateTransactionNo()
	}

	release, err := lock.AcquirePair(ctx, s.ledger.locks, userID, recipient.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	debit, err := s.ledger.debitLocked(ctx, userID, amount,
		model.TransactionTypeTransfer, reference,
		fmt.Sprintf("转账给 %s", recipientPhone), true)
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.creditLocked(ctx, recipient.UserID, amount,
		model.TransactionTypeTransfer, reference+"-R",
		fmt.Sprintf("来自用户 %d 的转账", userID))
	if err != nil {
		// 入账失败，冲正出账后把原始错误抛给调用方
		if _, revErr := s.ledger.reverseLocked(ctx, debit.TransactionNo); revErr != nil {
			return nil, fmt.Errorf("转账入账失败且冲正失败，需人工对账: %v (原错误: %w)", revErr, err)
		}
		return nil, err
	}

	return &TransferResult{
		Transaction: debit,
		Recipient:   recipientPhone,
		NewBalance:  debit.BalanceAfter,
	}, nil
}

// GetTransaction 按流水号查询
func (s *WalletService) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return s.ledger.txRepo.GetByTransactionNo(ctx, transactionNo)
}
