package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"lokal/internal/infrastructure/lock"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/pkg/idgen"
)

// ReferralService 邀请奖励
//
// 每个钱包开户时分配唯一邀请码，新用户兑换一次他人邀请码后双方各得一份奖励。
// "只能兑换一次"由钱包行上的 referral_redeemed 条件 UPDATE 保证。
// 标记与双边入账在同一个数据库事务内落库：任何一边发不出去就整单回滚，
// 兑换资格不会被白白烧掉
type ReferralService struct {
	ledger *LedgerService
}

func NewReferralService(ledger *LedgerService) *ReferralService {
	return &ReferralService{ledger: ledger}
}

type ReferralResult struct {
	BonusCents     int64              `json:"bonus_cents"`
	ReferrerUserID int64              `json:"referrer_user_id"`
	Transaction    *model.Transaction `json:"transaction"`
}

// Apply 兑换邀请码，双边入账
func (s *ReferralService) Apply(ctx context.Context, userID int64, referralCode string) (*ReferralResult, error) {
	referrer, err := s.ledger.walletRepo.GetByReferralCode(ctx, referralCode)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}
	if referrer.UserID == userID {
		return nil, ErrSelfReferral
	}

	release, err := lock.AcquirePair(ctx, s.ledger.locks, userID, referrer.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 奖励入账的关联号由双方 userID 拼出，重放直接返回当时的流水
	bonus := s.ledger.cfg.ReferralBonusCents
	reference := fmt.Sprintf("REF-%d-%d", userID, referrer.UserID)
	if existing, err := s.ledger.replayByReference(ctx, reference); existing != nil || err != nil {
		if existing != nil {
			return &ReferralResult{BonusCents: bonus, ReferrerUserID: referrer.UserID, Transaction: existing}, nil
		}
		return nil, err
	}

	// 锁内重读双方钱包，状态不对在动账前就拒绝
	wallet, err := s.ledger.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.ReferralRedeemed {
		return nil, ErrAlreadyReferred
	}
	if wallet.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}
	referrer, err = s.ledger.walletRepo.GetByUserID(ctx, referrer.UserID)
	if err != nil {
		return nil, err
	}
	if referrer.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	transUser := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Type:          model.TransactionTypeReferralBonus,
		Amount:        bonus,
		BalanceAfter:  wallet.Balance + bonus,
		Reference:     reference,
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("兑换邀请码 %s 的奖励", referralCode),
	}
	transReferrer := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        referrer.UserID,
		Type:          model.TransactionTypeReferralBonus,
		Amount:        bonus,
		BalanceAfter:  referrer.Balance + bonus,
		Reference:     reference + "-R",
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("邀请用户 %d 的奖励", userID),
	}

	err = s.ledger.db.Transaction(func(tx *gorm.DB) error {
		// 条件 UPDATE 抢占"已兑换"标记：并发重复请求只有一个能改到行
		redeemedNow, err := s.ledger.walletRepo.MarkReferralRedeemed(ctx, tx, userID, referrer.UserID)
		if err != nil {
			return err
		}
		if !redeemedNow {
			return ErrAlreadyReferred
		}

		if err := s.ledger.walletRepo.Increase(ctx, tx, userID, bonus); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
		if err := s.ledger.txRepo.Create(ctx, tx, transUser); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}
		if err := s.ledger.walletRepo.Increase(ctx, tx, referrer.UserID, bonus); err != nil {
			return fmt.Errorf("邀请人入账失败: %w", err)
		}
		if err := s.ledger.txRepo.Create(ctx, tx, transReferrer); err != nil {
			return fmt.Errorf("记录邀请人流水失败: %w", err)
		}
		if err := s.ledger.appendEvent(ctx, tx, transUser); err != nil {
			return err
		}
		return s.ledger.appendEvent(ctx, tx, transReferrer)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Referral] 邀请奖励发放 user=%d referrer=%d bonus=%d", userID, referrer.UserID, bonus)
	return &ReferralResult{
		BonusCents:     bonus,
		ReferrerUserID: referrer.UserID,
		Transaction:    transUser,
	}, nil
}
