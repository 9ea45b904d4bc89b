package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"lokal/internal/catalog"
	"lokal/internal/infrastructure/lock"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/pkg/idgen"
)

// AgentService 代理（街边商户）销售与佣金
//
// 代理收顾客现金，从目录按套餐定价，用自己预存的浮动金垫付货款，
// 向顾客履约（发 WiFi 凭证 / 电表充电量），同时按等级费率计佣。
// 浮动金扣减与佣金入账都配流水，和钱包余额一样可对账。
// 一笔代售的全部动账在同一个数据库事务内落库，任何一步失败整单回滚
type AgentService struct {
	ledger    *LedgerService
	purchases *PurchaseService
	agentRepo *repository.AgentRepository
}

func NewAgentService(ledger *LedgerService, purchases *PurchaseService) *AgentService {
	return &AgentService{
		ledger:    ledger,
		purchases: purchases,
		agentRepo: repository.NewAgentRepository(ledger.db),
	}
}

// RegisterAgent 开通代理，初始 BRONZE 等级待审核
func (s *AgentService) RegisterAgent(ctx context.Context, userID int64, businessName string) (*model.Agent, error) {
	agent := &model.Agent{
		UserID:       userID,
		AgentCode:    idgen.GenerateAgentCode(),
		BusinessName: businessName,
		Tier:         model.AgentTierBronze,
		Status:       model.AgentStatusPending,
	}
	if err := s.agentRepo.Create(ctx, agent); err != nil {
		return nil, err
	}
	log.Printf("[Agent] 代理注册 user=%d code=%s", userID, agent.AgentCode)
	return agent, nil
}

// GetAgent 查询代理信息
func (s *AgentService) GetAgent(ctx context.Context, userID int64) (*model.Agent, error) {
	return s.agentRepo.GetByUserID(ctx, userID)
}

// TopupFloat 代理预存浮动金（线下对公打款后由运营录入）
// 浮动金变动与流水同事务落库
func (s *AgentService) TopupFloat(ctx context.Context, agentUserID, amount int64) (*model.Agent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	agent, err := s.agentRepo.GetByUserID(ctx, agentUserID)
	if err != nil {
		return nil, err
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        agentUserID,
		Type:          model.TransactionTypeFloatTopup,
		Amount:        amount,
		BalanceAfter:  agent.FloatBalance + amount,
		Reference:     idgen.GenerateTransactionNo(),
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("代理 %s 预存浮动金", agent.AgentCode),
	}

	err = s.ledger.db.Transaction(func(tx *gorm.DB) error {
		if err := s.agentRepo.IncreaseFloat(ctx, tx, agent.ID, amount); err != nil {
			return err
		}
		if err := s.ledger.txRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("记录浮动金流水失败: %w", err)
		}
		return s.ledger.appendEvent(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}
	return s.agentRepo.GetByUserID(ctx, agentUserID)
}

// SaleInput 代售请求
type SaleInput struct {
	AgentUserID   int64
	CustomerPhone string
	ProductType   string // WIFI | ELECTRICITY
	PackageID     string
	MeterNumber   string // 电力套餐必填
	CashReceived  int64  // 收取的现金（分）
	Reference     string // 幂等键，空则生成
}

type SaleResult struct {
	Transaction      *model.Transaction      `json:"transaction"`
	CustomerUserID   int64                   `json:"customer_user_id"`
	Voucher          *model.WiFiVoucher      `json:"voucher,omitempty"`
	Meter            *model.ElectricityMeter `json:"meter,omitempty"`
	CommissionAmount int64                   `json:"commission_amount"`
	ChangeDue        int64                   `json:"change_due"` // 应找零（分）
}

// Sale 代理现金代售：按目录定价，浮动金垫付，向顾客履约
//
// 顾客按手机号定位，未注册时现场开户。售价来自商品目录，调用方只报套餐。
// 动账三条腿：顾客侧销售流水（余额不动，留痕）、浮动金扣减流水、佣金流水，
// 连同凭证/电量履约在同一个数据库事务内提交，失败整单回滚。
// 幂等：reference 重放返回当时的销售流水与凭证，浮动金佣金不重复动账
func (s *AgentService) Sale(ctx context.Context, in SaleInput) (*SaleResult, error) {
	kind := strings.ToUpper(in.ProductType)
	if kind != catalog.KindWiFi && kind != catalog.KindElectricity {
		return nil, catalog.ErrProductNotFound
	}
	pkg, err := s.purchases.catalog.GetKind(in.PackageID, kind)
	if err != nil {
		return nil, err
	}
	price := pkg.PriceCents
	if in.CashReceived < price {
		return nil, ErrCashNotEnough
	}

	agent, err := s.agentRepo.GetByUserID(ctx, in.AgentUserID)
	if err != nil {
		return nil, err
	}
	if agent.Status != model.AgentStatusActive {
		return nil, ErrAgentNotActive
	}

	customer, err := s.customerByPhone(ctx, in.AgentUserID, in.CustomerPhone)
	if err != nil {
		return nil, err
	}
	if customer.UserID == in.AgentUserID {
		return nil, ErrSelfTransfer
	}

	var meter *model.ElectricityMeter
	if kind == catalog.KindElectricity {
		meter, err = s.purchases.meterRepo.GetByMeterNumber(ctx, in.MeterNumber)
		if err != nil {
			return nil, err
		}
	}

	reference := in.Reference
	if reference == "" {
		reference = idgen.GenerateTransactionNo()
	}

	release, err := lock.AcquirePair(ctx, s.ledger.locks, in.AgentUserID, customer.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 重放检测放在锁内，与正常路径的落库串行
	if existing, err := s.ledger.txRepo.GetByReference(ctx, reference); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == model.TransactionStatusCompleted {
		return s.replaySale(ctx, existing, in.CashReceived)
	}

	commission := model.CommissionFor(agent.Tier, price)

	// 顾客侧销售流水：现金代售不动顾客钱包余额，只留痕供查账
	saleType := model.TransactionTypeWiFiPurchase
	if kind == catalog.KindElectricity {
		saleType = model.TransactionTypeElectricityPurchase
	}
	sale := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        customer.UserID,
		Type:          saleType,
		Amount:        price,
		BalanceAfter:  customer.Balance,
		Reference:     reference,
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("代理 %s 代售 %s", agent.AgentCode, pkg.Name),
	}
	floatLeg := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        in.AgentUserID,
		Type:          model.TransactionTypeFloatDebit,
		Amount:        -price,
		BalanceAfter:  agent.FloatBalance - price,
		Reference:     reference + "-F",
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("代售 %s 扣减浮动金", pkg.Name),
	}
	commissionLeg := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        in.AgentUserID,
		Type:          model.TransactionTypeCommission,
		Amount:        commission,
		BalanceAfter:  agent.CommissionBalance + commission,
		Reference:     reference + "-C",
		Status:        model.TransactionStatusCompleted,
		Description:   fmt.Sprintf("代售 %s 佣金（%s）", pkg.Name, agent.Tier),
	}

	var voucher *model.WiFiVoucher
	err = s.ledger.db.Transaction(func(tx *gorm.DB) error {
		if err := s.agentRepo.DeductFloat(ctx, tx, agent.ID, price); err != nil {
			return err
		}
		if err := s.ledger.txRepo.Create(ctx, tx, sale); err != nil {
			return fmt.Errorf("记录销售流水失败: %w", err)
		}

		// 履约与动账同事务：失败则整单回滚，不存在"扣了浮动金没发货"
		if kind == catalog.KindWiFi {
			voucher, err = s.purchases.issueVoucher(ctx, tx, customer.UserID, pkg, sale.TransactionNo)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrFulfillmentFailed, err)
			}
		} else {
			if err := s.purchases.creditMeter(ctx, tx, meter, pkg); err != nil {
				return fmt.Errorf("%w: %v", ErrFulfillmentFailed, err)
			}
		}

		if err := s.agentRepo.IncreaseCommission(ctx, tx, agent.ID, commission); err != nil {
			return err
		}
		if err := s.agentRepo.CreateCommissionEntry(ctx, tx, &model.CommissionEntry{
			AgentID:          agent.ID,
			Tier:             agent.Tier,
			SaleAmount:       price,
			CommissionAmount: commission,
			TransactionNo:    sale.TransactionNo,
		}); err != nil {
			return err
		}

		if err := s.ledger.txRepo.Create(ctx, tx, floatLeg); err != nil {
			return fmt.Errorf("记录浮动金流水失败: %w", err)
		}
		if err := s.ledger.txRepo.Create(ctx, tx, commissionLeg); err != nil {
			return fmt.Errorf("记录佣金流水失败: %w", err)
		}
		if err := s.ledger.appendEvent(ctx, tx, sale); err != nil {
			return err
		}
		if err := s.ledger.appendEvent(ctx, tx, floatLeg); err != nil {
			return err
		}
		return s.ledger.appendEvent(ctx, tx, commissionLeg)
	})
	if err != nil {
		return nil, err
	}

	if meter != nil {
		if meter, err = s.purchases.meterRepo.GetByMeterNumber(ctx, meter.MeterNumber); err != nil {
			return nil, err
		}
	}

	log.Printf("[Agent] 代售成功 agent=%s customer=%d package=%s price=%d commission=%d",
		agent.AgentCode, customer.UserID, pkg.ID, price, commission)
	return &SaleResult{
		Transaction:      sale,
		CustomerUserID:   customer.UserID,
		Voucher:          voucher,
		Meter:            meter,
		CommissionAmount: commission,
		ChangeDue:        in.CashReceived - price,
	}, nil
}

// replaySale 重放请求按当时的销售流水拼装结果
func (s *AgentService) replaySale(ctx context.Context, sale *model.Transaction, cashReceived int64) (*SaleResult, error) {
	entry, err := s.agentRepo.GetCommissionEntryByTransactionNo(ctx, sale.TransactionNo)
	if err != nil {
		return nil, err
	}
	var commission int64
	if entry != nil {
		commission = entry.CommissionAmount
	}
	voucher, err := s.purchases.voucherRepo.GetByTransactionNo(ctx, sale.TransactionNo)
	if err != nil {
		return nil, err
	}
	return &SaleResult{
		Transaction:      sale,
		CustomerUserID:   sale.UserID,
		Voucher:          voucher,
		CommissionAmount: commission,
		ChangeDue:        cashReceived - sale.Amount,
	}, nil
}

// WithdrawCommission 佣金提现到代理自己的钱包
// 佣金扣减流水 + 钱包入账流水在同一个数据库事务内落库
func (s *AgentService) WithdrawCommission(ctx context.Context, agentUserID, amount int64, reference string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	agent, err := s.agentRepo.GetByUserID(ctx, agentUserID)
	if err != nil {
		return nil, err
	}
	if agent.Status != model.AgentStatusActive {
		return nil, ErrAgentNotActive
	}

	if reference == "" {
		reference = idgen.GenerateTransactionNo()
	}

	release, err := s.ledger.locks.AcquireWallet(ctx, agentUserID)
	if err != nil {
		return nil, err
	}
	defer release()

	if existing, err := s.ledger.txRepo.GetByReference(ctx, reference); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == model.TransactionStatusCompleted {
		return existing, nil
	}

	wallet, err := s.ledger.walletRepo.GetByUserID(ctx, agentUserID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != model.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	credit := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        agentUserID,
		Type:          model.TransactionTypeWithdrawal,
		Amount:        amount,
		BalanceAfter:  wallet.Balance + amount,
		Reference:     reference,
		Status:        model.TransactionStatusCompleted,
		Description:   "佣金提现入钱包",
	}
	commissionLeg := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        agentUserID,
		Type:          model.TransactionTypeCommission,
		Amount:        -amount,
		BalanceAfter:  agent.CommissionBalance - amount,
		Reference:     reference + "-C",
		Status:        model.TransactionStatusCompleted,
		Description:   "佣金提现扣减",
	}

	err = s.ledger.db.Transaction(func(tx *gorm.DB) error {
		if err := s.agentRepo.DeductCommission(ctx, tx, agent.ID, amount); err != nil {
			return err
		}
		if err := s.ledger.walletRepo.Increase(ctx, tx, agentUserID, amount); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}
		if err := s.ledger.txRepo.Create(ctx, tx, credit); err != nil {
			return fmt.Errorf("记录提现流水失败: %w", err)
		}
		if err := s.ledger.txRepo.Create(ctx, tx, commissionLeg); err != nil {
			return fmt.Errorf("记录佣金流水失败: %w", err)
		}
		if err := s.ledger.appendEvent(ctx, tx, credit); err != nil {
			return err
		}
		return s.ledger.appendEvent(ctx, tx, commissionLeg)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Agent] 佣金提现 agent=%s amount=%d", agent.AgentCode, amount)
	return credit, nil
}

// ListCommissionEntries 佣金台账
func (s *AgentService) ListCommissionEntries(ctx context.Context, agentUserID int64, limit int) ([]*model.CommissionEntry, error) {
	agent, err := s.agentRepo.GetByUserID(ctx, agentUserID)
	if err != nil {
		return nil, err
	}
	return s.agentRepo.ListCommissionEntries(ctx, agent.ID, limit)
}

// customerByPhone 按手机号定位顾客钱包，未注册时现场开户并记录代理为获客来源
func (s *AgentService) customerByPhone(ctx context.Context, agentUserID int64, phone string) (*model.Wallet, error) {
	if phone == "" {
		return nil, ErrPhoneRequired
	}

	wallet, err := s.ledger.walletRepo.GetByPhone(ctx, phone)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrWalletNotFound) {
		return nil, err
	}

	wallet, err = s.ledger.walletRepo.GetOrCreate(ctx, idgen.NextID(), phone,
		s.ledger.cfg.Currency, s.ledger.cfg.DailyLimitCents, s.ledger.cfg.MonthlyLimitCents)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.walletRepo.SetReferrer(ctx, wallet.UserID, agentUserID); err != nil {
		// 获客归属失败不影响售卖本身
		log.Printf("[Agent] 记录获客来源失败 customer=%d agent=%d: %v", wallet.UserID, agentUserID, err)
	}
	return wallet, nil
}
