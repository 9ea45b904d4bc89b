package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"lokal/internal/catalog"
	"lokal/internal/model"
	"lokal/internal/repository"
	"lokal/pkg/idgen"
)

// PurchaseService 套餐购买与履约调度
//
// 购买是一个两步 saga：先扣款（账本流水 COMPLETED），再履约（发凭证/充电量）。
// 履约失败时冲正扣款，保证"钱货一致"：要么钱扣了货到了，要么钱原路退回
type PurchaseService struct {
	ledger      *LedgerService
	catalog     *catalog.Catalog
	voucherRepo *repository.VoucherRepository
	meterRepo   *repository.MeterRepository
}

func NewPurchaseService(ledger *LedgerService, cat *catalog.Catalog) *PurchaseService {
	return &PurchaseService{
		ledger:      ledger,
		catalog:     cat,
		voucherRepo: repository.NewVoucherRepository(ledger.db),
		meterRepo:   repository.NewMeterRepository(ledger.db),
	}
}

// PurchaseResult 购买结果
// 余额不足时不报错，而是返回 RequiresPayment，引导客户端走支付网关充值
type PurchaseResult struct {
	Transaction     *model.Transaction      `json:"transaction,omitempty"`
	Voucher         *model.WiFiVoucher      `json:"voucher,omitempty"`
	Meter           *model.ElectricityMeter `json:"meter,omitempty"`
	RequiresPayment bool                    `json:"requires_payment"`
	ShortfallCents  int64                   `json:"shortfall_cents,omitempty"`
}

// PurchaseWiFi 购买 WiFi 套餐
//
// 幂等：reference 已有 COMPLETED 流水时直接返回当时发出的凭证，不重复扣款发码
func (s *PurchaseService) PurchaseWiFi(ctx context.Context, userID int64, packageID, reference string) (*PurchaseResult, error) {
	pkg, err := s.catalog.GetKind(packageID, catalog.KindWiFi)
	if err != nil {
		return nil, err
	}

	if reference == "" {
		reference = idgen.GenerateTransactionNo()
	}

	// 重放检测：扣款流水已存在则补查配对的凭证一并返回
	if existing, err := s.ledger.txRepo.GetByReference(ctx, reference); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == model.TransactionStatusCompleted {
		voucher, err := s.voucherRepo.GetByTransactionNo(ctx, existing.TransactionNo)
		if err != nil {
			return nil, err
		}
		return &PurchaseResult{Transaction: existing, Voucher: voucher}, nil
	}

	trans, err := s.ledger.Debit(ctx, userID, pkg.PriceCents,
		model.TransactionTypeWiFiPurchase, reference,
		fmt.Sprintf("购买 WiFi 套餐 %s", pkg.Name))
	if err != nil {
		return s.asPaymentRequired(ctx, userID, pkg.PriceCents, err)
	}

	voucher, err := s.issueVoucher(ctx, nil, userID, pkg, trans.TransactionNo)
	if err != nil {
		return nil, s.compensate(ctx, trans, err)
	}

	log.Printf("[Purchase] WiFi 套餐履约成功 user=%d package=%s voucher=%s", userID, pkg.ID, voucher.VoucherCode)
	return &PurchaseResult{Transaction: trans, Voucher: voucher}, nil
}

// PurchaseElectricity 购买电力套餐，向指定电表充入电量
func (s *PurchaseService) PurchaseElectricity(ctx context.Context, userID int64, packageID, meterNumber, reference string) (*PurchaseResult, error) {
	pkg, err := s.catalog.GetKind(packageID, catalog.KindElectricity)
	if err != nil {
		return nil, err
	}

	meter, err := s.meterRepo.GetByMeterNumber(ctx, meterNumber)
	if err != nil {
		return nil, err
	}
	if meter.UserID != userID {
		return nil, repository.ErrMeterNotFound
	}

	if reference == "" {
		reference = idgen.GenerateTransactionNo()
	}

	if existing, err := s.ledger.txRepo.GetByReference(ctx, reference); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == model.TransactionStatusCompleted {
		return &PurchaseResult{Transaction: existing, Meter: meter}, nil
	}

	trans, err := s.ledger.Debit(ctx, userID, pkg.PriceCents,
		model.TransactionTypeElectricityPurchase, reference,
		fmt.Sprintf("购买电力套餐 %s 充入电表 %s", pkg.Name, meterNumber))
	if err != nil {
		return s.asPaymentRequired(ctx, userID, pkg.PriceCents, err)
	}

	if err := s.creditMeter(ctx, nil, meter, pkg); err != nil {
		return nil, s.compensate(ctx, trans, err)
	}

	meter, err = s.meterRepo.GetByMeterNumber(ctx, meterNumber)
	if err != nil {
		return nil, err
	}

	log.Printf("[Purchase] 电力套餐履约成功 user=%d package=%s meter=%s kwh=%d", userID, pkg.ID, meterNumber, pkg.KWhCenti)
	return &PurchaseResult{Transaction: trans, Meter: meter}, nil
}

// issueVoucher 发 WiFi 凭证，自营购买与代理代售共用同一条履约路径
func (s *PurchaseService) issueVoucher(ctx context.Context, tx *gorm.DB, userID int64, pkg *catalog.Product, transactionNo string) (*model.WiFiVoucher, error) {
	voucher := &model.WiFiVoucher{
		UserID:        userID,
		PackageID:     pkg.ID,
		VoucherCode:   idgen.GenerateVoucherCode(),
		Status:        model.VoucherStatusUnused,
		DataLimitMB:   pkg.DataLimitMB,
		ValidityHours: pkg.ValidityHours,
		TransactionNo: transactionNo,
	}
	if err := s.voucherRepo.Create(ctx, tx, voucher); err != nil {
		return nil, err
	}
	return voucher, nil
}

// creditMeter 向电表充入套餐电量
func (s *PurchaseService) creditMeter(ctx context.Context, tx *gorm.DB, meter *model.ElectricityMeter, pkg *catalog.Product) error {
	// 离线电表无法下发充值指令，视为履约失败
	if meter.Status == model.MeterStatusOffline {
		return errors.New("电表离线")
	}
	return s.meterRepo.CreditKWh(ctx, tx, meter.MeterNumber, pkg.KWhCenti)
}

// compensate 履约失败后的补偿：冲正扣款流水
// 冲正本身失败属于严重故障，只能留给对账任务兜底
func (s *PurchaseService) compensate(ctx context.Context, trans *model.Transaction, cause error) error {
	log.Printf("[Purchase] 履约失败，冲正扣款 transactionNo=%s cause=%v", trans.TransactionNo, cause)
	if _, err := s.ledger.Reverse(ctx, trans.TransactionNo); err != nil {
		log.Printf("[Purchase] 冲正失败，需人工对账 transactionNo=%s err=%v", trans.TransactionNo, err)
		return fmt.Errorf("%w: 冲正失败 %v", ErrFulfillmentFailed, err)
	}
	return ErrFulfillmentFailed
}

// asPaymentRequired 扣款余额不足时转为"需外部支付"结果，其余错误原样返回
func (s *PurchaseService) asPaymentRequired(ctx context.Context, userID, priceCents int64, err error) (*PurchaseResult, error) {
	if !errors.Is(err, repository.ErrInsufficientFunds) {
		return nil, err
	}
	wallet, werr := s.ledger.walletRepo.GetByUserID(ctx, userID)
	if werr != nil {
		return nil, err
	}
	return &PurchaseResult{
		RequiresPayment: true,
		ShortfallCents:  priceCents - wallet.Balance,
	}, nil
}

// ActivateVoucher 凭证首次使用时激活，开始计算有效期
func (s *PurchaseService) ActivateVoucher(ctx context.Context, voucherCode string) (*model.WiFiVoucher, error) {
	return s.voucherRepo.Activate(ctx, voucherCode, time.Now())
}

// RecordVoucherUsage 上报流量消耗，用尽时凭证转 DEPLETED
func (s *PurchaseService) RecordVoucherUsage(ctx context.Context, voucherCode string, usedMB int64) (*model.WiFiVoucher, error) {
	if usedMB <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.voucherRepo.AddUsage(ctx, voucherCode, usedMB)
}

// ListVouchers 查询用户的凭证
func (s *PurchaseService) ListVouchers(ctx context.Context, userID int64) ([]*model.WiFiVoucher, error) {
	return s.voucherRepo.ListByUserID(ctx, userID)
}

// RegisterMeter 绑定电表到用户
func (s *PurchaseService) RegisterMeter(ctx context.Context, userID int64, meterNumber string) (*model.ElectricityMeter, error) {
	meter := &model.ElectricityMeter{
		MeterNumber: meterNumber,
		UserID:      userID,
		Status:      model.MeterStatusOn,
	}
	if err := s.meterRepo.Create(ctx, meter); err != nil {
		return nil, err
	}
	return meter, nil
}

// ListMeters 查询用户绑定的电表
func (s *PurchaseService) ListMeters(ctx context.Context, userID int64) ([]*model.ElectricityMeter, error) {
	return s.meterRepo.ListByUserID(ctx, userID)
}

// WiFiPackages 商品目录：WiFi 套餐
func (s *PurchaseService) WiFiPackages() []*catalog.Product {
	return s.catalog.WiFiPackages()
}

// ElectricityPackages 商品目录：电力套餐
func (s *PurchaseService) ElectricityPackages() []*catalog.Product {
	return s.catalog.ElectricityPackages()
}
