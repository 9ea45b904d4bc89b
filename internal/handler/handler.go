package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"lokal/internal/catalog"
	"lokal/internal/config"
	"lokal/internal/infrastructure/lock"
	"lokal/internal/repository"
	"lokal/internal/service"
	"lokal/pkg/response"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	walletService   *service.WalletService
	purchaseService *service.PurchaseService
	gatewayService  *service.GatewayService
	agentService    *service.AgentService
	referralService *service.ReferralService
	ledger          *service.LedgerService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, locks lock.Manager, cfg *config.Config, cat *catalog.Catalog) *Handler {
	ledger := service.NewLedgerService(db, locks, cfg)
	purchases := service.NewPurchaseService(ledger, cat)
	return &Handler{
		walletService:   service.NewWalletService(ledger),
		purchaseService: purchases,
		gatewayService:  service.NewGatewayService(ledger, &cfg.Gateway),
		agentService:    service.NewAgentService(ledger, purchases),
		referralService: service.NewReferralService(ledger),
		ledger:          ledger,
	}
}

// writeError 业务错误统一映射成对外错误码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrCashNotEnough):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrPhoneRequired):
		response.ParamError(c, err.Error())
	case errors.Is(err, repository.ErrInsufficientFunds),
		errors.Is(err, repository.ErrFloatNotEnough),
		errors.Is(err, repository.ErrCommissionNotEnough):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrLimitExceeded):
		response.BusinessError(c, response.CodeLimitExceeded, err.Error())
	case errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrAgentNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrWalletSuspended),
		errors.Is(err, service.ErrAgentNotActive):
		response.BusinessError(c, response.CodeAccountSuspended, err.Error())
	case errors.Is(err, service.ErrFulfillmentFailed):
		response.BusinessError(c, response.CodeFulfillmentFailed, err.Error())
	case errors.Is(err, service.ErrAlreadyReversed):
		response.BusinessError(c, response.CodeAlreadyReversed, err.Error())
	case errors.Is(err, service.ErrSelfReferral),
		errors.Is(err, service.ErrSelfTransfer):
		response.BusinessError(c, response.CodeSelfReferral, err.Error())
	case errors.Is(err, service.ErrAlreadyReferred):
		response.BusinessError(c, response.CodeAlreadyReferred, err.Error())
	case errors.Is(err, lock.ErrLockTimeout):
		response.BusinessError(c, response.CodeLockTimeout, err.Error())
	case errors.Is(err, catalog.ErrProductNotFound):
		response.BusinessError(c, response.CodeProductNotFound, err.Error())
	case errors.Is(err, service.ErrReferralCodeNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrVoucherNotFound),
		errors.Is(err, repository.ErrMeterNotFound):
		response.BusinessError(c, response.CodeNotFound, err.Error())
	case errors.Is(err, repository.ErrStatusInvalid),
		errors.Is(err, repository.ErrVoucherStatusInvalid),
		errors.Is(err, repository.ErrVoucherDataExceeded):
		response.BusinessError(c, response.CodeStatusInvalid, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func queryUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

// ============================================================
// 钱包相关接口
// ============================================================

// GetWallet 查询钱包，带 phone 时未开户会自动开户
// GET /api/v1/wallet?user_id=xxx&phone=xxx
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.GetWallet(c.Request.Context(), userID, c.Query("phone"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, wallet)
}

// ListTransactions 流水分页查询
// GET /api/v1/wallet/transactions?user_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.walletService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"total":        total,
		"transactions": transactions,
	})
}

// TransferRequest 转账请求
type TransferRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	RecipientPhone string `json:"recipient_phone" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reference      string `json:"reference"` // 幂等关联号，缺省时服务端生成
}

// Transfer 钱包间转账
// POST /api/v1/wallet/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.walletService.Transfer(c.Request.Context(), req.UserID, req.RecipientPhone, req.Amount, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// TopupRequest 充值请求
type TopupRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Amount int64 `json:"amount" binding:"required"`
}

// InitiateTopup 发起充值，返回支付页跳转地址
// POST /api/v1/wallet/topup
func (h *Handler) InitiateTopup(c *gin.Context) {
	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	initiation, err := h.gatewayService.InitiateTopup(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, initiation)
}

// ReverseRequest 冲正请求（运营操作）
type ReverseRequest struct {
	TransactionNo string `json:"transaction_no" binding:"required"`
}

// Reverse 冲正一笔 COMPLETED 流水
// POST /api/v1/wallet/reverse
func (h *Handler) Reverse(c *gin.Context) {
	var req ReverseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	reversal, err := h.ledger.Reverse(c.Request.Context(), req.TransactionNo)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, reversal)
}

// ============================================================
// 支付网关回调
// ============================================================

// GatewayNotify 网关异步回调（表单编码）
// POST /api/v1/gateway/notify
//
// 验签失败返回 400，解析失败返回非 200 让网关重试
func (h *Handler) GatewayNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		response.ErrorWithStatus(c, 400, response.CodeParamError, "表单解析失败")
		return
	}

	result, err := h.gatewayService.HandleNotification(c.Request.Context(), c.Request.PostForm)
	if err != nil {
		if errors.Is(err, service.ErrUnverifiedPayload) {
			response.ErrorWithStatus(c, 400, response.CodeUnverifiedPayload, err.Error())
			return
		}
		if errors.Is(err, repository.ErrStatusInvalid) {
			// 已关单的迟到回调，告知网关不必再试
			response.BusinessError(c, response.CodeStatusInvalid, err.Error())
			return
		}
		response.ErrorWithStatus(c, 500, response.CodeServerError, err.Error())
		return
	}

	response.Success(c, result)
}

// ============================================================
// WiFi 套餐
// ============================================================

// ListWiFiPackages 套餐目录
// GET /api/v1/wifi/packages
func (h *Handler) ListWiFiPackages(c *gin.Context) {
	response.Success(c, h.purchaseService.WiFiPackages())
}

// PurchaseRequest 套餐购买请求
type PurchaseRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	PackageID   string `json:"package_id" binding:"required"`
	MeterNumber string `json:"meter_number"` // 仅电力套餐需要
	Reference   string `json:"reference"`
}

// PurchaseWiFi 购买 WiFi 套餐
// POST /api/v1/wifi/purchase
func (h *Handler) PurchaseWiFi(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.purchaseService.PurchaseWiFi(c.Request.Context(), req.UserID, req.PackageID, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ListVouchers 查询用户凭证
// GET /api/v1/wifi/vouchers?user_id=xxx
func (h *Handler) ListVouchers(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	vouchers, err := h.purchaseService.ListVouchers(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, vouchers)
}

// VoucherActivateRequest 凭证激活请求
type VoucherActivateRequest struct {
	VoucherCode string `json:"voucher_code" binding:"required"`
}

// ActivateVoucher 激活凭证
// POST /api/v1/wifi/voucher/activate
func (h *Handler) ActivateVoucher(c *gin.Context) {
	var req VoucherActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	voucher, err := h.purchaseService.ActivateVoucher(c.Request.Context(), req.VoucherCode)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, voucher)
}

// VoucherUsageRequest 流量上报请求
type VoucherUsageRequest struct {
	VoucherCode string `json:"voucher_code" binding:"required"`
	UsedMB      int64  `json:"used_mb" binding:"required"`
}

// RecordVoucherUsage 上报凭证流量消耗
// POST /api/v1/wifi/voucher/usage
func (h *Handler) RecordVoucherUsage(c *gin.Context) {
	var req VoucherUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	voucher, err := h.purchaseService.RecordVoucherUsage(c.Request.Context(), req.VoucherCode, req.UsedMB)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, voucher)
}

// ============================================================
// 电力套餐
// ============================================================

// ListElectricityPackages 套餐目录
// GET /api/v1/electricity/packages
func (h *Handler) ListElectricityPackages(c *gin.Context) {
	response.Success(c, h.purchaseService.ElectricityPackages())
}

// PurchaseElectricity 购买电力套餐
// POST /api/v1/electricity/purchase
func (h *Handler) PurchaseElectricity(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.MeterNumber == "" {
		response.ParamError(c, "meter_number 不能为空")
		return
	}

	result, err := h.purchaseService.PurchaseElectricity(c.Request.Context(), req.UserID, req.PackageID, req.MeterNumber, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// RegisterMeterRequest 电表绑定请求
type RegisterMeterRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	MeterNumber string `json:"meter_number" binding:"required"`
}

// RegisterMeter 绑定电表
// POST /api/v1/electricity/meter/register
func (h *Handler) RegisterMeter(c *gin.Context) {
	var req RegisterMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	meter, err := h.purchaseService.RegisterMeter(c.Request.Context(), req.UserID, req.MeterNumber)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, meter)
}

// ListMeters 查询绑定的电表
// GET /api/v1/electricity/meters?user_id=xxx
func (h *Handler) ListMeters(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	meters, err := h.purchaseService.ListMeters(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, meters)
}

// ============================================================
// 邀请奖励
// ============================================================

// ReferralApplyRequest 邀请码兑换请求
type ReferralApplyRequest struct {
	UserID       int64  `json:"user_id" binding:"required"`
	ReferralCode string `json:"referral_code" binding:"required"`
}

// ApplyReferral 兑换邀请码
// POST /api/v1/referral/apply
func (h *Handler) ApplyReferral(c *gin.Context) {
	var req ReferralApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.referralService.Apply(c.Request.Context(), req.UserID, req.ReferralCode)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 代理
// ============================================================

// AgentRegisterRequest 代理开通请求
type AgentRegisterRequest struct {
	UserID       int64  `json:"user_id" binding:"required"`
	BusinessName string `json:"business_name"`
}

// RegisterAgent 开通代理
// POST /api/v1/agent/register
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req AgentRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	agent, err := h.agentService.RegisterAgent(c.Request.Context(), req.UserID, req.BusinessName)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, agent)
}

// GetAgent 查询代理
// GET /api/v1/agent?user_id=xxx
func (h *Handler) GetAgent(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	agent, err := h.agentService.GetAgent(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, agent)
}

// FloatTopupRequest 浮动金预存请求
type FloatTopupRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Amount int64 `json:"amount" binding:"required"`
}

// TopupFloat 预存浮动金
// POST /api/v1/agent/float/topup
func (h *Handler) TopupFloat(c *gin.Context) {
	var req FloatTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	agent, err := h.agentService.TopupFloat(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, agent)
}

// AgentSaleRequest 代售请求，售价由服务端按商品目录定
type AgentSaleRequest struct {
	AgentUserID   int64  `json:"agent_user_id" binding:"required"`
	CustomerPhone string `json:"customer_phone" binding:"required"`
	ProductType   string `json:"product_type" binding:"required"` // WIFI | ELECTRICITY
	PackageID     string `json:"package_id" binding:"required"`
	MeterNumber   string `json:"meter_number"` // 电力套餐必填
	CashReceived  int64  `json:"cash_received" binding:"required"`
	Reference     string `json:"reference"`
}

// AgentSale 代理现金代售套餐
// POST /api/v1/agent/sale
func (h *Handler) AgentSale(c *gin.Context) {
	var req AgentSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.agentService.Sale(c.Request.Context(), service.SaleInput{
		AgentUserID:   req.AgentUserID,
		CustomerPhone: req.CustomerPhone,
		ProductType:   req.ProductType,
		PackageID:     req.PackageID,
		MeterNumber:   req.MeterNumber,
		CashReceived:  req.CashReceived,
		Reference:     req.Reference,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// CommissionWithdrawRequest 佣金提现请求
type CommissionWithdrawRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

// WithdrawCommission 佣金提现到钱包
// POST /api/v1/agent/commission/withdraw
func (h *Handler) WithdrawCommission(c *gin.Context) {
	var req CommissionWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.agentService.WithdrawCommission(c.Request.Context(), req.UserID, req.Amount, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

// ListCommissions 佣金台账
// GET /api/v1/agent/commissions?user_id=xxx&limit=50
func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.agentService.ListCommissionEntries(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, entries)
}
