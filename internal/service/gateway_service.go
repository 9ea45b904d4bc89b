package service

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"lokal/internal/config"
	"lokal/internal/model"
	"lokal/pkg/idgen"
)

// GatewayService 支付网关桥接
//
// 充值走"两段式"：先 ReservePending 落一条 PENDING 流水并把用户带去
// 托管支付页，网关异步回调后才 ConfirmPending 真正入账。
// 回调必须先过 MD5 口令签名校验，金额以回调里网关确认的为准
type GatewayService struct {
	ledger *LedgerService
	cfg    *config.GatewayConfig
}

func NewGatewayService(ledger *LedgerService, cfg *config.GatewayConfig) *GatewayService {
	return &GatewayService{ledger: ledger, cfg: cfg}
}

type TopupInitiation struct {
	Reference   string             `json:"reference"`
	RedirectURL string             `json:"redirect_url"`
	Transaction *model.Transaction `json:"transaction"`
}

// InitiateTopup 发起充值：预占流水并生成支付页跳转地址
func (s *GatewayService) InitiateTopup(ctx context.Context, userID, amountCents int64) (*TopupInitiation, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	reference := idgen.GeneratePaymentReference()
	trans, err := s.ledger.ReservePending(ctx, userID, amountCents, model.TransactionTypeTopup, reference)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"merchant_id":  s.cfg.MerchantID,
		"m_payment_id": reference,
		"amount":       formatRand(amountCents),
		"item_name":    "钱包充值",
	}
	params["signature"] = s.Sign(params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	query := url.Values{}
	for _, k := range keys {
		query.Set(k, params[k])
	}

	log.Printf("[Gateway] 发起充值 user=%d amount=%d reference=%s", userID, amountCents, reference)
	return &TopupInitiation{
		Reference:   reference,
		RedirectURL: s.cfg.PayBaseURL + "?" + query.Encode(),
		Transaction: trans,
	}, nil
}

// NotificationResult 回调处理结果
type NotificationResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Status      string             `json:"status"`
}

// HandleNotification 处理网关异步回调（表单参数）
//
// 处理顺序是硬性的：先验签，再查流水，再按网关状态走确认/失败。
// 验签不过的回调一律拒绝，不泄露该 reference 是否存在。
// 同一回调重放时 ConfirmPending 幂等返回当时的流水
func (s *GatewayService) HandleNotification(ctx context.Context, form url.Values) (*NotificationResult, error) {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}

	if !s.Verify(params) {
		log.Printf("[Gateway] 回调验签失败 m_payment_id=%q", params["m_payment_id"])
		return nil, ErrUnverifiedPayload
	}
	if params["merchant_id"] != s.cfg.MerchantID {
		return nil, ErrUnverifiedPayload
	}

	reference := params["m_payment_id"]
	if reference == "" {
		return nil, ErrUnverifiedPayload
	}

	switch params["payment_status"] {
	case "COMPLETE":
		amountCents, err := parseRand(params["amount_gross"])
		if err != nil || amountCents <= 0 {
			return nil, ErrInvalidAmount
		}
		trans, err := s.ledger.ConfirmPending(ctx, reference, amountCents)
		if err != nil {
			return nil, err
		}
		log.Printf("[Gateway] 充值确认入账 reference=%s amount=%d", reference, amountCents)
		return &NotificationResult{Transaction: trans, Status: trans.Status}, nil

	case "FAILED", "CANCELLED":
		trans, err := s.ledger.txRepo.GetByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		if trans == nil {
			return nil, ErrUnverifiedPayload
		}
		if trans.Status == model.TransactionStatusPending {
			if err := s.ledger.FailPending(ctx, trans.TransactionNo); err != nil {
				return nil, err
			}
			trans.Status = model.TransactionStatusFailed
		}
		log.Printf("[Gateway] 充值失败关单 reference=%s gatewayStatus=%s", reference, params["payment_status"])
		return &NotificationResult{Transaction: trans, Status: trans.Status}, nil

	default:
		// 未知状态（如 PENDING 中间态）只确认收到，不动账本
		trans, err := s.ledger.txRepo.GetByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		if trans == nil {
			return nil, ErrUnverifiedPayload
		}
		log.Printf("[Gateway] 忽略中间态回调 reference=%s gatewayStatus=%q", reference, params["payment_status"])
		return &NotificationResult{Transaction: trans, Status: trans.Status}, nil
	}
}

// Sign 计算回调签名：参数按 key 升序拼接后加口令取 MD5
// signature 字段本身不参与计算
func (s *GatewayService) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	if s.cfg.Passphrase != "" {
		sb.WriteString("&passphrase=")
		sb.WriteString(url.QueryEscape(s.cfg.Passphrase))
	}

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Verify 校验回调签名。未配置口令时拒绝一切回调
func (s *GatewayService) Verify(params map[string]string) bool {
	if s.cfg.Passphrase == "" {
		return false
	}
	got := params["signature"]
	if got == "" {
		return false
	}
	want := s.Sign(params)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// formatRand 分转两位小数字符串（网关表单金额格式）
func formatRand(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// parseRand 两位小数字符串转分
func parseRand(amount string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(100)).IntPart(), nil
}
