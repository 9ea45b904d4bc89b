package service

import "errors"

// 账本层业务错误
// 全部以哨兵错误返回给调用方，HTTP 层统一映射为稳定错误码，绝不吞掉
var (
	ErrInvalidAmount        = errors.New("金额必须大于0")
	ErrWalletSuspended      = errors.New("钱包已冻结")
	ErrAlreadyReversed      = errors.New("流水已冲正，请勿重复操作")
	ErrFulfillmentFailed    = errors.New("履约失败，已退款")
	ErrSelfReferral         = errors.New("不能使用自己的邀请码")
	ErrSelfTransfer         = errors.New("不能转账给自己")
	ErrAlreadyReferred      = errors.New("已兑换过邀请码")
	ErrUnverifiedPayload    = errors.New("回调签名校验失败")
	ErrCashNotEnough        = errors.New("收取的现金不足")
	ErrAgentNotActive       = errors.New("代理状态不可用")
	ErrReferralCodeNotFound = errors.New("邀请码不存在")
	ErrPhoneRequired        = errors.New("手机号不能为空")
)
