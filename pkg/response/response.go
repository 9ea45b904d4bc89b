package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码，对外保持稳定，前端按码分支
const (
	CodeInvalidAmount     = 1001 // INVALID_AMOUNT
	CodeInsufficientFunds = 1002 // INSUFFICIENT_FUNDS
	CodeLimitExceeded     = 1003 // LIMIT_EXCEEDED
	CodeAccountNotFound   = 1004 // ACCOUNT_NOT_FOUND
	CodeAccountSuspended  = 1005 // ACCOUNT_SUSPENDED
	CodeDuplicateRequest  = 1006 // DUPLICATE_REFERENCE（幂等重放，非错误性质）
	CodeFulfillmentFailed = 1007 // FULFILLMENT_FAILED
	CodeAlreadyReversed   = 1008 // ALREADY_REVERSED
	CodeSelfReferral      = 1009 // SELF_REFERRAL
	CodeAlreadyReferred   = 1010 // ALREADY_REFERRED
	CodeLockTimeout       = 1011 // LOCK_TIMEOUT（调用方可带退避重试）
	CodeUnverifiedPayload = 1012 // UNVERIFIED_PAYLOAD
	CodeProductNotFound   = 1013 // 商品不存在
	CodeStatusInvalid     = 1014 // 状态不允许该操作
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithStatus 带 HTTP 状态码返回
// 支付网关的回调解析失败必须返回非 200，网关才会重试
func ErrorWithStatus(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
