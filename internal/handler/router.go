package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"lokal/internal/catalog"
	"lokal/internal/config"
	"lokal/internal/infrastructure/lock"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, locks lock.Manager, cfg *config.Config, cat *catalog.Catalog) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, locks, cfg, cat)

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("", h.GetWallet)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/transfer", h.Transfer)
			wallet.POST("/topup", h.InitiateTopup)
			wallet.POST("/reverse", h.Reverse)
		}

		// 支付网关服务端回调，无鉴权，靠签名校验
		api.POST("/gateway/notify", h.GatewayNotify)

		wifi := api.Group("/wifi")
		{
			wifi.GET("/packages", h.ListWiFiPackages)
			wifi.POST("/purchase", h.PurchaseWiFi)
			wifi.GET("/vouchers", h.ListVouchers)
			wifi.POST("/voucher/activate", h.ActivateVoucher)
			wifi.POST("/voucher/usage", h.RecordVoucherUsage)
		}

		electricity := api.Group("/electricity")
		{
			electricity.GET("/packages", h.ListElectricityPackages)
			electricity.POST("/purchase", h.PurchaseElectricity)
			electricity.GET("/meters", h.ListMeters)
			electricity.POST("/meter/register", h.RegisterMeter)
		}

		api.POST("/referral/apply", h.ApplyReferral)

		agent := api.Group("/agent")
		{
			agent.GET("", h.GetAgent)
			agent.POST("/register", h.RegisterAgent)
			agent.POST("/float/topup", h.TopupFloat)
			agent.POST("/sale", h.AgentSale)
			agent.POST("/commission/withdraw", h.WithdrawCommission)
			agent.GET("/commissions", h.ListCommissions)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
