package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lokal/internal/config"
	"lokal/internal/infrastructure/database"
	"lokal/internal/infrastructure/lock"
	"lokal/internal/model"
	"lokal/internal/service"
	"lokal/pkg/idgen"
)

// =============================================================================
// 测试环境
// =============================================================================

type testDeps struct {
	db  *gorm.DB
	cfg *config.Config
}

// newTestDB 内存 sqlite，单连接保证内存库在整个测试期间存活
func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{Business: config.DefaultBusiness()}
	cfg.Kafka.Topic.TransactionEvent = "wallet.transaction"
	cfg.Gateway = config.GatewayConfig{
		MerchantID: "10000100",
		Passphrase: "test-passphrase",
		PayBaseURL: "https://sandbox.gateway.example/pay",
	}
	return cfg
}

func newTestLedger(t *testing.T) (*service.LedgerService, *gorm.DB, *config.Config) {
	db := newTestDB(t)
	cfg := newTestConfig()
	ledger := service.NewLedgerService(db, lock.NewLocalManager(), cfg)
	return ledger, db, cfg
}

// seedWallet 直接落一条钱包记录，限额取默认业务参数
func seedWallet(t *testing.T, db *gorm.DB, userID int64, phone string, balance int64) *model.Wallet {
	now := time.Now()
	w := &model.Wallet{
		UserID:           userID,
		Phone:            phone,
		Balance:          balance,
		Currency:         "ZAR",
		Status:           model.WalletStatusActive,
		DailyLimit:       config.DefaultBusiness().DailyLimitCents,
		MonthlyLimit:     config.DefaultBusiness().MonthlyLimitCents,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		ReferralCode:     idgen.GenerateReferralCode(),
	}
	require.NoError(t, db.Create(w).Error)
	return w
}

func walletBalance(t *testing.T, db *gorm.DB, userID int64) int64 {
	var w model.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	return w.Balance
}
