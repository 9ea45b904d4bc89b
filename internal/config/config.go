package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Business BusinessConfig `mapstructure:"business"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	TransactionEvent string `mapstructure:"transaction_event"`
}

// GatewayConfig 外部支付网关（PayFast 风格的托管支付页 + 表单回调）
type GatewayConfig struct {
	MerchantID string `mapstructure:"merchant_id"`
	Passphrase string `mapstructure:"passphrase"` // 回调签名口令，缺省为空时拒绝所有回调
	PayBaseURL string `mapstructure:"pay_base_url"`
}

// BusinessConfig 业务参数
// 邀请奖励、限额这些在原型里是写死的常量，这里全部落到配置并给出默认值
type BusinessConfig struct {
	Currency              string `mapstructure:"currency"`                 // 默认 ZAR
	DailyLimitCents       int64  `mapstructure:"daily_limit_cents"`        // 默认 R5000.00
	MonthlyLimitCents     int64  `mapstructure:"monthly_limit_cents"`      // 默认 R50000.00
	ReferralBonusCents    int64  `mapstructure:"referral_bonus_cents"`     // 默认 R10.00，双边各得一份
	PendingTimeoutMinutes int    `mapstructure:"pending_timeout_minutes"`  // PENDING 充值多久未确认转 FAILED
	MaxRetryCount         int    `mapstructure:"max_retry_count"`          // 发件箱最大重试次数
}

// CatalogConfig 商品目录（只读参考数据，启动时装载一次）
type CatalogConfig struct {
	WiFiPackages        []WiFiPackageConfig        `mapstructure:"wifi_packages"`
	ElectricityPackages []ElectricityPackageConfig `mapstructure:"electricity_packages"`
}

type WiFiPackageConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Description   string `mapstructure:"description"`
	PriceCents    int64  `mapstructure:"price_cents"`
	DataLimitMB   int64  `mapstructure:"data_limit_mb"`
	ValidityHours int    `mapstructure:"validity_hours"`
}

type ElectricityPackageConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	PriceCents  int64  `mapstructure:"price_cents"`
	KWhCenti    int64  `mapstructure:"kwh_centi"` // 电量，0.01 kWh 为单位
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}

func setDefaults() {
	viper.SetDefault("business.currency", "ZAR")
	viper.SetDefault("business.daily_limit_cents", 500000)
	viper.SetDefault("business.monthly_limit_cents", 5000000)
	viper.SetDefault("business.referral_bonus_cents", 1000)
	viper.SetDefault("business.pending_timeout_minutes", 30)
	viper.SetDefault("business.max_retry_count", 5)
	viper.SetDefault("kafka.topic.transaction_event", "wallet.transaction")
}

// DefaultBusiness 返回默认业务参数（测试及未配置时使用）
func DefaultBusiness() BusinessConfig {
	return BusinessConfig{
		Currency:              "ZAR",
		DailyLimitCents:       500000,
		MonthlyLimitCents:     5000000,
		ReferralBonusCents:    1000,
		PendingTimeoutMinutes: 30,
		MaxRetryCount:         5,
	}
}
