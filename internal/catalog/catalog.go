package catalog

import (
	"errors"

	"lokal/internal/config"
)

var ErrProductNotFound = errors.New("商品不存在或已下架")

const (
	KindWiFi        = "WIFI"
	KindElectricity = "ELECTRICITY"
)

// Product 商品目录条目
// 只读参考数据：价格、履约参数，启动时装载一次，之后不再变更
type Product struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	PriceCents    int64  `json:"price_cents"`
	DataLimitMB   int64  `json:"data_limit_mb,omitempty"`  // WIFI
	ValidityHours int    `json:"validity_hours,omitempty"` // WIFI
	KWhCenti      int64  `json:"kwh_centi,omitempty"`      // ELECTRICITY，0.01 kWh
}

// Catalog 商品目录
// 装载完成后只读，可被任意多个 goroutine 并发查询
type Catalog struct {
	byID  map[string]*Product
	wifi  []*Product
	elec  []*Product
}

// Load 从配置装载目录，配置为空时使用内置默认套餐
func Load(cfg *config.CatalogConfig) *Catalog {
	c := &Catalog{byID: make(map[string]*Product)}

	wifiCfg := cfg.WiFiPackages
	elecCfg := cfg.ElectricityPackages
	if len(wifiCfg) == 0 {
		wifiCfg = defaultWiFiPackages
	}
	if len(elecCfg) == 0 {
		elecCfg = defaultElectricityPackages
	}

	for i := range wifiCfg {
		p := &Product{
			ID:            wifiCfg[i].ID,
			Kind:          KindWiFi,
			Name:          wifiCfg[i].Name,
			Description:   wifiCfg[i].Description,
			PriceCents:    wifiCfg[i].PriceCents,
			DataLimitMB:   wifiCfg[i].DataLimitMB,
			ValidityHours: wifiCfg[i].ValidityHours,
		}
		c.byID[p.ID] = p
		c.wifi = append(c.wifi, p)
	}

	for i := range elecCfg {
		p := &Product{
			ID:          elecCfg[i].ID,
			Kind:        KindElectricity,
			Name:        elecCfg[i].Name,
			Description: elecCfg[i].Description,
			PriceCents:  elecCfg[i].PriceCents,
			KWhCenti:    elecCfg[i].KWhCenti,
		}
		c.byID[p.ID] = p
		c.elec = append(c.elec, p)
	}

	return c
}

// Get 按 ID 查找商品
func (c *Catalog) Get(productID string) (*Product, error) {
	p, ok := c.byID[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// GetKind 按 ID 查找并校验商品类别
func (c *Catalog) GetKind(productID, kind string) (*Product, error) {
	p, err := c.Get(productID)
	if err != nil {
		return nil, err
	}
	if p.Kind != kind {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (c *Catalog) WiFiPackages() []*Product {
	return c.wifi
}

func (c *Catalog) ElectricityPackages() []*Product {
	return c.elec
}

// 默认套餐，与线上种子数据一致
var defaultWiFiPackages = []config.WiFiPackageConfig{
	{ID: "wifi-daily-lite", Name: "Daily Lite", Description: "500MB valid for 24 hours", PriceCents: 500, DataLimitMB: 500, ValidityHours: 24},
	{ID: "wifi-daily-standard", Name: "Daily Standard", Description: "1GB valid for 24 hours", PriceCents: 1000, DataLimitMB: 1024, ValidityHours: 24},
	{ID: "wifi-weekly-value", Name: "Weekly Value", Description: "3GB valid for 7 days", PriceCents: 2500, DataLimitMB: 3072, ValidityHours: 168},
	{ID: "wifi-weekly-plus", Name: "Weekly Plus", Description: "7GB valid for 7 days", PriceCents: 5000, DataLimitMB: 7168, ValidityHours: 168},
	{ID: "wifi-monthly-essential", Name: "Monthly Essential", Description: "15GB valid for 30 days", PriceCents: 9900, DataLimitMB: 15360, ValidityHours: 720},
	{ID: "wifi-monthly-premium", Name: "Monthly Premium", Description: "30GB valid for 30 days", PriceCents: 17900, DataLimitMB: 30720, ValidityHours: 720},
}

var defaultElectricityPackages = []config.ElectricityPackageConfig{
	{ID: "elec-10kwh", Name: "10 kWh", Description: "10 kWh prepaid units", PriceCents: 2500, KWhCenti: 1000},
	{ID: "elec-25kwh", Name: "25 kWh", Description: "25 kWh prepaid units", PriceCents: 6000, KWhCenti: 2500},
	{ID: "elec-50kwh", Name: "50 kWh", Description: "50 kWh prepaid units", PriceCents: 11500, KWhCenti: 5000},
}
