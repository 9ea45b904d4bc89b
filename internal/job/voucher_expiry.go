package job

import (
	"context"
	"log"
	"time"

	"lokal/internal/model"
	"lokal/internal/repository"

	"gorm.io/gorm"
)

// VoucherExpiryChecker 扫描有效期已过的 ACTIVE 凭证并置 EXPIRED
type VoucherExpiryChecker struct {
	voucherRepo *repository.VoucherRepository
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewVoucherExpiryChecker(db *gorm.DB) *VoucherExpiryChecker {
	return &VoucherExpiryChecker{
		voucherRepo: repository.NewVoucherRepository(db),
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   200,
	}
}

func (c *VoucherExpiryChecker) Start(ctx context.Context) {
	log.Println("[VoucherExpiry] 凭证过期任务启动")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[VoucherExpiry] 收到停止信号，任务退出")
			return
		case <-c.stopCh:
			log.Println("[VoucherExpiry] 任务停止")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *VoucherExpiryChecker) Stop() {
	close(c.stopCh)
}

func (c *VoucherExpiryChecker) sweep(ctx context.Context) {
	expired, err := c.voucherRepo.GetExpired(ctx, time.Now(), c.batchSize)
	if err != nil {
		log.Printf("[VoucherExpiry] 查询过期凭证失败: %v", err)
		return
	}

	for _, v := range expired {
		if err := c.voucherRepo.MarkExpired(ctx, v.VoucherCode, model.VoucherStatusActive); err != nil {
			log.Printf("[VoucherExpiry] 置过期失败: voucher=%s, err=%v", v.VoucherCode, err)
			continue
		}
		log.Printf("[VoucherExpiry] 凭证过期: voucher=%s, user=%d", v.VoucherCode, v.UserID)
	}
}
