package job

import (
	"context"
	"log"
	"time"

	"lokal/internal/config"
	"lokal/internal/repository"
	"lokal/internal/service"

	"gorm.io/gorm"
)

// PendingTimeoutChecker 扫描超时未确认的 PENDING 充值流水并关单
// 网关迟到的回调不受影响：关单后 ConfirmPending 会因状态机拒绝而报错
type PendingTimeoutChecker struct {
	txRepo    *repository.TransactionRepository
	ledger    *service.LedgerService
	timeout   time.Duration
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPendingTimeoutChecker(db *gorm.DB, ledger *service.LedgerService, cfg *config.Config) *PendingTimeoutChecker {
	return &PendingTimeoutChecker{
		txRepo:    repository.NewTransactionRepository(db),
		ledger:    ledger,
		timeout:   time.Duration(cfg.Business.PendingTimeoutMinutes) * time.Minute,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (c *PendingTimeoutChecker) Start(ctx context.Context) {
	log.Println("[PendingTimeout] 超时关单任务启动")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PendingTimeout] 收到停止信号，任务退出")
			return
		case <-c.stopCh:
			log.Println("[PendingTimeout] 任务停止")
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *PendingTimeoutChecker) Stop() {
	close(c.stopCh)
}

func (c *PendingTimeoutChecker) sweep(ctx context.Context) {
	before := time.Now().Add(-c.timeout)
	expired, err := c.txRepo.GetExpiredPending(ctx, before, c.batchSize)
	if err != nil {
		log.Printf("[PendingTimeout] 查询超时流水失败: %v", err)
		return
	}

	for _, trans := range expired {
		if err := c.ledger.FailPending(ctx, trans.TransactionNo); err != nil {
			// 回调刚好赶在关单前确认了，状态机拒绝属正常竞争
			log.Printf("[PendingTimeout] 关单失败: transactionNo=%s, err=%v", trans.TransactionNo, err)
			continue
		}
		log.Printf("[PendingTimeout] 超时关单: transactionNo=%s, reference=%s", trans.TransactionNo, trans.Reference)
	}
}
