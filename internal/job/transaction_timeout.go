package job

import (
	"context"
	"log"
	"time"

	"paymeservice/internal/config"
	"paymeservice/internal/service"
)

// TransactionTimeoutJob 交易超时取消任务
//
// Payme 要求商户取消长时间停留在 Created 状态未被 Perform 的交易，
// 否则该订单会被一笔僵死的活跃交易永久锁住。取消走正常的
// CancelTransaction 路径（reason=4），幂等和单调迁移规则照常生效
type TransactionTimeoutJob struct {
	merchant  *service.MerchantService
	cfg       *config.Config
	interval  time.Duration
	batchSize int
}

func NewTransactionTimeoutJob(merchant *service.MerchantService, cfg *config.Config) *TransactionTimeoutJob {
	return &TransactionTimeoutJob{
		merchant:  merchant,
		cfg:       cfg,
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *TransactionTimeoutJob) Start(ctx context.Context) {
	log.Println("[TransactionTimeout] 交易超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TransactionTimeout] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.cancelStaleTransactions(ctx)
		}
	}
}

func (j *TransactionTimeoutJob) cancelStaleTransactions(ctx context.Context) {
	timeout := time.Duration(j.cfg.Business.TransactionTimeoutMinutes) * time.Minute
	cancelled, err := j.merchant.CancelStaleTransactions(ctx, timeout, j.batchSize)
	if err != nil {
		log.Printf("[TransactionTimeout] 查询超时交易失败: %v", err)
		return
	}
	if cancelled > 0 {
		log.Printf("[TransactionTimeout] 已超时取消 %d 笔交易", cancelled)
	}
}
