package job

import (
	"context"
	"log"
	"time"

	"paymeservice/internal/config"
	"paymeservice/internal/infrastructure/mq"
	"paymeservice/internal/model"
	"paymeservice/internal/repository"
)

// OutboxSender 订单状态事件投递任务
// 轮询 outbox 表里的待发消息投递到 Kafka，超过最大重试次数标记失败。
// 账本状态是权威的，这里的失败只影响下游通知，不影响交易本身
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: outboxRepo,
		cfg:        cfg,
		interval:   3 * time.Second,
		batchSize:  100,
	}
}

func (j *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息投递任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.sendPendingMessages(ctx)
		}
	}
}

func (j *OutboxSender) sendPendingMessages(ctx context.Context) {
	messages, err := j.outboxRepo.GetPendingMessages(ctx, j.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询待发消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		if err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload); err != nil {
			log.Printf("[OutboxSender] 投递失败: id=%d, key=%s, err=%v", msg.ID, msg.MessageKey, err)

			if msg.RetryCount+1 >= j.cfg.Business.MaxRetryCount {
				if err := j.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
					log.Printf("[OutboxSender] 标记失败状态出错: id=%d, err=%v", msg.ID, err)
				}
			} else {
				if err := j.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
					log.Printf("[OutboxSender] 更新重试次数出错: id=%d, err=%v", msg.ID, err)
				}
			}
			continue
		}

		if err := j.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); err != nil {
			log.Printf("[OutboxSender] 更新消息状态出错: id=%d, err=%v", msg.ID, err)
		}
	}
}
