package repository

import (
	"context"
	"encoding/json"

	"paymeservice/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db    *gorm.DB
	topic string
}

func NewOutboxRepository(db *gorm.DB, topic string) *OutboxRepository {
	return &OutboxRepository{db: db, topic: topic}
}

// OrderStatusEvent 订单状态变更事件
type OrderStatusEvent struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// PublishStatusChanged 把订单状态变更事件写入 outbox 表
// 真正的投递由 OutboxSender 后台任务完成
func (r *OutboxRepository) PublishStatusChanged(ctx context.Context, orderID, status string, timestamp int64) error {
	payload, err := json.Marshal(&OrderStatusEvent{
		OrderID:   orderID,
		Status:    status,
		Timestamp: timestamp,
	})
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		MessageKey: orderID,
		Topic:      r.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}
