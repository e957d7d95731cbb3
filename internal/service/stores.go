package service

import (
	"context"
	"time"

	"paymeservice/internal/model"
)

// 存储契约：状态机逻辑只依赖这三个接口，
// 生产环境由 repository 的 MySQL 实现承接，测试和单机演示用内存实现

// TransactionStore 交易账本存储
// Get 类方法在记录不存在时返回 (nil, nil)，由调用方决定映射成哪种协议错误
type TransactionStore interface {
	GetByPaycomID(ctx context.Context, paycomID string) (*model.PaymeTransaction, error)
	GetActiveByOrderID(ctx context.Context, orderID string) (*model.PaymeTransaction, error)
	Create(ctx context.Context, trans *model.PaymeTransaction) error
	// Update 按旧状态做条件更新，状态已被并发修改时返回 repository.ErrStateConflict
	Update(ctx context.Context, trans *model.PaymeTransaction, fromState model.TransactionState) error
	ListByCreateTimeRange(ctx context.Context, from, to int64) ([]*model.PaymeTransaction, error)
	ListStaleCreated(ctx context.Context, deadline time.Time, limit int) ([]*model.PaymeTransaction, error)
}

// OrderStore 商户订单存储
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
}

// EventPublisher 订单状态变更事件的发布端
// 只是通知，不参与账本事务：发布失败不回滚交易状态
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, orderID, status string, timestamp int64) error
}
