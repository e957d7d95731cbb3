package repository

import (
	"context"
	"errors"
	"time"

	"paymeservice/internal/model"

	"gorm.io/gorm"
)

var (
	ErrStateConflict     = errors.New("交易状态已被并发修改")
	ErrInvalidTransition = errors.New("非法的状态迁移")
)

// TransactionRepository 交易账本的 MySQL 实现
// 账本只增不删：已取消、已完成的交易永久保留，用于对账单导出和幂等重放
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByPaycomID 按 Payme 交易ID查询，不存在时返回 (nil, nil)
func (r *TransactionRepository) GetByPaycomID(ctx context.Context, paycomID string) (*model.PaymeTransaction, error) {
	var trans model.PaymeTransaction
	err := r.db.WithContext(ctx).Where("paycom_id = ?", paycomID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetActiveByOrderID 查询订单下的活跃交易（Created 或 Performed），没有则返回 (nil, nil)
func (r *TransactionRepository) GetActiveByOrderID(ctx context.Context, orderID string) (*model.PaymeTransaction, error) {
	var trans model.PaymeTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND state IN ?", orderID,
			[]model.TransactionState{model.StateCreated, model.StatePerformed}).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.PaymeTransaction) error {
	return r.db.WithContext(ctx).Create(trans).Error
}

// Update 持久化一次状态迁移
// WHERE 带上旧状态做乐观校验：并发下状态已被别人改过时不落盘，
// 保证"检查-迁移"在存储层也是原子的
func (r *TransactionRepository) Update(ctx context.Context, trans *model.PaymeTransaction, fromState model.TransactionState) error {
	if !model.CanTransitionTo(fromState, trans.State) {
		return ErrInvalidTransition
	}

	result := r.db.WithContext(ctx).
		Model(&model.PaymeTransaction{}).
		Where("paycom_id = ? AND state = ?", trans.PaycomID, fromState).
		Updates(map[string]interface{}{
			"state":        trans.State,
			"perform_time": trans.PerformTime,
			"cancel_time":  trans.CancelTime,
			"reason":       trans.Reason,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// ListByCreateTimeRange 查询 create_time 落在 [from, to] 闭区间内的全部交易
// 按 create_time 升序排列，保证对账单输出稳定
func (r *TransactionRepository) ListByCreateTimeRange(ctx context.Context, from, to int64) ([]*model.PaymeTransaction, error) {
	var transactions []*model.PaymeTransaction
	err := r.db.WithContext(ctx).
		Where("create_time >= ? AND create_time <= ?", from, to).
		Order("create_time ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListStaleCreated 查询创建后超过 deadline 仍停留在 Created 状态的交易
func (r *TransactionRepository) ListStaleCreated(ctx context.Context, deadline time.Time, limit int) ([]*model.PaymeTransaction, error) {
	var transactions []*model.PaymeTransaction
	err := r.db.WithContext(ctx).
		Where("state = ? AND create_time < ?", model.StateCreated, deadline.UnixMilli()).
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
