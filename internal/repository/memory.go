package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"paymeservice/internal/model"
)

// ============================================================
// 内存版存储实现
// ============================================================
//
// 与 MySQL 版实现同一套存储契约，用于单机演示和单元测试。
// 所有读写都在互斥锁内完成并返回副本，外部永远看不到
// 迁移到一半的交易记录
// ============================================================

// MemoryTransactionStore 内存版交易账本
type MemoryTransactionStore struct {
	mu           sync.RWMutex
	transactions map[string]*model.PaymeTransaction // paycom_id -> 交易
	nextID       int64
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		transactions: make(map[string]*model.PaymeTransaction),
		nextID:       1,
	}
}

func copyTransaction(t *model.PaymeTransaction) *model.PaymeTransaction {
	c := *t
	if t.Reason != nil {
		reason := *t.Reason
		c.Reason = &reason
	}
	return &c
}

func (s *MemoryTransactionStore) GetByPaycomID(ctx context.Context, paycomID string) (*model.PaymeTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trans, ok := s.transactions[paycomID]
	if !ok {
		return nil, nil
	}
	return copyTransaction(trans), nil
}

func (s *MemoryTransactionStore) GetActiveByOrderID(ctx context.Context, orderID string) (*model.PaymeTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, trans := range s.transactions {
		if trans.OrderID == orderID && trans.State.IsActive() {
			return copyTransaction(trans), nil
		}
	}
	return nil, nil
}

func (s *MemoryTransactionStore) Create(ctx context.Context, trans *model.PaymeTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trans.ID = s.nextID
	s.nextID++
	trans.CreatedAt = time.Now()
	trans.UpdatedAt = trans.CreatedAt
	s.transactions[trans.PaycomID] = copyTransaction(trans)
	return nil
}

func (s *MemoryTransactionStore) Update(ctx context.Context, trans *model.PaymeTransaction, fromState model.TransactionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !model.CanTransitionTo(fromState, trans.State) {
		return ErrInvalidTransition
	}

	stored, ok := s.transactions[trans.PaycomID]
	if !ok || stored.State != fromState {
		return ErrStateConflict
	}

	stored.State = trans.State
	stored.PerformTime = trans.PerformTime
	stored.CancelTime = trans.CancelTime
	if trans.Reason != nil {
		reason := *trans.Reason
		stored.Reason = &reason
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryTransactionStore) ListByCreateTimeRange(ctx context.Context, from, to int64) ([]*model.PaymeTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.PaymeTransaction
	for _, trans := range s.transactions {
		if trans.CreateTime >= from && trans.CreateTime <= to {
			result = append(result, copyTransaction(trans))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreateTime < result[j].CreateTime
	})
	return result, nil
}

func (s *MemoryTransactionStore) ListStaleCreated(ctx context.Context, deadline time.Time, limit int) ([]*model.PaymeTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := deadline.UnixMilli()
	var result []*model.PaymeTransaction
	for _, trans := range s.transactions {
		if trans.State == model.StateCreated && trans.CreateTime < cutoff {
			result = append(result, copyTransaction(trans))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// MemoryOrderStore 内存版订单存储
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	nextID int64
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*model.Order),
		nextID: 1,
	}
}

func (s *MemoryOrderStore) Create(ctx context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = s.nextID
	s.nextID++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	s.orders[order.OrderID] = &stored
	return nil
}

func (s *MemoryOrderStore) GetByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	c := *order
	return &c, nil
}

func (s *MemoryOrderStore) UpdateStatus(ctx context.Context, orderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	return nil
}

// MemoryEventPublisher 内存版事件发布器，记录所有已发布事件
type MemoryEventPublisher struct {
	mu     sync.Mutex
	Events []OrderStatusEvent
}

func NewMemoryEventPublisher() *MemoryEventPublisher {
	return &MemoryEventPublisher{}
}

func (p *MemoryEventPublisher) PublishStatusChanged(ctx context.Context, orderID, status string, timestamp int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Events = append(p.Events, OrderStatusEvent{
		OrderID:   orderID,
		Status:    status,
		Timestamp: timestamp,
	})
	return nil
}
