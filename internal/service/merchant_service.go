package service

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"paymeservice/internal/infrastructure/lock"
	"paymeservice/internal/model"
	"paymeservice/pkg/paycom"

	"github.com/go-redis/redis/v8"
)

// ============================================================
// Payme 商户回调的核心服务：交易状态机
// ============================================================
//
// 【关键点】这里的正确性直接决定钱的流向，三条铁律：
//
// 1. 幂等：网关可能重发任何一个方法，携带相同交易ID的重放
//    必须返回与首次完全相同的结果，绝不能重复执行副作用
// 2. 防重复扣款：一个订单同一时刻最多存在一笔活跃交易
//    （Created 或 Performed），该检查在 CheckPerformTransaction
//    里预检一次，在 CreateTransaction 临界区内再原子检查一次，
//    堵住 check 和 create 之间的竞态窗口
// 3. 单调迁移：状态只能沿 1 -> 2 -> -2 或 1 -> -1 推进，
//    不允许任何回退或离开已取消状态
// ============================================================

// MerchantService 交易账本的唯一写入方
type MerchantService struct {
	txStore    TransactionStore
	orderStore OrderStore
	events     EventPublisher
	rdb        *redis.Client // 可为 nil，nil 时只用进程内互斥

	// 账本级互斥：所有写操作串行化。交易量以订单为分片键，
	// 单实例下整本锁足够；多实例部署再叠加 Redis 订单锁
	mu sync.Mutex
}

func NewMerchantService(txStore TransactionStore, orderStore OrderStore, events EventPublisher, rdb *redis.Client) *MerchantService {
	return &MerchantService{
		txStore:    txStore,
		orderStore: orderStore,
		events:     events,
		rdb:        rdb,
	}
}

// AccountParams Payme 回调里的账户参数，商户接入只配置了 order_id 一个字段
type AccountParams struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64         `json:"amount"`
	Account AccountParams `json:"account"`
}

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateParams struct {
	ID      string        `json:"id"`
	Time    int64         `json:"time"`
	Amount  int64         `json:"amount"`
	Account AccountParams `json:"account"`
}

type CreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformParams struct {
	ID string `json:"id"`
}

type PerformResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type CancelResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CheckParams struct {
	ID string `json:"id"`
}

// CheckResult 交易完整快照
// 未发生的 perform/cancel 时间返回 0，未取消的交易 reason 返回 null
type CheckResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// StatementEntry 对账单条目，id 是 Payme 侧交易ID，transaction 是商户侧流水ID
type StatementEntry struct {
	ID          string        `json:"id"`
	Time        int64         `json:"time"`
	Amount      int64         `json:"amount"`
	Account     AccountParams `json:"account"`
	CreateTime  int64         `json:"create_time"`
	PerformTime int64         `json:"perform_time"`
	CancelTime  int64         `json:"cancel_time"`
	Transaction string        `json:"transaction"`
	State       int           `json:"state"`
	Reason      *int          `json:"reason"`
}

type StatementResult struct {
	Transactions []StatementEntry `json:"transactions"`
}

// validateOrder 订单校验：存在性 + 金额一致性
// CheckPerformTransaction 和 CreateTransaction 各自独立调用：
// 网关重试时 create 可能不经过 check 直接到达，校验不能只做一次
func (s *MerchantService) validateOrder(ctx context.Context, orderID string, amount int64) (*model.Order, error) {
	if orderID == "" {
		return nil, paycom.NewAccountError(paycom.CodeInvalidAccount, "订单号不能为空", "order_id")
	}

	order, err := s.orderStore.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, paycom.NewAccountError(paycom.CodeInvalidAccount, "订单不存在", "order_id")
	}
	if order.Amount != amount {
		return nil, paycom.NewError(paycom.CodeInvalidAmount, "金额与订单不符")
	}
	return order, nil
}

// CheckPerformTransaction 支付前置检查，纯校验，不写账本
func (s *MerchantService) CheckPerformTransaction(ctx context.Context, params *CheckPerformParams) (*CheckPerformResult, error) {
	if _, err := s.validateOrder(ctx, params.Account.OrderID, params.Amount); err != nil {
		return nil, err
	}

	// 防重复扣款检查：订单已有活跃交易时拒绝新的支付尝试
	active, err := s.txStore.GetActiveByOrderID(ctx, params.Account.OrderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, paycom.NewError(paycom.CodeOrderHasTransaction, "订单已存在处理中的交易")
	}

	return &CheckPerformResult{Allow: true}, nil
}

// CreateTransaction 创建交易
//
// 【关键点】活跃交易检查必须和插入在同一个临界区内完成：
// CheckPerformTransaction 通过之后、CreateTransaction 到达之前，
// 网关可能已经为同一订单下发了另一笔交易
func (s *MerchantService) CreateTransaction(ctx context.Context, params *CreateParams) (*CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 幂等重放：同一交易ID直接返回存量快照，不重跑校验，无论订单后来变成什么样
	existing, err := s.txStore.GetByPaycomID(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &CreateResult{
			CreateTime:  existing.CreateTime,
			Transaction: existing.PaycomID,
			State:       int(existing.State),
		}, nil
	}

	// 多实例部署时叠加 Redis 订单锁，覆盖跨实例的创建竞态
	if s.rdb != nil {
		orderLock := lock.NewOrderLock(s.rdb, params.Account.OrderID, params.ID)
		if err := orderLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, err
		}
		defer orderLock.Unlock(ctx)
	}

	if _, err := s.validateOrder(ctx, params.Account.OrderID, params.Amount); err != nil {
		return nil, err
	}

	// 与 CheckPerformTransaction 相同的防重复扣款检查，在临界区内原子重查
	active, err := s.txStore.GetActiveByOrderID(ctx, params.Account.OrderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, paycom.NewError(paycom.CodeOrderHasTransaction, "订单已存在处理中的交易")
	}

	trans := &model.PaymeTransaction{
		PaycomID:   params.ID,
		OrderID:    params.Account.OrderID,
		Amount:     params.Amount,
		State:      model.StateCreated,
		CreateTime: params.Time,
	}
	if err := s.txStore.Create(ctx, trans); err != nil {
		return nil, err
	}

	s.syncOrderStatus(ctx, params.Account.OrderID, model.OrderStatusProcessing, params.Time, false)

	log.Printf("[Merchant] 交易已创建: paycomID=%s, orderID=%s, amount=%d",
		params.ID, params.Account.OrderID, params.Amount)

	return &CreateResult{
		CreateTime:  trans.CreateTime,
		Transaction: trans.PaycomID,
		State:       int(trans.State),
	}, nil
}

// PerformTransaction 确认支付完成
func (s *MerchantService) PerformTransaction(ctx context.Context, params *PerformParams) (*PerformResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trans, err := s.txStore.GetByPaycomID(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if trans == nil {
		return nil, paycom.NewError(paycom.CodeInvalidAccount, "交易不存在")
	}

	switch trans.State {
	case model.StatePerformed:
		// 幂等重放：返回首次执行的时间戳
		return &PerformResult{
			PerformTime: trans.PerformTime,
			Transaction: trans.PaycomID,
			State:       int(trans.State),
		}, nil
	case model.StateCreated:
		trans.State = model.StatePerformed
		trans.PerformTime = time.Now().UnixMilli()
		if err := s.txStore.Update(ctx, trans, model.StateCreated); err != nil {
			return nil, err
		}

		s.syncOrderStatus(ctx, trans.OrderID, model.OrderStatusCompleted, trans.PerformTime, true)

		log.Printf("[Merchant] 交易已完成: paycomID=%s, orderID=%s", trans.PaycomID, trans.OrderID)

		return &PerformResult{
			PerformTime: trans.PerformTime,
			Transaction: trans.PaycomID,
			State:       int(trans.State),
		}, nil
	default:
		// 已取消的交易不允许再执行
		return nil, paycom.NewError(paycom.CodeUnableToPerform, "交易已取消，无法执行")
	}
}

// CancelTransaction 取消交易
// Created 状态取消为 -1，Performed 状态取消为 -2（相当于退款）
func (s *MerchantService) CancelTransaction(ctx context.Context, params *CancelParams) (*CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trans, err := s.txStore.GetByPaycomID(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if trans == nil {
		return nil, paycom.NewError(paycom.CodeInvalidAccount, "交易不存在")
	}

	// 幂等重放：首次取消的时间和原因是权威的，忽略重放携带的新 reason
	if trans.State.IsCancelled() {
		return &CancelResult{
			CancelTime:  trans.CancelTime,
			Transaction: trans.PaycomID,
			State:       int(trans.State),
		}, nil
	}

	fromState := trans.State
	var orderStatus string
	switch fromState {
	case model.StateCreated:
		trans.State = model.StateCancelledBeforePerform
		// 支付前取消，订单回到待支付，允许发起新的支付尝试
		orderStatus = model.OrderStatusPending
	case model.StatePerformed:
		trans.State = model.StateCancelledAfterPerform
		orderStatus = model.OrderStatusCancelled
	}

	reason := params.Reason
	trans.Reason = &reason
	trans.CancelTime = time.Now().UnixMilli()
	if err := s.txStore.Update(ctx, trans, fromState); err != nil {
		return nil, err
	}

	s.syncOrderStatus(ctx, trans.OrderID, orderStatus, trans.CancelTime, true)

	log.Printf("[Merchant] 交易已取消: paycomID=%s, orderID=%s, reason=%d, state=%d",
		trans.PaycomID, trans.OrderID, reason, trans.State)

	return &CancelResult{
		CancelTime:  trans.CancelTime,
		Transaction: trans.PaycomID,
		State:       int(trans.State),
	}, nil
}

// CheckTransaction 查询交易状态
func (s *MerchantService) CheckTransaction(ctx context.Context, params *CheckParams) (*CheckResult, error) {
	trans, err := s.txStore.GetByPaycomID(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if trans == nil {
		return nil, paycom.NewError(paycom.CodeInvalidAccount, "交易不存在")
	}

	return &CheckResult{
		CreateTime:  trans.CreateTime,
		PerformTime: trans.PerformTime,
		CancelTime:  trans.CancelTime,
		Transaction: trans.PaycomID,
		State:       int(trans.State),
		Reason:      trans.Reason,
	}, nil
}

// GetStatement 导出 [from, to] 区间内创建的全部交易，按 create_time 升序
func (s *MerchantService) GetStatement(ctx context.Context, params *StatementParams) (*StatementResult, error) {
	transactions, err := s.txStore.ListByCreateTimeRange(ctx, params.From, params.To)
	if err != nil {
		return nil, err
	}

	entries := make([]StatementEntry, 0, len(transactions))
	for _, trans := range transactions {
		entries = append(entries, StatementEntry{
			ID:          trans.PaycomID,
			Time:        trans.CreateTime,
			Amount:      trans.Amount,
			Account:     AccountParams{OrderID: trans.OrderID},
			CreateTime:  trans.CreateTime,
			PerformTime: trans.PerformTime,
			CancelTime:  trans.CancelTime,
			Transaction: strconv.FormatInt(trans.ID, 10),
			State:       int(trans.State),
			Reason:      trans.Reason,
		})
	}
	return &StatementResult{Transactions: entries}, nil
}

// CancelStaleTransactions 取消停留在 Created 状态超时未确认的交易（reason=4）
// 由后台定时任务调用，走正常的 CancelTransaction 路径，所有不变式照常生效
func (s *MerchantService) CancelStaleTransactions(ctx context.Context, timeout time.Duration, limit int) (int, error) {
	stale, err := s.txStore.ListStaleCreated(ctx, time.Now().Add(-timeout), limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, trans := range stale {
		_, err := s.CancelTransaction(ctx, &CancelParams{
			ID:     trans.PaycomID,
			Reason: model.ReasonTimeout,
		})
		if err != nil {
			log.Printf("[Merchant] 超时取消交易失败: paycomID=%s, err=%v", trans.PaycomID, err)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// syncOrderStatus 同步订单状态并发布变更事件
// 账本状态是权威的，这里任何失败只记日志，不回滚交易迁移
func (s *MerchantService) syncOrderStatus(ctx context.Context, orderID, status string, timestamp int64, publish bool) {
	if err := s.orderStore.UpdateStatus(ctx, orderID, status); err != nil {
		log.Printf("[Merchant] 更新订单状态失败: orderID=%s, status=%s, err=%v", orderID, status, err)
	}
	if publish && s.events != nil {
		if err := s.events.PublishStatusChanged(ctx, orderID, status, timestamp); err != nil {
			log.Printf("[Merchant] 发布订单状态事件失败: orderID=%s, status=%s, err=%v", orderID, status, err)
		}
	}
}
