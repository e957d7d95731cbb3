package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"paymeservice/internal/model"
	"paymeservice/internal/repository"
	"paymeservice/pkg/paycom"
)

const (
	testOrderID = "TEST_ORDER_001"
	testAmount  = int64(50000)
)

// newTestMerchant 构造一个挂在内存存储上的商户服务，预置一个待支付订单
func newTestMerchant(t *testing.T) (*MerchantService, *repository.MemoryOrderStore, *repository.MemoryEventPublisher) {
	t.Helper()

	txStore := repository.NewMemoryTransactionStore()
	orderStore := repository.NewMemoryOrderStore()
	events := repository.NewMemoryEventPublisher()

	err := orderStore.Create(context.Background(), &model.Order{
		OrderID: testOrderID,
		Amount:  testAmount,
		Status:  model.OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("预置订单失败: %v", err)
	}

	return NewMerchantService(txStore, orderStore, events, nil), orderStore, events
}

// assertPaycomError 断言错误是指定错误码的协议错误
func assertPaycomError(t *testing.T, err error, wantCode int) {
	t.Helper()

	if err == nil {
		t.Fatalf("期望协议错误 %d，实际没有错误", wantCode)
	}
	var protoErr *paycom.Error
	if !errors.As(err, &protoErr) {
		t.Fatalf("期望协议错误 %d，实际是 %v", wantCode, err)
	}
	if protoErr.Code != wantCode {
		t.Fatalf("错误码不符: got %d, want %d", protoErr.Code, wantCode)
	}
}

func createParams(id string) *CreateParams {
	return &CreateParams{
		ID:      id,
		Time:    time.Now().UnixMilli(),
		Amount:  testAmount,
		Account: AccountParams{OrderID: testOrderID},
	}
}

// TestCheckPerform_Allow 金额与订单一致时放行
func TestCheckPerform_Allow(t *testing.T) {
	svc, _, _ := newTestMerchant(t)

	result, err := svc.CheckPerformTransaction(context.Background(), &CheckPerformParams{
		Amount:  testAmount,
		Account: AccountParams{OrderID: testOrderID},
	})
	if err != nil {
		t.Fatalf("CheckPerformTransaction error = %v, want nil", err)
	}
	if !result.Allow {
		t.Error("allow = false, want true")
	}
}

// TestCheckPerform_InvalidAmount 金额不符返回 -31001
func TestCheckPerform_InvalidAmount(t *testing.T) {
	svc, _, _ := newTestMerchant(t)

	_, err := svc.CheckPerformTransaction(context.Background(), &CheckPerformParams{
		Amount:  1,
		Account: AccountParams{OrderID: testOrderID},
	})
	assertPaycomError(t, err, paycom.CodeInvalidAmount)
}

// TestCheckPerform_UnknownOrder 订单不存在返回 -31050
func TestCheckPerform_UnknownOrder(t *testing.T) {
	svc, _, _ := newTestMerchant(t)

	_, err := svc.CheckPerformTransaction(context.Background(), &CheckPerformParams{
		Amount:  testAmount,
		Account: AccountParams{OrderID: "NO_SUCH_ORDER"},
	})
	assertPaycomError(t, err, paycom.CodeInvalidAccount)
}

// TestCheckPerform_ActiveTransactionBlocks 订单已有活跃交易时预检拒绝
func TestCheckPerform_ActiveTransactionBlocks(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	_, err := svc.CheckPerformTransaction(ctx, &CheckPerformParams{
		Amount:  testAmount,
		Account: AccountParams{OrderID: testOrderID},
	})
	assertPaycomError(t, err, paycom.CodeOrderHasTransaction)
}

// TestCreate_SecondTransactionRejected 同一订单的第二笔交易被 -31099 拒绝
func TestCreate_SecondTransactionRejected(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("第一笔 CreateTransaction error = %v", err)
	}

	_, err := svc.CreateTransaction(ctx, createParams("T2"))
	assertPaycomError(t, err, paycom.CodeOrderHasTransaction)
}

// TestCreate_IdempotentReplay 相同交易ID重放返回完全一致的结果
func TestCreate_IdempotentReplay(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	params := createParams("T1")
	first, err := svc.CreateTransaction(ctx, params)
	if err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	second, err := svc.CreateTransaction(ctx, params)
	if err != nil {
		t.Fatalf("重放 CreateTransaction error = %v", err)
	}

	if *first != *second {
		t.Errorf("重放结果不一致: first=%+v, second=%+v", first, second)
	}
	if second.Transaction != "T1" || second.State != 1 {
		t.Errorf("重放快照不符: %+v", second)
	}
}

// TestCreate_ReplaySkipsValidation 重放不重跑校验，金额不符也返回存量快照
func TestCreate_ReplaySkipsValidation(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	params := createParams("T1")
	first, err := svc.CreateTransaction(ctx, params)
	if err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	// 同一ID、错误金额：不报 -31001，返回首次结果
	replay := *params
	replay.Amount = 1
	second, err := svc.CreateTransaction(ctx, &replay)
	if err != nil {
		t.Fatalf("重放 CreateTransaction error = %v", err)
	}
	if *first != *second {
		t.Errorf("重放结果不一致: first=%+v, second=%+v", first, second)
	}

	// 账本里的金额没有被改动
	check, err := svc.CheckTransaction(ctx, &CheckParams{ID: "T1"})
	if err != nil {
		t.Fatalf("CheckTransaction error = %v", err)
	}
	stmt, err := svc.GetStatement(ctx, &StatementParams{From: 0, To: time.Now().UnixMilli()})
	if err != nil {
		t.Fatalf("GetStatement error = %v", err)
	}
	if len(stmt.Transactions) != 1 || stmt.Transactions[0].Amount != testAmount {
		t.Errorf("金额被篡改: %+v", stmt.Transactions)
	}
	if check.CreateTime != first.CreateTime {
		t.Errorf("create_time 被篡改: %d != %d", check.CreateTime, first.CreateTime)
	}
}

// TestPerform_Lifecycle Created -> Performed，时间戳落在调用时刻
func TestPerform_Lifecycle(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	result, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"})
	if err != nil {
		t.Fatalf("PerformTransaction error = %v", err)
	}
	if result.State != 2 {
		t.Errorf("state = %d, want 2", result.State)
	}
	if result.PerformTime == 0 {
		t.Error("perform_time 没有打点")
	}
}

// TestPerform_IdempotentReplay 重复 Perform 返回首次的时间戳
func TestPerform_IdempotentReplay(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	first, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"})
	if err != nil {
		t.Fatalf("PerformTransaction error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"})
	if err != nil {
		t.Fatalf("重放 PerformTransaction error = %v", err)
	}
	if *first != *second {
		t.Errorf("重放结果不一致: first=%+v, second=%+v", first, second)
	}
}

// TestPerform_UnknownTransaction 未知交易返回 -31050
func TestPerform_UnknownTransaction(t *testing.T) {
	svc, _, _ := newTestMerchant(t)

	_, err := svc.PerformTransaction(context.Background(), &PerformParams{ID: "NO_SUCH_TX"})
	assertPaycomError(t, err, paycom.CodeInvalidAccount)
}

// TestPerform_AfterCancelRejected 已取消的交易不允许再执行
func TestPerform_AfterCancelRejected(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonTransactionError}); err != nil {
		t.Fatalf("CancelTransaction error = %v", err)
	}

	_, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"})
	assertPaycomError(t, err, paycom.CodeUnableToPerform)
}

// TestCancel_BeforePerform Created 状态取消为 -1，订单回到待支付
func TestCancel_BeforePerform(t *testing.T) {
	svc, orderStore, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	result, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonTimeout})
	if err != nil {
		t.Fatalf("CancelTransaction error = %v", err)
	}
	if result.State != -1 {
		t.Errorf("state = %d, want -1", result.State)
	}

	order, _ := orderStore.GetByOrderID(ctx, testOrderID)
	if order.Status != model.OrderStatusPending {
		t.Errorf("订单状态 = %s, want PENDING", order.Status)
	}

	// 活跃交易已被取消，订单可以发起新的支付尝试
	if _, err := svc.CreateTransaction(ctx, createParams("T2")); err != nil {
		t.Errorf("取消后创建新交易失败: %v", err)
	}
}

// TestCancel_AfterPerform 完整流程：创建 -> 执行 -> 取消(reason=5)，终态 -2
func TestCancel_AfterPerform(t *testing.T) {
	svc, orderStore, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}
	if _, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"}); err != nil {
		t.Fatalf("PerformTransaction error = %v", err)
	}

	result, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonRefund})
	if err != nil {
		t.Fatalf("CancelTransaction error = %v", err)
	}
	if result.State != -2 {
		t.Errorf("state = %d, want -2", result.State)
	}

	// CheckTransaction 反映全部三个时间戳和取消原因
	check, err := svc.CheckTransaction(ctx, &CheckParams{ID: "T1"})
	if err != nil {
		t.Fatalf("CheckTransaction error = %v", err)
	}
	if check.CreateTime == 0 || check.PerformTime == 0 || check.CancelTime == 0 {
		t.Errorf("时间戳缺失: %+v", check)
	}
	if check.Reason == nil || *check.Reason != model.ReasonRefund {
		t.Errorf("reason = %v, want 5", check.Reason)
	}
	if check.State != -2 {
		t.Errorf("state = %d, want -2", check.State)
	}

	order, _ := orderStore.GetByOrderID(ctx, testOrderID)
	if order.Status != model.OrderStatusCancelled {
		t.Errorf("订单状态 = %s, want CANCELLED", order.Status)
	}
}

// TestCancel_IdempotentReplay 重复取消返回首次的时间和状态，新 reason 被忽略
func TestCancel_IdempotentReplay(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	first, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonTimeout})
	if err != nil {
		t.Fatalf("CancelTransaction error = %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonRefund})
	if err != nil {
		t.Fatalf("重放 CancelTransaction error = %v", err)
	}
	if *first != *second {
		t.Errorf("重放结果不一致: first=%+v, second=%+v", first, second)
	}

	// 首次取消的 reason 是权威的
	check, _ := svc.CheckTransaction(ctx, &CheckParams{ID: "T1"})
	if check.Reason == nil || *check.Reason != model.ReasonTimeout {
		t.Errorf("reason 被覆盖: %v, want 4", check.Reason)
	}
}

// TestCancel_UnknownTransaction 未知交易返回 -31050
func TestCancel_UnknownTransaction(t *testing.T) {
	svc, _, _ := newTestMerchant(t)

	_, err := svc.CancelTransaction(context.Background(), &CancelParams{ID: "NO_SUCH_TX", Reason: 1})
	assertPaycomError(t, err, paycom.CodeInvalidAccount)
}

// TestCheck_ReasonNullBeforeCancel 未取消的交易 reason 为 null，时间为 0
func TestCheck_ReasonNullBeforeCancel(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	check, err := svc.CheckTransaction(ctx, &CheckParams{ID: "T1"})
	if err != nil {
		t.Fatalf("CheckTransaction error = %v", err)
	}
	if check.Reason != nil {
		t.Errorf("reason = %v, want nil", check.Reason)
	}
	if check.PerformTime != 0 || check.CancelTime != 0 {
		t.Errorf("未发生的时间戳应为 0: %+v", check)
	}
}

// TestStatement_RangeAndOrder 对账单闭区间过滤，按 create_time 升序
func TestStatement_RangeAndOrder(t *testing.T) {
	svc, orderStore, _ := newTestMerchant(t)
	ctx := context.Background()

	// 第二个订单，用于制造多笔交易
	if err := orderStore.Create(ctx, &model.Order{
		OrderID: "TEST_ORDER_002",
		Amount:  testAmount,
		Status:  model.OrderStatusPending,
	}); err != nil {
		t.Fatalf("预置订单失败: %v", err)
	}

	if _, err := svc.CreateTransaction(ctx, &CreateParams{
		ID: "T1", Time: 2000, Amount: testAmount, Account: AccountParams{OrderID: testOrderID},
	}); err != nil {
		t.Fatalf("CreateTransaction T1 error = %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, &CreateParams{
		ID: "T2", Time: 1000, Amount: testAmount, Account: AccountParams{OrderID: "TEST_ORDER_002"},
	}); err != nil {
		t.Fatalf("CreateTransaction T2 error = %v", err)
	}

	stmt, err := svc.GetStatement(ctx, &StatementParams{From: 0, To: 3000})
	if err != nil {
		t.Fatalf("GetStatement error = %v", err)
	}
	if len(stmt.Transactions) != 2 {
		t.Fatalf("条目数 = %d, want 2", len(stmt.Transactions))
	}
	if stmt.Transactions[0].ID != "T2" || stmt.Transactions[1].ID != "T1" {
		t.Errorf("未按 create_time 升序: %+v", stmt.Transactions)
	}

	// 区间是闭区间
	stmt, err = svc.GetStatement(ctx, &StatementParams{From: 2000, To: 2000})
	if err != nil {
		t.Fatalf("GetStatement error = %v", err)
	}
	if len(stmt.Transactions) != 1 || stmt.Transactions[0].ID != "T1" {
		t.Errorf("闭区间过滤不符: %+v", stmt.Transactions)
	}
}

// TestStatement_IncludesCancelReason 取消后的对账单条目携带 reason
func TestStatement_IncludesCancelReason(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}
	if _, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"}); err != nil {
		t.Fatalf("PerformTransaction error = %v", err)
	}
	if _, err := svc.CancelTransaction(ctx, &CancelParams{ID: "T1", Reason: model.ReasonRefund}); err != nil {
		t.Fatalf("CancelTransaction error = %v", err)
	}

	stmt, err := svc.GetStatement(ctx, &StatementParams{From: 0, To: time.Now().UnixMilli()})
	if err != nil {
		t.Fatalf("GetStatement error = %v", err)
	}
	if len(stmt.Transactions) != 1 {
		t.Fatalf("条目数 = %d, want 1", len(stmt.Transactions))
	}
	entry := stmt.Transactions[0]
	if entry.ID != "T1" || entry.State != -2 {
		t.Errorf("条目不符: %+v", entry)
	}
	if entry.Reason == nil || *entry.Reason != model.ReasonRefund {
		t.Errorf("reason = %v, want 5", entry.Reason)
	}
}

// TestOrderStatus_SyncAndEvents 状态迁移同步订单状态并发布事件
func TestOrderStatus_SyncAndEvents(t *testing.T) {
	svc, orderStore, events := newTestMerchant(t)
	ctx := context.Background()

	if _, err := svc.CreateTransaction(ctx, createParams("T1")); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}
	order, _ := orderStore.GetByOrderID(ctx, testOrderID)
	if order.Status != model.OrderStatusProcessing {
		t.Errorf("创建后订单状态 = %s, want PROCESSING", order.Status)
	}

	if _, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"}); err != nil {
		t.Fatalf("PerformTransaction error = %v", err)
	}
	order, _ = orderStore.GetByOrderID(ctx, testOrderID)
	if order.Status != model.OrderStatusCompleted {
		t.Errorf("执行后订单状态 = %s, want COMPLETED", order.Status)
	}

	if len(events.Events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(events.Events))
	}
	if events.Events[0].OrderID != testOrderID || events.Events[0].Status != model.OrderStatusCompleted {
		t.Errorf("事件不符: %+v", events.Events[0])
	}

	// 幂等重放不重复发事件
	if _, err := svc.PerformTransaction(ctx, &PerformParams{ID: "T1"}); err != nil {
		t.Fatalf("重放 PerformTransaction error = %v", err)
	}
	if len(events.Events) != 1 {
		t.Errorf("重放后事件数 = %d, want 1", len(events.Events))
	}
}

// TestCancelStale_TimeoutReason 超时任务以 reason=4 取消停留的 Created 交易
func TestCancelStale_TimeoutReason(t *testing.T) {
	svc, _, _ := newTestMerchant(t)
	ctx := context.Background()

	// 两小时前创建的交易
	if _, err := svc.CreateTransaction(ctx, &CreateParams{
		ID:      "T1",
		Time:    time.Now().Add(-2 * time.Hour).UnixMilli(),
		Amount:  testAmount,
		Account: AccountParams{OrderID: testOrderID},
	}); err != nil {
		t.Fatalf("CreateTransaction error = %v", err)
	}

	cancelled, err := svc.CancelStaleTransactions(ctx, time.Hour, 100)
	if err != nil {
		t.Fatalf("CancelStaleTransactions error = %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1", cancelled)
	}

	check, _ := svc.CheckTransaction(ctx, &CheckParams{ID: "T1"})
	if check.State != -1 {
		t.Errorf("state = %d, want -1", check.State)
	}
	if check.Reason == nil || *check.Reason != model.ReasonTimeout {
		t.Errorf("reason = %v, want 4", check.Reason)
	}

	// 已取消的交易不会被再次扫到
	cancelled, err = svc.CancelStaleTransactions(ctx, time.Hour, 100)
	if err != nil {
		t.Fatalf("第二次 CancelStaleTransactions error = %v", err)
	}
	if cancelled != 0 {
		t.Errorf("第二次 cancelled = %d, want 0", cancelled)
	}
}
