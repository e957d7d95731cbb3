package model

import (
	"time"
)

// ============================================================================
// Payme 交易状态机
// ============================================================================
//
// 状态值由 Payme 协议规定：
//
//	 1  Created                 交易已创建，等待支付确认
//	 2  Performed               支付已完成
//	-1  CancelledBeforePerform  支付前取消（从 Created 取消）
//	-2  CancelledAfterPerform   支付后取消（从 Performed 取消，相当于退款）
//
// 状态只能单向推进：
//
//	Created -> Performed -> CancelledAfterPerform
//	Created -> CancelledBeforePerform
//
// 任何已取消的状态都是终态，不允许再发生任何迁移
// ============================================================================

// TransactionState 交易状态
type TransactionState int

const (
	StateCreated                TransactionState = 1
	StatePerformed              TransactionState = 2
	StateCancelledBeforePerform TransactionState = -1
	StateCancelledAfterPerform  TransactionState = -2
)

// ValidStateTransitions 合法的状态迁移表
var ValidStateTransitions = map[TransactionState][]TransactionState{
	StateCreated:   {StatePerformed, StateCancelledBeforePerform},
	StatePerformed: {StateCancelledAfterPerform},
}

// CanTransitionTo 判断状态迁移是否合法
func CanTransitionTo(current, target TransactionState) bool {
	allowed, exists := ValidStateTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// IsActive 判断交易是否处于活跃状态
// 活跃交易（Created 或 Performed）会阻塞同一订单创建新交易，这是防止重复扣款的关键
func (s TransactionState) IsActive() bool {
	return s == StateCreated || s == StatePerformed
}

// IsCancelled 判断交易是否已取消
func (s TransactionState) IsCancelled() bool {
	return s == StateCancelledBeforePerform || s == StateCancelledAfterPerform
}

// Payme 协议的取消原因码
const (
	ReasonReceiverNotFound = 1  // 收款方不存在
	ReasonDebitFailed      = 2  // 扣款失败
	ReasonTransactionError = 3  // 交易执行出错
	ReasonTimeout          = 4  // 交易超时未确认
	ReasonRefund           = 5  // 退款
	ReasonUnknown          = 10 // 其他未知原因
)

// PaymeTransaction Payme 交易表
// PaycomID 是 Payme 侧生成的交易ID，全局唯一，同时充当所有操作的幂等键
// create_time/perform_time/cancel_time 均为毫秒时间戳，0 表示尚未发生
type PaymeTransaction struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	PaycomID    string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"paycom_id"` // Payme 侧交易ID（幂等键）
	OrderID     string           `gorm:"type:varchar(64);index;not null" json:"order_id"`        // 关联商户订单号
	Amount      int64            `gorm:"not null" json:"amount"`                                  // 金额（tiyin，最小货币单位）
	State       TransactionState `gorm:"index;not null" json:"state"`
	CreateTime  int64            `gorm:"not null;index" json:"create_time"` // Payme 传入的创建时间（毫秒）
	PerformTime int64            `gorm:"not null;default:0" json:"perform_time"`
	CancelTime  int64            `gorm:"not null;default:0" json:"cancel_time"`
	Reason      *int             `json:"reason"` // 取消原因，只写一次，未取消为 NULL
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymeTransaction) TableName() string {
	return "payme_transaction"
}
