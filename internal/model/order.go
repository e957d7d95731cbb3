package model

import (
	"time"
)

const (
	OrderStatusPending    = "PENDING"    // 待支付
	OrderStatusProcessing = "PROCESSING" // 已有交易在途
	OrderStatusCompleted  = "COMPLETED"  // 支付完成
	OrderStatusCancelled  = "CANCELLED"  // 已取消（含支付后退款）
)

// Order 商户订单表
// 订单由商户侧业务创建，Payme 回调只读取 OrderID 和 Amount 做校验，
// Status 随交易状态机迁移被动更新
type Order struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	Amount      int64     `gorm:"not null" json:"amount"` // 应付金额（tiyin）
	Description string    `gorm:"type:varchar(256)" json:"description"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "merchant_order"
}
