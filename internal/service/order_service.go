package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"paymeservice/internal/config"
	"paymeservice/internal/model"
	"paymeservice/pkg/idgen"
)

var ErrOrderNotFound = errors.New("订单不存在")

// OrderService 商户侧订单服务：创建订单、生成收银台链接、查询支付状态
// 供前端使用，Payme 回调不经过这里
type OrderService struct {
	orderStore OrderStore
	cfg        *config.PaycomConfig
}

func NewOrderService(orderStore OrderStore, cfg *config.PaycomConfig) *OrderService {
	return &OrderService{
		orderStore: orderStore,
		cfg:        cfg,
	}
}

type CreateOrderRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"` // 应付金额（tiyin）
	Description string `json:"description"`
}

type CreateOrderResponse struct {
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	PaymentURL string `json:"payment_url"`
}

// CreateOrder 创建订单并生成 Payme 收银台链接
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	order := &model.Order{
		OrderID:     idgen.GenerateOrderNo(),
		Amount:      req.Amount,
		Description: req.Description,
		Status:      model.OrderStatusPending,
	}
	if err := s.orderStore.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	return &CreateOrderResponse{
		OrderID:    order.OrderID,
		Amount:     order.Amount,
		Status:     order.Status,
		PaymentURL: s.BuildCheckoutURL(order.OrderID, order.Amount),
	}, nil
}

// BuildCheckoutURL 生成收银台跳转链接
// Payme 约定：参数串 m=商户ID;ac.账户字段=值;a=金额 整体 base64 后拼到收银台域名后面
func (s *OrderService) BuildCheckoutURL(orderID string, amount int64) string {
	params := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", s.cfg.MerchantID, orderID, amount)
	return fmt.Sprintf("%s/%s", s.cfg.CheckoutURL, base64.StdEncoding.EncodeToString([]byte(params)))
}

type OrderStatusResponse struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// GetOrderStatus 查询订单支付状态，前端轮询用
func (s *OrderService) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	order, err := s.orderStore.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	return &OrderStatusResponse{
		OrderID: order.OrderID,
		Amount:  order.Amount,
		Status:  order.Status,
	}, nil
}
