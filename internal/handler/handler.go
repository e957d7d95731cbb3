package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"paymeservice/internal/service"
	"paymeservice/pkg/paycom"
	"paymeservice/pkg/response"

	"github.com/gin-gonic/gin"
)

// rpcHandler 单个 JSON-RPC 方法的处理函数
type rpcHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Handler 统一处理器：Payme 回调分发 + 前端订单接口
type Handler struct {
	merchant *service.MerchantService
	order    *service.OrderService
	methods  map[string]rpcHandler
}

// NewHandler 创建处理器实例
// 方法名到处理函数的映射表就是协议分发器：状态机逻辑全部收敛在
// MerchantService 里，这里只负责参数绑定和信封包装
func NewHandler(merchant *service.MerchantService, order *service.OrderService) *Handler {
	h := &Handler{
		merchant: merchant,
		order:    order,
	}
	h.methods = map[string]rpcHandler{
		"CheckPerformTransaction": h.checkPerformTransaction,
		"CreateTransaction":       h.createTransaction,
		"PerformTransaction":      h.performTransaction,
		"CancelTransaction":       h.cancelTransaction,
		"CheckTransaction":        h.checkTransaction,
		"GetStatement":            h.getStatement,
	}
	return h
}

// ============================================================
// Payme 回调入口
// ============================================================

// Paycom 处理 Payme 网关的 JSON-RPC 回调
// POST /paycom
//
// 【关键点】无论什么结果 HTTP 状态码都是 200，业务错误走信封里的
// error 对象；未知内部错误一律降级为 -32603，不向网关泄露内部细节
func (h *Handler) Paycom(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, paycom.NewErrorResponse(nil,
			paycom.NewError(paycom.CodeParseError, "Parse error")))
		return
	}

	var req paycom.Request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, paycom.NewErrorResponse(nil,
			paycom.NewError(paycom.CodeParseError, "Parse error")))
		return
	}

	handle, ok := h.methods[req.Method]
	if !ok {
		c.JSON(http.StatusOK, paycom.NewErrorResponse(req.ID,
			paycom.NewError(paycom.CodeMethodNotFound, "Method not found")))
		return
	}

	result, err := handle(c.Request.Context(), req.Params)
	if err != nil {
		var protoErr *paycom.Error
		if errors.As(err, &protoErr) {
			c.JSON(http.StatusOK, paycom.NewErrorResponse(req.ID, protoErr))
			return
		}
		log.Printf("[Paycom] 方法 %s 内部错误: %v", req.Method, err)
		c.JSON(http.StatusOK, paycom.NewErrorResponse(req.ID,
			paycom.NewError(paycom.CodeInternalError, "Internal error")))
		return
	}

	c.JSON(http.StatusOK, paycom.NewResult(req.ID, result))
}

func (h *Handler) checkPerformTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.CheckPerformParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.CheckPerformTransaction(ctx, &p)
}

func (h *Handler) createTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.CreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.CreateTransaction(ctx, &p)
}

func (h *Handler) performTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.PerformParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.PerformTransaction(ctx, &p)
}

func (h *Handler) cancelTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.CancelTransaction(ctx, &p)
}

func (h *Handler) checkTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.CheckParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.CheckTransaction(ctx, &p)
}

func (h *Handler) getStatement(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p service.StatementParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, paycom.NewError(paycom.CodeInvalidRequest, "Invalid params")
	}
	return h.merchant.GetStatement(ctx, &p)
}

// peekRequestID 在不消费请求体的前提下取出 JSON-RPC id，认证失败回包时用
func peekRequestID(c *gin.Context) json.RawMessage {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}

// ============================================================
// 前端订单接口
// ============================================================

// CreateOrder 创建订单并返回收银台链接
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.order.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// GetOrderStatus 查询订单支付状态
// GET /api/v1/order/status?order_id=xxx
func (h *Handler) GetOrderStatus(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		response.ParamError(c, "order_id 参数不能为空")
		return
	}

	result, err := h.order.GetOrderStatus(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			response.BusinessError(c, response.CodeOrderNotFound, "订单不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}
