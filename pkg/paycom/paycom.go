// Package paycom 实现 Payme 商户协议的 JSON-RPC 2.0 信封和错误码表。
//
// Payme 网关以 JSON-RPC 回调商户，无论业务成功失败，HTTP 状态码始终是 200，
// 错误通过信封里的 error 对象表达。错误码是协议固定值，不能自行扩展。
package paycom

import (
	"encoding/json"
	"fmt"
)

// Payme 协议错误码
const (
	CodeInvalidAmount          = -31001 // 金额与订单不符
	CodeTransactionNotFound    = -31003 // 交易不存在（部分网关变体使用，本服务统一返回 -31050）
	CodeUnableToPerform        = -31008 // 当前状态下无法执行该操作
	CodeInvalidAccount         = -31050 // 订单不存在 / 交易不存在
	CodeOrderHasTransaction    = -31099 // 订单已存在活跃交易
	CodeParseError             = -32700 // 请求体不是合法 JSON
	CodeInvalidRequest         = -32600 // 请求参数不合法
	CodeMethodNotFound         = -32601 // 未知方法
	CodeInternalError          = -32603 // 内部错误
	CodeInsufficientPrivileges = -32504 // 认证失败
)

// Request JSON-RPC 请求信封
// ID 由 Payme 生成，响应时必须原样回传，所以用 RawMessage 保存
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// Response JSON-RPC 响应信封
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error 协议级业务错误
// Data 在账户类错误里携带出错的字段名（如 order_id），其余情况为空
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("paycom error %d: %s", e.Code, e.Message)
}

// NewError 创建协议错误
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewAccountError 创建携带字段名的账户类错误
func NewAccountError(code int, message, field string) *Error {
	return &Error{Code: code, Message: message, Data: field}
}

// NewResult 构造成功响应
func NewResult(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

// NewErrorResponse 构造错误响应
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Error: err}
}

// normalizeID 请求里没有 id 时回传 null，保证信封始终完整
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
