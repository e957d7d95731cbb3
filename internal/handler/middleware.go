package handler

import (
	"log"
	"net/http"
	"time"

	"paymeservice/internal/config"
	"paymeservice/pkg/paycom"

	"github.com/gin-gonic/gin"
)

// PaycomAuthMiddleware Payme 回调认证
//
// 网关用 HTTP Basic 携带凭证（用户名固定 Paycom，密码是商户密钥）。
// 认证失败时按协议要求仍然返回 HTTP 200，错误放在 JSON-RPC 信封里，
// 并回传请求的 id（解析不出来就回 null）
func PaycomAuthMiddleware(cfg *config.PaycomConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		login, key, ok := c.Request.BasicAuth()
		if ok && login == cfg.Login && key == cfg.Key {
			c.Next()
			return
		}

		id := peekRequestID(c)
		log.Printf("[Paycom] 认证失败: ip=%s", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusOK, paycom.NewErrorResponse(id,
			paycom.NewError(paycom.CodeInsufficientPrivileges, "Insufficient privileges")))
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		// 记录日志
		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
// 回调路径上的任何未捕获故障都降级为 -32603，网关永远收到完整信封
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(http.StatusOK, paycom.NewErrorResponse(nil,
					paycom.NewError(paycom.CodeInternalError, "Internal error")))
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件（前端订单接口用）
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
