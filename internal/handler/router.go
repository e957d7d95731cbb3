package handler

import (
	"paymeservice/internal/config"

	"github.com/gin-gonic/gin"
)

// NewRouter 配置路由
func NewRouter(h *Handler, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// Payme 回调入口：认证必须先于方法分发
	r.POST("/paycom", PaycomAuthMiddleware(&cfg.Paycom), h.Paycom)

	// 前端 API 路由组
	api := r.Group("/api/v1")
	{
		order := api.Group("/order")
		{
			order.POST("/create", h.CreateOrder)
			order.GET("/status", h.GetOrderStatus)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
