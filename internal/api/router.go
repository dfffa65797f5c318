// Package api 组装 gin 路由
package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/api/handler"
	"github.com/d60-Lab/order-payments/internal/api/middleware"
	"github.com/d60-Lab/order-payments/internal/mpesa"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	Handler     *handler.Handler
	Logger      *zap.Logger
	JWTSecret   string
	JWTIssuer   string
	Limiter     *middleware.IPRateLimiter
	ServiceName string
	Health      map[string]handler.Pinger
	Tracing     bool
	Swagger     bool
}

// NewRouter 注册全部路由
func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(middleware.AccessLog(opts.Logger))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", handler.Health(opts.Health))
	if opts.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := opts.Handler
	// 网关回调不带令牌也不限流，必须始终回确认
	r.POST(mpesa.CallbackPath, h.MpesaCallback)

	v1 := r.Group("/api/v1")
	if opts.Limiter != nil {
		v1.Use(middleware.RateLimit(opts.Limiter))
	}

	authed := v1.Group("", middleware.JWTAuth(opts.JWTSecret, opts.JWTIssuer))
	{
		orders := authed.Group("/orders")
		orders.POST("", h.CreateOrder)
		orders.GET("", h.ListOrders)
		orders.GET("/analytics", middleware.RequireAdmin(), h.Analytics)
		orders.GET("/:id", h.GetOrder)
		orders.POST("/:id/cancel", h.CancelOrder)
		orders.PATCH("/:id/status", middleware.RequireAdmin(), h.UpdateOrderStatus)

		payments := authed.Group("/payments")
		payments.POST("/mpesa/stkpush", h.InitiateSTKPush)
		payments.GET("/mpesa/status/:checkoutRequestId", h.QuerySTKStatus)
		payments.GET("/orders/:orderId/transactions", h.ListOrderTransactions)
	}
	return r
}
