package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/api/middleware"
	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/service"
	"github.com/d60-Lab/order-payments/pkg/response"
)

// CallbackProcessor 处理网关回调；*service.CallbackReconciler 实现该接口
type CallbackProcessor interface {
	Reconcile(ctx context.Context, cb mpesa.STKCallback, raw []byte) error
}

// Handler HTTP 处理器集合
type Handler struct {
	orders    service.OrderService
	payments  service.PaymentService
	callbacks CallbackProcessor
	log       *zap.Logger
}

func NewHandler(orders service.OrderService, payments service.PaymentService, callbacks CallbackProcessor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{orders: orders, payments: payments, callbacks: callbacks, log: log}
}

func identity(c *gin.Context) middleware.Identity {
	id, _ := middleware.CurrentIdentity(c)
	return id
}

// authorizedOrder 读取订单并校验本人或管理员
func (h *Handler) authorizedOrder(c *gin.Context, orderID string) (*model.Order, bool) {
	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !identity(c).CanAccess(order.UserID) {
		response.Error(c, apperr.ErrForbidden)
		return nil, false
	}
	return order, true
}
