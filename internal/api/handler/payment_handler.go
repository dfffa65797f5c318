package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/service"
	"github.com/d60-Lab/order-payments/pkg/response"
)

type stkPushRequest struct {
	OrderID     string `json:"order_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required,ke_phone"`
	// Amount 为空时按订单总额（向上取整到整数先令）
	Amount      int64  `json:"amount" binding:"omitempty,gt=0"`
	Description string `json:"description" binding:"max=64"`
}

// InitiateSTKPush 发起 M-Pesa STK Push
// @Summary 发起 STK Push 支付
// @Description 向用户手机推送支付确认，结果通过回调异步通知
// @Tags 支付
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body stkPushRequest true "支付信息"
// @Success 201 {object} response.Response{data=model.Transaction}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/v1/payments/mpesa/stkpush [post]
func (h *Handler) InitiateSTKPush(c *gin.Context) {
	var req stkPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	order, ok := h.authorizedOrder(c, req.OrderID)
	if !ok {
		return
	}
	if order.PaymentStatus == model.PaymentStatusPaid || order.Status == model.OrderStatusCancelled {
		response.Error(c, errPaymentNotAllowed)
		return
	}
	amount := req.Amount
	if amount == 0 {
		amount = order.Total.Ceil().IntPart()
	}
	if decimal.NewFromInt(amount).GreaterThan(order.Total.Ceil()) {
		response.BadRequest(c, "amount exceeds order total")
		return
	}
	tx, err := h.payments.InitiateSTKPush(c.Request.Context(), service.InitiatePaymentInput{
		OrderID:          order.ID,
		PhoneNumber:      req.PhoneNumber,
		Amount:           amount,
		AccountReference: order.OrderNumber,
		Description:      req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tx)
}

// QuerySTKStatus 主动查询 STK Push 状态
// @Summary 查询支付状态
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param checkoutRequestId path string true "CheckoutRequestID"
// @Success 200 {object} response.Response{data=model.Transaction}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/v1/payments/mpesa/status/{checkoutRequestId} [get]
func (h *Handler) QuerySTKStatus(c *gin.Context) {
	checkoutID := c.Param("checkoutRequestId")
	existing, err := h.payments.GetTransaction(c.Request.Context(), checkoutID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, ok := h.authorizedOrder(c, existing.OrderID); !ok {
		return
	}
	tx, err := h.payments.QueryTransaction(c.Request.Context(), checkoutID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tx)
}

// ListOrderTransactions 订单的支付流水
// @Summary 订单支付流水
// @Tags 支付
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "订单ID"
// @Success 200 {object} response.Response{data=[]model.Transaction}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/payments/orders/{orderId}/transactions [get]
func (h *Handler) ListOrderTransactions(c *gin.Context) {
	order, ok := h.authorizedOrder(c, c.Param("orderId"))
	if !ok {
		return
	}
	txs, err := h.payments.ListTransactions(c.Request.Context(), order.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, txs)
}

// errPaymentNotAllowed 订单状态不允许再次发起支付
var errPaymentNotAllowed = apperr.InvalidState("order is not awaiting payment")
