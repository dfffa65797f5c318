package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/service"
	"github.com/d60-Lab/order-payments/pkg/response"
)

const defaultAnalyticsWindow = 30 * 24 * time.Hour

type orderItemRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
}

type addressRequest struct {
	FullName   string `json:"full_name" binding:"required"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	County     string `json:"county"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" binding:"required"`
}

func (a addressRequest) toModel() model.Address {
	return model.Address{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		County:     a.County,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items" binding:"required,min=1,dive"`
	ShippingAddress addressRequest     `json:"shipping_address" binding:"required"`
	BillingAddress  *addressRequest    `json:"billing_address"`
	PaymentMethod   string             `json:"payment_method" binding:"required,payment_method"`
	ShippingMethod  string             `json:"shipping_method"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
	Discount        decimal.Decimal    `json:"discount"`
	Tax             decimal.Decimal    `json:"tax"`
	Subtotal        *decimal.Decimal   `json:"subtotal"`
	Total           *decimal.Decimal   `json:"total"`
	Currency        string             `json:"currency" binding:"omitempty,len=3"`
	Notes           string             `json:"notes" binding:"max=1000"`
	Metadata        map[string]any     `json:"metadata"`
}

func (r createOrderRequest) toInput(userID, email string) service.CreateOrderInput {
	items := make([]service.OrderItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, service.OrderItemInput{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Discount:  it.Discount,
			Tax:       it.Tax,
		})
	}
	in := service.CreateOrderInput{
		UserID:          userID,
		UserEmail:       email,
		Items:           items,
		ShippingAddress: r.ShippingAddress.toModel(),
		PaymentMethod:   model.PaymentMethod(r.PaymentMethod),
		ShippingMethod:  r.ShippingMethod,
		ShippingCost:    r.ShippingCost,
		Discount:        r.Discount,
		Tax:             r.Tax,
		ClientSubtotal:  r.Subtotal,
		ClientTotal:     r.Total,
		Currency:        r.Currency,
		Notes:           r.Notes,
		Metadata:        r.Metadata,
	}
	if r.BillingAddress != nil {
		addr := r.BillingAddress.toModel()
		in.BillingAddress = &addr
	}
	return in
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CreateOrder 创建订单
// @Summary 创建订单
// @Description 服务端按订单行重算金额，库存校验通过后落库并异步预留库存
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createOrderRequest true "下单信息"
// @Success 201 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/v1/orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	id := identity(c)
	order, err := h.orders.CreateOrder(c.Request.Context(), req.toInput(id.UserID, id.Email))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// ListOrders 当前用户的订单列表
// @Summary 我的订单
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param cursor query string false "上一页返回的 next_cursor"
// @Param limit query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=service.OrderPage}
// @Failure 400 {object} response.Response
// @Router /api/v1/orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	limit := service.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	page, err := h.orders.ListUserOrders(c.Request.Context(), identity(c).UserID, c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

// GetOrder 订单详情
// @Summary 订单详情
// @Description 仅订单所有者或管理员可见
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	order, ok := h.authorizedOrder(c, c.Param("id"))
	if !ok {
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消订单
// @Summary 取消订单
// @Description 仅 pending/confirmed 可取消；已支付订单会发起退款
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body cancelRequest false "取消原因"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id}/cancel [post]
func (h *Handler) CancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if _, ok := h.authorizedOrder(c, c.Param("id")); !ok {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason, identity(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// UpdateOrderStatus 管理员推进订单状态
// @Summary 更新订单状态
// @Tags 订单管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body statusRequest true "目标状态"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id}/status [patch]
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	next, ok := parseStatus(req.Status)
	if !ok {
		response.BadRequest(c, "unknown order status: "+req.Status)
		return
	}
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), next, req.Reason, identity(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, order)
}

// Analytics 订单统计
// @Summary 订单统计
// @Description from/to 支持 RFC3339 或 YYYY-MM-DD，默认最近 30 天
// @Tags 订单管理
// @Produce json
// @Security BearerAuth
// @Param from query string false "开始时间"
// @Param to query string false "结束时间"
// @Success 200 {object} response.Response{data=service.OrderAnalytics}
// @Failure 400 {object} response.Response
// @Router /api/v1/orders/analytics [get]
func (h *Handler) Analytics(c *gin.Context) {
	to := time.Now().UTC()
	if raw := c.Query("to"); raw != "" {
		t, dateOnly, err := parseTime(raw)
		if err != nil {
			response.BadRequest(c, "invalid to: "+raw)
			return
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		to = t
	}
	from := to.Add(-defaultAnalyticsWindow)
	if raw := c.Query("from"); raw != "" {
		t, _, err := parseTime(raw)
		if err != nil {
			response.BadRequest(c, "invalid from: "+raw)
			return
		}
		from = t
	}
	stats, err := h.orders.Analytics(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

func parseStatus(s string) (model.OrderStatus, bool) {
	for _, st := range model.AllOrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// parseTime 接受 RFC3339 或 YYYY-MM-DD，后者按 UTC 零点
func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
