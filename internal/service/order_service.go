package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/cache"
	"github.com/d60-Lab/order-payments/internal/integration"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/repository"
)

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// RefundStatusRequested 已向支付服务提交退款
const RefundStatusRequested = "requested"

// OrderItemInput 下单请求中的订单行
type OrderItemInput struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
}

// CreateOrderInput 下单参数
type CreateOrderInput struct {
	UserID          string
	UserEmail       string
	Items           []OrderItemInput
	ShippingAddress model.Address
	BillingAddress  *model.Address
	PaymentMethod   model.PaymentMethod
	ShippingMethod  string
	ShippingCost    decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	ClientSubtotal  *decimal.Decimal
	ClientTotal     *decimal.Decimal
	Currency        string
	Notes           string
	Metadata        map[string]any
}

// PaymentData 支付成功回调带来的支付信息
type PaymentData struct {
	TransactionID string
	ReceiptNumber string
	PhoneNumber   string
	Amount        decimal.Decimal
	PaidAt        time.Time
}

// OrderPage 用户订单分页结果
type OrderPage struct {
	Orders     []*model.UserOrder `json:"orders"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// OrderAnalytics 时间范围内的订单统计
type OrderAnalytics struct {
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	TotalOrders       int             `json:"total_orders"`
	ByStatus          map[string]int  `json:"by_status"`
	ByPaymentStatus   map[string]int  `json:"by_payment_status"`
	PaidOrders        int             `json:"paid_orders"`
	Revenue           decimal.Decimal `json:"revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}

// OrderService 订单服务
type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListUserOrders(ctx context.Context, userID, cursor string, limit int) (*OrderPage, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next model.OrderStatus, reason, actorID string) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID, reason, actorID string) (*model.Order, error)
	ProcessPayment(ctx context.Context, orderID string, payment PaymentData) (*model.Order, error)
	Analytics(ctx context.Context, from, to time.Time) (*OrderAnalytics, error)
}

type orderService struct {
	repo      repository.OrderRepository
	inventory integration.Inventory
	notifier  integration.Notifier
	refunder  integration.Refunder
	cache     cache.OrderCache
	tasks     TaskQueue
	best      BestEffort
	log       *zap.Logger
	now       func() time.Time
}

// OrderOption 订单服务可选依赖
type OrderOption func(*orderService)

func WithOrderCache(c cache.OrderCache) OrderOption { return func(s *orderService) { s.cache = c } }

// WithTaskQueue 邮件等副作用交给后台执行；未设置时同步执行
func WithTaskQueue(q TaskQueue) OrderOption { return func(s *orderService) { s.tasks = q } }

func WithBestEffort(b BestEffort) OrderOption { return func(s *orderService) { s.best = b } }

func WithOrderLogger(l *zap.Logger) OrderOption { return func(s *orderService) { s.log = l } }

func WithOrderClock(now func() time.Time) OrderOption { return func(s *orderService) { s.now = now } }

func NewOrderService(repo repository.OrderRepository, inventory integration.Inventory, notifier integration.Notifier, refunder integration.Refunder, opts ...OrderOption) OrderService {
	s := &orderService{
		repo:      repo,
		inventory: inventory,
		notifier:  notifier,
		refunder:  refunder,
		cache:     cache.Nop{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.best == nil {
		s.best = NewLoggingBestEffort(s.log)
	}
	if s.tasks == nil {
		s.tasks = inlineQueue{best: s.best}
	}
	return s
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	stock := make([]integration.StockItem, len(in.Items))
	for i, it := range in.Items {
		stock[i] = integration.StockItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	if err := s.inventory.Validate(ctx, stock); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	items, subtotal := priceItems(in.Items)
	total := subtotal.Add(in.ShippingCost).Sub(in.Discount).Add(in.Tax)

	billing := in.ShippingAddress
	if in.BillingAddress != nil {
		billing = *in.BillingAddress
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = model.DefaultCurrency
	}

	order := &model.Order{
		ID:              uuid.New().String(),
		OrderNumber:     newOrderNumber(now),
		UserID:          in.UserID,
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.PaymentStatusPending,
		ShippingStatus:  model.ShippingStatusPending,
		PaymentMethod:   in.PaymentMethod,
		ShippingMethod:  in.ShippingMethod,
		Items:           items,
		ShippingAddress: datatypes.NewJSONType(in.ShippingAddress),
		BillingAddress:  datatypes.NewJSONType(billing),
		Subtotal:        subtotal,
		ShippingCost:    in.ShippingCost,
		Discount:        in.Discount,
		Tax:             in.Tax,
		Total:           total,
		Currency:        currency,
		ClientSubtotal:  in.ClientSubtotal,
		ClientTotal:     in.ClientTotal,
		Notes:           in.Notes,
		Metadata:        datatypes.JSONMap(in.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.RecordStatus(model.OrderStatusPending, now, "order created", in.UserID)

	if err := s.repo.Create(ctx, order, newOrderEvent(order, model.EventOrderCreated, now, nil)); err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("order_id", order.ID), zap.String("order_number", order.OrderNumber)}
	s.best.Attempt(ctx, "inventory.reserve", func(ctx context.Context) error {
		return s.inventory.Reserve(ctx, order.ID, stock)
	}, fields...)

	if in.UserEmail != "" {
		email := integration.Email{
			To:       in.UserEmail,
			Template: integration.TemplateOrderConfirmation,
			Data: map[string]any{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
				"total":        order.Total.StringFixed(2),
				"currency":     order.Currency,
			},
		}
		s.tasks.Enqueue("notification.order_confirmation", func(ctx context.Context) error {
			return s.notifier.SendEmail(ctx, email)
		}, fields...)
	}

	s.log.Info("order created", append(fields, zap.String("user_id", order.UserID), zap.String("total", order.Total.String()))...)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if o, ok := s.cache.Get(ctx, orderID); ok {
		return o, nil
	}
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, o)
	return o, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID, cursor string, limit int) (*OrderPage, error) {
	after, err := repository.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	rows, err := s.repo.ListByUser(ctx, userID, after, limit+1)
	if err != nil {
		return nil, err
	}
	page := &OrderPage{Orders: rows}
	if len(rows) > limit {
		page.Orders = rows[:limit]
		last := page.Orders[limit-1]
		page.NextCursor = repository.Cursor{CreatedAt: last.CreatedAt, OrderID: last.OrderID}.Encode()
	}
	if page.Orders == nil {
		page.Orders = []*model.UserOrder{}
	}
	return page, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID string, next model.OrderStatus, reason, actorID string) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	prev := order.Status
	if !CanTransition(prev, next) {
		return nil, apperr.InvalidState("order %s cannot move from %s to %s", orderID, prev, next)
	}

	now := s.now().UTC()
	order.Status = next
	if ship, ok := shippingFor(next); ok {
		order.ShippingStatus = ship
	}
	order.RecordStatus(next, now, reason, actorID)
	order.UpdatedAt = now

	ev := newOrderEvent(order, model.EventOrderStatusChanged, now, map[string]any{"from": prev, "to": next, "reason": reason, "by": actorID})
	if err := s.repo.Save(ctx, order, ev); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orderID)

	s.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("by", actorID))
	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, orderID, reason, actorID string) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !cancellable(order.Status) {
		return nil, apperr.InvalidState("order %s cannot be cancelled in status %s", orderID, order.Status)
	}
	wasPaid := order.PaymentStatus == model.PaymentStatusPaid
	prev := order.Status

	now := s.now().UTC()
	order.Status = model.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelledBy = actorID
	order.CancelReason = reason
	order.RecordStatus(model.OrderStatusCancelled, now, reason, actorID)
	order.UpdatedAt = now

	ev := newOrderEvent(order, model.EventOrderCancelled, now, map[string]any{"from": prev, "reason": reason, "by": actorID, "refund": wasPaid})
	if err := s.repo.Save(ctx, order, ev); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orderID)

	fields := []zap.Field{zap.String("order_id", orderID)}
	s.best.Attempt(ctx, "inventory.release", func(ctx context.Context) error {
		return s.inventory.Release(ctx, orderID, stockItems(order))
	}, fields...)

	if wasPaid {
		s.refund(ctx, order, order.Total, reason)
	}

	s.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("by", actorID), zap.Bool("refund", wasPaid))
	return order, nil
}

func (s *orderService) ProcessPayment(ctx context.Context, orderID string, payment PaymentData) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}
	info := datatypes.NewJSONType(model.PaymentInfo{
		TransactionID: payment.TransactionID,
		ReceiptNumber: payment.ReceiptNumber,
		PhoneNumber:   payment.PhoneNumber,
		Amount:        payment.Amount,
		PaidAt:        payment.PaidAt,
	})
	order.Payment = &info
	order.PaymentStatus = model.PaymentStatusPaid
	order.UpdatedAt = now

	events := []*model.Outbox{newOrderEvent(order, model.EventOrderPaid, now, map[string]any{
		"receipt_number": payment.ReceiptNumber,
		"amount":         payment.Amount.String(),
	})}
	if order.Status == model.OrderStatusPending {
		order.Status = model.OrderStatusConfirmed
		order.RecordStatus(model.OrderStatusConfirmed, now, "payment received", "system")
		events = append(events, newOrderEvent(order, model.EventOrderStatusChanged, now, map[string]any{
			"from": model.OrderStatusPending, "to": model.OrderStatusConfirmed, "reason": "payment received",
		}))
	}
	if err := s.repo.Save(ctx, order, events...); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orderID)

	// 用户取消后才完成付款：库存已释放，直接退款
	if order.Status == model.OrderStatusCancelled {
		s.log.Warn("payment received for cancelled order, refunding",
			zap.String("order_id", orderID),
			zap.String("receipt", payment.ReceiptNumber),
			zap.String("amount", payment.Amount.String()))
		s.refund(ctx, order, payment.Amount, "payment received after cancellation")
		return order, nil
	}

	s.best.Attempt(ctx, "inventory.confirm", func(ctx context.Context) error {
		return s.inventory.Confirm(ctx, orderID, stockItems(order))
	}, zap.String("order_id", orderID))

	s.log.Info("order paid", zap.String("order_id", orderID), zap.String("receipt", payment.ReceiptNumber))
	return order, nil
}

// refund 尽力发起退款，成功提交后记录退款状态
func (s *orderService) refund(ctx context.Context, order *model.Order, amount decimal.Decimal, reason string) {
	fields := []zap.Field{zap.String("order_id", order.ID)}
	req := integration.RefundRequest{OrderID: order.ID, Amount: amount, Reason: reason}
	if order.Payment != nil {
		req.TransactionID = order.Payment.Data().ReceiptNumber
	}
	refunded := s.best.Attempt(ctx, "payments.refund", func(ctx context.Context) error {
		return s.refunder.RequestRefund(ctx, req)
	}, fields...)
	if !refunded {
		return
	}
	at := s.now().UTC()
	order.RefundStatus = RefundStatusRequested
	order.RefundRequestedAt = &at
	order.UpdatedAt = at
	s.best.Attempt(ctx, "order.record_refund", func(ctx context.Context) error {
		return s.repo.Save(ctx, order)
	}, fields...)
	s.cache.Invalidate(ctx, order.ID)
}

func (s *orderService) Analytics(ctx context.Context, from, to time.Time) (*OrderAnalytics, error) {
	if !from.Before(to) {
		return nil, apperr.Validation("analytics range: from must be before to")
	}
	orders, err := s.repo.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	res := &OrderAnalytics{
		From:              from,
		To:                to,
		TotalOrders:       len(orders),
		ByStatus:          make(map[string]int),
		ByPaymentStatus:   make(map[string]int),
		Revenue:           decimal.Zero,
		AverageOrderValue: decimal.Zero,
	}
	for _, o := range orders {
		res.ByStatus[string(o.Status)]++
		res.ByPaymentStatus[string(o.PaymentStatus)]++
		if o.PaymentStatus == model.PaymentStatusPaid {
			res.PaidOrders++
			res.Revenue = res.Revenue.Add(o.Total)
		}
	}
	if res.PaidOrders > 0 {
		res.AverageOrderValue = res.Revenue.Div(decimal.NewFromInt(int64(res.PaidOrders))).Round(2)
	}
	return res, nil
}

func validateCreateInput(in CreateOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.Validation("user id is required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("order must contain at least one item")
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.Validation("item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return apperr.Validation("item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() || it.Discount.IsNegative() || it.Tax.IsNegative() {
			return apperr.Validation("item %d: amounts must not be negative", i)
		}
	}
	if !in.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment method %q", in.PaymentMethod)
	}
	if in.ShippingCost.IsNegative() || in.Discount.IsNegative() || in.Tax.IsNegative() {
		return apperr.Validation("shipping cost, discount and tax must not be negative")
	}
	if strings.TrimSpace(in.ShippingAddress.Line1) == "" || strings.TrimSpace(in.ShippingAddress.City) == "" {
		return apperr.Validation("shipping address requires line1 and city")
	}
	return nil
}

// priceItems 重算每行金额：单价 * 数量 - 行折扣 + 行税
func priceItems(in []OrderItemInput) (datatypes.JSONSlice[model.OrderItem], decimal.Decimal) {
	items := make(datatypes.JSONSlice[model.OrderItem], len(in))
	subtotal := decimal.Zero
	for i, it := range in {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Sub(it.Discount).Add(it.Tax)
		items[i] = model.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Discount:  it.Discount,
			Tax:       it.Tax,
			LineTotal: line,
		}
		subtotal = subtotal.Add(line)
	}
	return items, subtotal
}

func stockItems(o *model.Order) []integration.StockItem {
	out := make([]integration.StockItem, len(o.Items))
	for i, it := range o.Items {
		out[i] = integration.StockItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// newOrderNumber ORD-<毫秒时间戳>-<6位大写十六进制>
func newOrderNumber(now time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(b[:])))
}

func newOrderEvent(o *model.Order, eventType string, at time.Time, extra map[string]any) *model.Outbox {
	id := uuid.New().String()
	payload := map[string]any{
		"event_id":       id,
		"event_type":     eventType,
		"order_id":       o.ID,
		"order_number":   o.OrderNumber,
		"user_id":        o.UserID,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"total":          o.Total.StringFixed(2),
		"currency":       o.Currency,
		"occurred_at":    at,
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, _ := json.Marshal(payload)
	return &model.Outbox{
		ID:          id,
		AggregateID: o.ID,
		EventType:   eventType,
		Payload:     datatypes.JSON(data),
		CreatedAt:   at,
		Status:      model.OutboxStatusPending,
	}
}
