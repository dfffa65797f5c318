package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/order-payments/internal/integration"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/repository"
	"github.com/d60-Lab/order-payments/internal/testutil"
)

type fakeInventory struct {
	mu          sync.Mutex
	validateErr error
	reserveErr  error
	confirmErr  error
	releaseErr  error
	calls       []string
}

func (f *fakeInventory) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeInventory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeInventory) Validate(_ context.Context, _ []integration.StockItem) error {
	f.record("validate")
	return f.validateErr
}

func (f *fakeInventory) Reserve(_ context.Context, _ string, _ []integration.StockItem) error {
	f.record("reserve")
	return f.reserveErr
}

func (f *fakeInventory) Confirm(_ context.Context, _ string, _ []integration.StockItem) error {
	f.record("confirm")
	return f.confirmErr
}

func (f *fakeInventory) Release(_ context.Context, _ string, _ []integration.StockItem) error {
	f.record("release")
	return f.releaseErr
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	emails []integration.Email
}

func (f *fakeNotifier) SendEmail(_ context.Context, e integration.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, e)
	return f.err
}

func (f *fakeNotifier) Sent() []integration.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]integration.Email(nil), f.emails...)
}

type fakeRefunder struct {
	err    error
	reqs   []integration.RefundRequest
	during func() // 退款请求进行中执行，用于模拟并发读
}

func (f *fakeRefunder) RequestRefund(_ context.Context, req integration.RefundRequest) error {
	f.reqs = append(f.reqs, req)
	if f.during != nil {
		f.during()
	}
	return f.err
}

type fakeGateway struct {
	env        mpesa.Environment
	pushResp   *mpesa.STKPushResponse
	pushErr    error
	queryResp  *mpesa.STKQueryResponse
	queryErr   error
	pushCalls  int
	queryCalls int
}

func (g *fakeGateway) Environment() mpesa.Environment { return g.env }

func (g *fakeGateway) STKPush(_ context.Context, _ mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.pushCalls++
	return g.pushResp, g.pushErr
}

func (g *fakeGateway) QuerySTK(_ context.Context, _ string) (*mpesa.STKQueryResponse, error) {
	g.queryCalls++
	return g.queryResp, g.queryErr
}

// stepClock 每次调用前进一秒，保证创建时间严格递增
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type orderFixture struct {
	db       *gorm.DB
	repo     repository.OrderRepository
	inv      *fakeInventory
	notifier *fakeNotifier
	refunder *fakeRefunder
	clock    *stepClock
	svc      OrderService
}

func newOrderFixture(t *testing.T, opts ...OrderOption) *orderFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &orderFixture{
		db:       db,
		repo:     repository.NewOrderRepository(db),
		inv:      &fakeInventory{},
		notifier: &fakeNotifier{},
		refunder: &fakeRefunder{},
		clock:    newStepClock(),
	}
	opts = append([]OrderOption{WithOrderClock(f.clock.Now), WithOrderLogger(zap.NewNop())}, opts...)
	f.svc = NewOrderService(f.repo, f.inv, f.notifier, f.refunder, opts...)
	return f
}

func sampleOrderInput(userID string) CreateOrderInput {
	return CreateOrderInput{
		UserID:    userID,
		UserEmail: "buyer@example.com",
		Items: []OrderItemInput{
			{ProductID: "sku-1", Name: "Widget", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
		},
		ShippingAddress: model.Address{FullName: "Jane Wanjiku", Line1: "Moi Avenue 1", City: "Nairobi", Country: "KE"},
		PaymentMethod:   model.PaymentMethodMpesa,
		ShippingMethod:  "standard",
		ShippingCost:    decimal.NewFromInt(50),
		Discount:        decimal.NewFromInt(10),
		Tax:             decimal.NewFromInt(5),
	}
}

func (f *orderFixture) createOrder(t *testing.T, userID string) *model.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), sampleOrderInput(userID))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// forceStatus 直接改库，构造任意起始状态
func (f *orderFixture) forceStatus(t *testing.T, orderID string, status model.OrderStatus, payment model.PaymentStatus) {
	t.Helper()
	err := f.db.Model(&model.Order{}).Where("id = ?", orderID).
		Updates(map[string]any{"status": status, "payment_status": payment}).Error
	if err != nil {
		t.Fatalf("force status: %v", err)
	}
}

func (f *orderFixture) countEvents(t *testing.T, orderID, eventType string) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&model.Outbox{}).Where("aggregate_id = ? AND event_type = ?", orderID, eventType).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}
