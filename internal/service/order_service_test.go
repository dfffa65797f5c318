package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/cache"
	"github.com/d60-Lab/order-payments/internal/integration"
	"github.com/d60-Lab/order-payments/internal/model"
)

func TestCreateOrder_RecomputesTotals(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	in := sampleOrderInput("u1")
	clientTotal := decimal.NewFromInt(1)
	in.ClientTotal = &clientTotal

	o, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	assert.True(t, o.Subtotal.Equal(decimal.NewFromInt(200)), "subtotal %s", o.Subtotal)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(245)), "total %s", o.Total)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, model.ShippingStatusPending, o.ShippingStatus)
	assert.Equal(t, model.DefaultCurrency, o.Currency)
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d+-[0-9A-F]{6}$`), o.OrderNumber)
	assert.Equal(t, "Nairobi", o.BillingAddress.Data().City, "billing defaults to shipping")

	stored, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(decimal.NewFromInt(245)))
	require.NotNil(t, stored.ClientTotal)
	assert.True(t, stored.ClientTotal.Equal(clientTotal), "client total is kept alongside")
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].LineTotal.Equal(decimal.NewFromInt(200)))
	assert.Contains(t, stored.StatusHistory.Data(), string(model.OrderStatusPending))

	assert.EqualValues(t, 1, f.countEvents(t, o.ID, model.EventOrderCreated))
	assert.Equal(t, []string{"validate", "reserve"}, f.inv.Calls())

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, integration.TemplateOrderConfirmation, sent[0].Template)
	assert.Equal(t, "245.00", sent[0].Data["total"])
}

func TestCreateOrder_LineDiscountAndTax(t *testing.T) {
	f := newOrderFixture(t)
	in := sampleOrderInput("u1")
	in.Items = append(in.Items, OrderItemInput{
		ProductID: "sku-2",
		Quantity:  3,
		UnitPrice: decimal.RequireFromString("9.99"),
		Discount:  decimal.RequireFromString("1.50"),
		Tax:       decimal.RequireFromString("0.75"),
	})

	o, err := f.svc.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	// 200 + (29.97 - 1.50 + 0.75)
	assert.Equal(t, "229.22", o.Subtotal.StringFixed(2))
	assert.Equal(t, "274.22", o.Total.StringFixed(2))
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	tests := map[string]func(*CreateOrderInput){
		"no items":       func(in *CreateOrderInput) { in.Items = nil },
		"zero quantity":  func(in *CreateOrderInput) { in.Items[0].Quantity = 0 },
		"bad method":     func(in *CreateOrderInput) { in.PaymentMethod = "bitcoin" },
		"no user":        func(in *CreateOrderInput) { in.UserID = "" },
		"no address":     func(in *CreateOrderInput) { in.ShippingAddress = model.Address{} },
		"negative price": func(in *CreateOrderInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := sampleOrderInput("u1")
			mutate(&in)
			_, err := f.svc.CreateOrder(ctx, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, f.inv.Calls(), "validation happens before inventory")
}

func TestCreateOrder_InventoryRejects(t *testing.T) {
	f := newOrderFixture(t)
	f.inv.validateErr = apperr.Validation("inventory: sku-1 out of stock")

	_, err := f.svc.CreateOrder(context.Background(), sampleOrderInput("u1"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	n, err := f.repo.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateOrder_InventoryUnreachable(t *testing.T) {
	f := newOrderFixture(t)
	f.inv.validateErr = apperr.Integration("inventory", errors.New("connection refused"))

	_, err := f.svc.CreateOrder(context.Background(), sampleOrderInput("u1"))
	assert.ErrorIs(t, err, apperr.ErrIntegration)
}

func TestCreateOrder_ReserveFailureKeepsOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.inv.reserveErr = errors.New("inventory down")
	f.notifier.err = errors.New("smtp down")

	o, err := f.svc.CreateOrder(context.Background(), sampleOrderInput("u1"))
	require.NoError(t, err)

	got, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, got.Status)
}

func TestUpdateOrderStatus_AllowedTransitions(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	for _, from := range model.AllOrderStatuses {
		for _, to := range AllowedTransitions(from) {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				o := f.createOrder(t, "u1")
				f.forceStatus(t, o.ID, from, model.PaymentStatusPending)

				got, err := f.svc.UpdateOrderStatus(ctx, o.ID, to, "ops", "admin-1")
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)

				stored, err := f.repo.GetByID(ctx, o.ID)
				require.NoError(t, err)
				assert.Equal(t, to, stored.Status)
				entry, ok := stored.StatusHistory.Data()[string(to)]
				require.True(t, ok)
				assert.Equal(t, "admin-1", entry.By)
				assert.Equal(t, "ops", entry.Reason)
				assert.EqualValues(t, 1, f.countEvents(t, o.ID, model.EventOrderStatusChanged))

				page, err := f.svc.ListUserOrders(ctx, "u1", "", MaxPageSize)
				require.NoError(t, err)
				for _, idx := range page.Orders {
					if idx.OrderID == o.ID {
						assert.Equal(t, to, idx.Status, "index follows the order")
					}
				}
			})
		}
	}
}

func TestUpdateOrderStatus_RejectsEveryOtherTransition(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	for _, from := range model.AllOrderStatuses {
		for _, to := range model.AllOrderStatuses {
			if CanTransition(from, to) {
				continue
			}
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				o := f.createOrder(t, "u1")
				f.forceStatus(t, o.ID, from, model.PaymentStatusPending)
				before, err := f.repo.GetByID(ctx, o.ID)
				require.NoError(t, err)

				_, err = f.svc.UpdateOrderStatus(ctx, o.ID, to, "nope", "admin-1")
				require.ErrorIs(t, err, apperr.ErrInvalidState)

				after, err := f.repo.GetByID(ctx, o.ID)
				require.NoError(t, err)
				assert.Equal(t, from, after.Status)
				assert.Equal(t, before.StatusHistory.Data(), after.StatusHistory.Data())
				assert.Zero(t, f.countEvents(t, o.ID, model.EventOrderStatusChanged))
			})
		}
	}
}

func TestTransitionTable(t *testing.T) {
	assert.False(t, CanTransition(model.OrderStatusPending, model.OrderStatusPending), "self transition")
	assert.True(t, CanTransition(model.OrderStatusFailed, model.OrderStatusPending))
	assert.Empty(t, AllowedTransitions(model.OrderStatusCancelled))
	assert.Empty(t, AllowedTransitions(model.OrderStatusRefunded))
	assert.False(t, CanTransition("unknown", model.OrderStatusConfirmed))
}

func TestUpdateOrderStatus_SyncsShipping(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	for _, s := range []model.OrderStatus{model.OrderStatusConfirmed, model.OrderStatusProcessing, model.OrderStatusShipped} {
		_, err := f.svc.UpdateOrderStatus(ctx, o.ID, s, "", "admin-1")
		require.NoError(t, err)
	}
	got, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShippingStatusShipped, got.ShippingStatus)
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	f := newOrderFixture(t)
	_, err := f.svc.UpdateOrderStatus(context.Background(), "missing", model.OrderStatusConfirmed, "", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelOrder_OnlyFromPendingOrConfirmed(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	for _, from := range model.AllOrderStatuses {
		t.Run(string(from), func(t *testing.T) {
			o := f.createOrder(t, "u1")
			f.forceStatus(t, o.ID, from, model.PaymentStatusPending)

			got, err := f.svc.CancelOrder(ctx, o.ID, "changed mind", "u1")
			if from == model.OrderStatusPending || from == model.OrderStatusConfirmed {
				require.NoError(t, err)
				assert.Equal(t, model.OrderStatusCancelled, got.Status)
				return
			}
			require.ErrorIs(t, err, apperr.ErrInvalidState)
			stored, err := f.repo.GetByID(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, from, stored.Status)
		})
	}
}

func TestCancelOrder_UnpaidDoesNotRefund(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	got, err := f.svc.CancelOrder(ctx, o.ID, "changed mind", "u1")
	require.NoError(t, err)

	assert.Empty(t, f.refunder.reqs)
	assert.Contains(t, f.inv.Calls(), "release")
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, "u1", got.CancelledBy)
	assert.Equal(t, "changed mind", got.CancelReason)
	assert.Empty(t, got.RefundStatus)
	assert.EqualValues(t, 1, f.countEvents(t, o.ID, model.EventOrderCancelled))
}

func TestCancelOrder_PaidRequestsRefund(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	_, err := f.svc.ProcessPayment(ctx, o.ID, PaymentData{ReceiptNumber: "NLJ7RT61SV", Amount: decimal.NewFromInt(245)})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, o.ID, "wrong size", "u1")
	require.NoError(t, err)

	require.Len(t, f.refunder.reqs, 1)
	req := f.refunder.reqs[0]
	assert.Equal(t, o.ID, req.OrderID)
	assert.Equal(t, "NLJ7RT61SV", req.TransactionID)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(245)))

	stored, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
	assert.Equal(t, RefundStatusRequested, stored.RefundStatus)
	assert.NotNil(t, stored.RefundRequestedAt)
}

func TestCancelOrder_RefundFailureIsSwallowed(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.refunder.err = errors.New("payments down")
	f.inv.releaseErr = errors.New("inventory down")

	o := f.createOrder(t, "u1")
	f.forceStatus(t, o.ID, model.OrderStatusConfirmed, model.PaymentStatusPaid)

	got, err := f.svc.CancelOrder(ctx, o.ID, "", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	assert.Len(t, f.refunder.reqs, 1)

	stored, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
	assert.Empty(t, stored.RefundStatus)
}

func TestCancelOrder_RefundStatusNotHiddenByCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newOrderFixture(t, WithOrderCache(cache.NewRedisOrderCache(rdb, time.Minute)))
	ctx := context.Background()
	o := f.createOrder(t, "u1")
	f.forceStatus(t, o.ID, model.OrderStatusConfirmed, model.PaymentStatusPaid)

	// 退款进行中有人读订单，缓存里是尚未记录退款的版本
	f.refunder.during = func() {
		_, err := f.svc.GetOrder(ctx, o.ID)
		require.NoError(t, err)
	}
	_, err := f.svc.CancelOrder(ctx, o.ID, "", "u1")
	require.NoError(t, err)

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, RefundStatusRequested, got.RefundStatus)
}

func TestProcessPayment_CancelledOrderIsRefunded(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	_, err := f.svc.CancelOrder(ctx, o.ID, "changed my mind", "u1")
	require.NoError(t, err)
	require.Empty(t, f.refunder.reqs)

	got, err := f.svc.ProcessPayment(ctx, o.ID, PaymentData{ReceiptNumber: "NLJ7RT61SV", Amount: decimal.NewFromInt(245)})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)

	require.Len(t, f.refunder.reqs, 1)
	req := f.refunder.reqs[0]
	assert.Equal(t, o.ID, req.OrderID)
	assert.Equal(t, "NLJ7RT61SV", req.TransactionID)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(245)))

	stored, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, stored.Status)
	assert.Equal(t, model.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, RefundStatusRequested, stored.RefundStatus)
	assert.NotContains(t, f.inv.Calls(), "confirm", "stock was already released")
}

func TestProcessPayment_ConfirmsPendingOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	paidAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	got, err := f.svc.ProcessPayment(ctx, o.ID, PaymentData{
		TransactionID: "tx-1",
		ReceiptNumber: "NLJ7RT61SV",
		PhoneNumber:   "254712345678",
		Amount:        decimal.NewFromInt(245),
		PaidAt:        paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)

	stored, err := f.repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Payment)
	info := stored.Payment.Data()
	assert.Equal(t, "NLJ7RT61SV", info.ReceiptNumber)
	assert.True(t, info.PaidAt.Equal(paidAt))
	assert.Contains(t, stored.StatusHistory.Data(), string(model.OrderStatusConfirmed))

	assert.EqualValues(t, 1, f.countEvents(t, o.ID, model.EventOrderPaid))
	assert.EqualValues(t, 1, f.countEvents(t, o.ID, model.EventOrderStatusChanged))
	assert.Contains(t, f.inv.Calls(), "confirm")
}

func TestProcessPayment_KeepsNonPendingStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, "u1")
	f.forceStatus(t, o.ID, model.OrderStatusProcessing, model.PaymentStatusPending)

	got, err := f.svc.ProcessPayment(ctx, o.ID, PaymentData{ReceiptNumber: "R1"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, got.Status)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Zero(t, f.countEvents(t, o.ID, model.EventOrderStatusChanged))
}

func TestGetOrder_CacheAside(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	oc := cache.NewRedisOrderCache(rdb, time.Minute)

	f := newOrderFixture(t, WithOrderCache(oc))
	ctx := context.Background()
	o := f.createOrder(t, "u1")

	_, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists("order:"+o.ID))

	got, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	hits, _ := oc.Stats()
	assert.EqualValues(t, 1, hits)

	_, err = f.svc.UpdateOrderStatus(ctx, o.ID, model.OrderStatusConfirmed, "", "admin-1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("order:"+o.ID), "mutation invalidates")

	got, err = f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
}

func TestListUserOrders_CursorPaging(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.createOrder(t, "u1").ID)
	}
	f.createOrder(t, "u2")

	page, err := f.svc.ListUserOrders(ctx, "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, ids[2], page.Orders[0].OrderID, "newest first")
	assert.Equal(t, ids[1], page.Orders[1].OrderID)
	require.NotEmpty(t, page.NextCursor)

	page, err = f.svc.ListUserOrders(ctx, "u1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, ids[0], page.Orders[0].OrderID)
	assert.Empty(t, page.NextCursor)

	_, err = f.svc.ListUserOrders(ctx, "u1", "%%%", 2)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	page, err = f.svc.ListUserOrders(ctx, "nobody", "", 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Orders)
	assert.Empty(t, page.Orders)
}

func TestAnalytics(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	a := f.createOrder(t, "u1")
	b := f.createOrder(t, "u2")
	f.createOrder(t, "u3")

	_, err := f.svc.ProcessPayment(ctx, a.ID, PaymentData{Amount: decimal.NewFromInt(245)})
	require.NoError(t, err)
	_, err = f.svc.ProcessPayment(ctx, b.ID, PaymentData{Amount: decimal.NewFromInt(245)})
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, b.ID, "", "u2")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	res, err := f.svc.Analytics(ctx, from, to)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalOrders)
	assert.Equal(t, 1, res.ByStatus[string(model.OrderStatusConfirmed)])
	assert.Equal(t, 1, res.ByStatus[string(model.OrderStatusCancelled)])
	assert.Equal(t, 1, res.ByStatus[string(model.OrderStatusPending)])
	assert.Equal(t, 2, res.ByPaymentStatus[string(model.PaymentStatusPaid)])
	assert.Equal(t, 2, res.PaidOrders)
	assert.Equal(t, "490.00", res.Revenue.StringFixed(2))
	assert.Equal(t, "245.00", res.AverageOrderValue.StringFixed(2))

	_, err = f.svc.Analytics(ctx, to, from)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
