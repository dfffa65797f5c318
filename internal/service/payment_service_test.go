package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/repository"
	"github.com/d60-Lab/order-payments/internal/testutil"
)

func newPaymentFixture(t *testing.T, env mpesa.Environment) (PaymentService, *fakeGateway, repository.TransactionRepository) {
	t.Helper()
	gw := &fakeGateway{
		env: env,
		pushResp: &mpesa.STKPushResponse{
			MerchantRequestID:   "29115-34620561-1",
			CheckoutRequestID:   "ws_CO_191220191020363925",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
		},
	}
	txs := repository.NewTransactionRepository(testutil.NewTestDB(t))
	return NewPaymentService(gw, txs, zap.NewNop()), gw, txs
}

func TestInitiateSTKPush_Success(t *testing.T) {
	svc, gw, txs := newPaymentFixture(t, mpesa.Sandbox)
	ctx := context.Background()

	tx, err := svc.InitiateSTKPush(ctx, InitiatePaymentInput{
		OrderID:          "order-1",
		PhoneNumber:      "0712345678",
		Amount:           1,
		AccountReference: "ORD-1",
		Description:      "Order ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.pushCalls)
	assert.Equal(t, model.TransactionStatusInitiated, tx.Status)
	assert.Equal(t, "254712345678", tx.PhoneNumber)
	assert.Equal(t, "sandbox", tx.Environment)

	stored, err := txs.GetByCheckoutRequestID(ctx, "ws_CO_191220191020363925")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "order-1", stored.OrderID)
	require.NotNil(t, stored.MerchantRequestID)
	assert.Equal(t, "29115-34620561-1", *stored.MerchantRequestID)
	assert.Equal(t, "0", stored.ResponseCode)
}

func TestInitiateSTKPush_ValidationBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		env    mpesa.Environment
		amount int64
		phone  string
		want   string
	}{
		{name: "zero amount", env: mpesa.Sandbox, amount: 0, phone: "0712345678", want: "positive"},
		{name: "negative amount", env: mpesa.Sandbox, amount: -5, phone: "0712345678", want: "positive"},
		{name: "below production minimum", env: mpesa.Production, amount: 5, phone: "0712345678", want: "at least 10"},
		{name: "bad phone", env: mpesa.Sandbox, amount: 100, phone: "12345", want: "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, gw, txs := newPaymentFixture(t, tt.env)
			_, err := svc.InitiateSTKPush(context.Background(), InitiatePaymentInput{OrderID: "order-1", PhoneNumber: tt.phone, Amount: tt.amount})
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, gw.pushCalls)

			rows, err := txs.ListByOrderID(context.Background(), "order-1")
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestInitiateSTKPush_ProductionMinimumAccepted(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t, mpesa.Production)
	tx, err := svc.InitiateSTKPush(context.Background(), InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "254712345678", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, "production", tx.Environment)
	assert.Equal(t, 1, gw.pushCalls)
}

func TestInitiateSTKPush_GatewayFailureRecordsFailedRow(t *testing.T) {
	svc, gw, txs := newPaymentFixture(t, mpesa.Sandbox)
	gw.pushResp = nil
	gw.pushErr = apperr.Integration("mpesa", errors.New("503"))

	_, err := svc.InitiateSTKPush(context.Background(), InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "712345678", Amount: 100})
	require.ErrorIs(t, err, apperr.ErrIntegration)

	rows, err := txs.ListByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TransactionStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "503")
	assert.Nil(t, rows[0].CheckoutRequestID)
}

func TestInitiateSTKPush_AuthFailureRecordsFailedRow(t *testing.T) {
	svc, gw, txs := newPaymentFixture(t, mpesa.Sandbox)
	gw.pushResp = nil
	gw.pushErr = apperr.Authentication("token endpoint returned 400", nil)

	_, err := svc.InitiateSTKPush(context.Background(), InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "712345678", Amount: 100})
	require.ErrorIs(t, err, apperr.ErrAuthentication)

	rows, err := txs.ListByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TransactionStatusFailed, rows[0].Status)
}

func TestQueryTransaction(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t, mpesa.Sandbox)
	ctx := context.Background()
	_, err := svc.InitiateSTKPush(ctx, InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "0712345678", Amount: 100})
	require.NoError(t, err)

	gw.queryResp = &mpesa.STKQueryResponse{ResponseCode: "0", ResultCode: "1032", ResultDesc: "Request cancelled by user"}
	tx, err := svc.QueryTransaction(ctx, "ws_CO_191220191020363925")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, tx.Status)
	assert.Equal(t, "1032", tx.ResultCode)

	gw.queryResp = &mpesa.STKQueryResponse{ResponseCode: "0", ResultCode: "0", ResultDesc: "processed"}
	tx, err = svc.QueryTransaction(ctx, "ws_CO_191220191020363925")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, tx.Status)
}

func TestQueryTransaction_Unknown(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t, mpesa.Sandbox)
	_, err := svc.QueryTransaction(context.Background(), "ws_CO_missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, gw.queryCalls)
}

func TestListTransactions(t *testing.T) {
	svc, gw, _ := newPaymentFixture(t, mpesa.Sandbox)
	ctx := context.Background()
	_, err := svc.InitiateSTKPush(ctx, InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "0712345678", Amount: 100})
	require.NoError(t, err)
	gw.pushResp = nil
	gw.pushErr = apperr.Integration("mpesa", errors.New("timeout"))
	_, _ = svc.InitiateSTKPush(ctx, InitiatePaymentInput{OrderID: "order-1", PhoneNumber: "0712345678", Amount: 100})

	rows, err := svc.ListTransactions(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
