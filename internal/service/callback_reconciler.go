package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/repository"
)

// PaymentRecorder 回调成功后推进订单；OrderService 实现该接口
type PaymentRecorder interface {
	ProcessPayment(ctx context.Context, orderID string, payment PaymentData) (*model.Order, error)
}

// CallbackReconciler 处理网关异步回调：按 CheckoutRequestID 更新流水，成功时推进订单
type CallbackReconciler struct {
	txs    repository.TransactionRepository
	orders PaymentRecorder
	best   BestEffort
	log    *zap.Logger
}

func NewCallbackReconciler(txs repository.TransactionRepository, orders PaymentRecorder, best BestEffort, log *zap.Logger) *CallbackReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if best == nil {
		best = NewLoggingBestEffort(log)
	}
	return &CallbackReconciler{txs: txs, orders: orders, best: best, log: log}
}

// Reconcile 处理一条回调。raw 为原始请求体，原样存入流水。
// 未匹配的 CheckoutRequestID 只记日志不报错；已完成的流水忽略网关重发的回调。
func (r *CallbackReconciler) Reconcile(ctx context.Context, cb mpesa.STKCallback, raw []byte) error {
	fields := []zap.Field{
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("merchant_request_id", cb.MerchantRequestID),
		zap.String("result_code", string(cb.ResultCode)),
	}
	tx, err := r.txs.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		return err
	}
	if tx == nil {
		r.log.Warn("callback for unknown checkout request", fields...)
		return nil
	}
	if tx.Status == model.TransactionStatusCompleted {
		r.log.Info("duplicate callback for completed transaction ignored", fields...)
		return nil
	}

	updates := map[string]any{
		"result_code": string(cb.ResultCode),
		"result_desc": cb.ResultDesc,
	}
	if len(raw) > 0 {
		updates["callback_payload"] = datatypes.JSON(raw)
	}

	if !cb.ResultCode.Success() {
		updates["status"] = model.TransactionStatusFailed
		if err := r.txs.UpdateByCheckoutRequestID(ctx, cb.CheckoutRequestID, updates); err != nil {
			return err
		}
		r.log.Info("stk payment failed", append(fields, zap.String("result_desc", cb.ResultDesc))...)
		return nil
	}

	updates["status"] = model.TransactionStatusCompleted
	payment := PaymentData{TransactionID: tx.ID, PhoneNumber: tx.PhoneNumber, Amount: decimal.NewFromInt(tx.Amount)}
	for _, item := range cb.Items() {
		switch item.Name {
		case "Amount":
			if amt, ok := item.Int64(); ok {
				updates["amount"] = amt
				payment.Amount = decimal.NewFromInt(amt)
			}
		case "MpesaReceiptNumber":
			updates["mpesa_receipt_number"] = item.String()
			payment.ReceiptNumber = item.String()
		case "TransactionDate":
			updates["transaction_date"] = item.String()
		case "PhoneNumber":
			if p := item.String(); p != "" {
				updates["phone_number"] = p
				payment.PhoneNumber = p
			}
		}
	}
	if err := r.txs.UpdateByCheckoutRequestID(ctx, cb.CheckoutRequestID, updates); err != nil {
		return err
	}
	r.log.Info("stk payment completed", append(fields, zap.String("receipt", payment.ReceiptNumber))...)

	r.best.Attempt(ctx, "order.process_payment", func(ctx context.Context) error {
		_, err := r.orders.ProcessPayment(ctx, tx.OrderID, payment)
		return err
	}, zap.String("order_id", tx.OrderID), zap.String("checkout_request_id", cb.CheckoutRequestID))
	return nil
}
