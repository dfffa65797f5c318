package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/mpesa"
	"github.com/d60-Lab/order-payments/internal/repository"
)

// MinProductionAmount 生产环境 STK Push 最小金额
const MinProductionAmount = 10

// PaymentGateway STK Push 网关；*mpesa.Client 实现该接口
type PaymentGateway interface {
	Environment() mpesa.Environment
	STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	QuerySTK(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// InitiatePaymentInput 发起支付参数
type InitiatePaymentInput struct {
	OrderID          string
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string
}

// PaymentService 支付编排：网关调用 + 流水落库
type PaymentService interface {
	InitiateSTKPush(ctx context.Context, in InitiatePaymentInput) (*model.Transaction, error)
	QueryTransaction(ctx context.Context, checkoutRequestID string) (*model.Transaction, error)
	// GetTransaction 按 CheckoutRequestID 读取流水，不存在返回 apperr.ErrNotFound
	GetTransaction(ctx context.Context, checkoutRequestID string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, orderID string) ([]*model.Transaction, error)
}

type paymentService struct {
	gateway PaymentGateway
	txs     repository.TransactionRepository
	log     *zap.Logger
}

func NewPaymentService(gateway PaymentGateway, txs repository.TransactionRepository, log *zap.Logger) PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &paymentService{gateway: gateway, txs: txs, log: log}
}

// InitiateSTKPush 校验顺序：订单号、金额为正、生产环境最低金额、手机号规范化。
// 任一校验失败都不触网也不落流水，生产环境金额过低时即使手机号合法也不写 failed 流水；
// 只有网关或令牌失败才落一条 failed 流水并返回错误。
func (s *paymentService) InitiateSTKPush(ctx context.Context, in InitiatePaymentInput) (*model.Transaction, error) {
	if in.OrderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("amount must be a positive whole number")
	}
	env := s.gateway.Environment()
	if env == mpesa.Production && in.Amount < MinProductionAmount {
		return nil, apperr.Validation("amount must be at least %d in production", MinProductionAmount)
	}
	phone, err := mpesa.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}

	ref := truncate(in.AccountReference, 12)
	if ref == "" {
		ref = truncate(in.OrderID, 12)
	}
	desc := truncate(in.Description, 13)
	if desc == "" {
		desc = "Order payment"
	}

	tx := &model.Transaction{
		OrderID:          in.OrderID,
		PhoneNumber:      phone,
		Amount:           in.Amount,
		AccountReference: ref,
		Description:      desc,
		Environment:      string(env),
	}

	resp, pushErr := s.gateway.STKPush(ctx, mpesa.STKPushRequest{
		Phone:            phone,
		Amount:           in.Amount,
		AccountReference: ref,
		Description:      desc,
	})
	if resp != nil {
		tx.ResponseCode = resp.ResponseCode
		tx.ResponseDescription = resp.ResponseDescription
	}
	if pushErr != nil {
		tx.Status = model.TransactionStatusFailed
		tx.ErrorMessage = pushErr.Error()
		if err := s.txs.Create(ctx, tx); err != nil {
			s.log.Error("record failed stk push", zap.String("order_id", in.OrderID), zap.Error(err))
		}
		s.log.Warn("stk push failed", zap.String("order_id", in.OrderID), zap.Error(pushErr))
		return nil, pushErr
	}

	tx.Status = model.TransactionStatusInitiated
	tx.MerchantRequestID = &resp.MerchantRequestID
	tx.CheckoutRequestID = &resp.CheckoutRequestID
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Info("stk push initiated",
		zap.String("order_id", in.OrderID),
		zap.String("transaction_id", tx.ID),
		zap.String("checkout_request_id", resp.CheckoutRequestID))
	return tx, nil
}

// QueryTransaction 主动向网关查询结果并回写流水，不修改订单
func (s *paymentService) QueryTransaction(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	if checkoutRequestID == "" {
		return nil, apperr.Validation("checkout request id is required")
	}
	if _, err := s.GetTransaction(ctx, checkoutRequestID); err != nil {
		return nil, err
	}

	resp, err := s.gateway.QuerySTK(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	status := model.TransactionStatusFailed
	if resp.ResultCode.Success() {
		status = model.TransactionStatusCompleted
	}
	if err := s.txs.UpdateByCheckoutRequestID(ctx, checkoutRequestID, map[string]any{
		"status":      status,
		"result_code": string(resp.ResultCode),
		"result_desc": resp.ResultDesc,
	}); err != nil {
		return nil, err
	}
	return s.txs.GetByCheckoutRequestID(ctx, checkoutRequestID)
}

func (s *paymentService) GetTransaction(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	tx, err := s.txs.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperr.NotFound("transaction with checkout request %s", checkoutRequestID)
	}
	return tx, nil
}

func (s *paymentService) ListTransactions(ctx context.Context, orderID string) ([]*model.Transaction, error) {
	return s.txs.ListByOrderID(ctx, orderID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
