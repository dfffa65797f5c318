package integration

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RefundRequest 退款请求
type RefundRequest struct {
	OrderID       string          `json:"orderId"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason,omitempty"`
}

// Refunder 支付服务退款契约
type Refunder interface {
	RequestRefund(ctx context.Context, req RefundRequest) error
}

type RefundClient struct {
	c jsonClient
}

func NewRefundClient(baseURL, serviceToken string, timeout time.Duration) *RefundClient {
	return &RefundClient{c: newJSONClient("payments", baseURL, serviceToken, timeout)}
}

func (r *RefundClient) RequestRefund(ctx context.Context, req RefundRequest) error {
	return r.c.post(ctx, "/payments/refund", req, nil)
}
