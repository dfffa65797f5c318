package integration

import (
	"context"
	"time"
)

// 邮件模板
const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderCancelled    = "order_cancelled"
	TemplatePaymentReceived   = "payment_received"
)

// Email 通知服务邮件请求
type Email struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Notifier 通知服务契约
type Notifier interface {
	SendEmail(ctx context.Context, email Email) error
}

type NotificationClient struct {
	c jsonClient
}

func NewNotificationClient(baseURL, serviceToken string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{c: newJSONClient("notification", baseURL, serviceToken, timeout)}
}

func (n *NotificationClient) SendEmail(ctx context.Context, email Email) error {
	return n.c.post(ctx, "/notifications/email", email, nil)
}
