package integration

import (
	"context"
	"time"

	"github.com/d60-Lab/order-payments/internal/apperr"
)

// StockItem 库存服务关心的订单行
type StockItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Inventory 库存服务契约
type Inventory interface {
	// Validate 校验库存；库存不足返回 apperr.ErrValidation，服务不可达返回 apperr.ErrIntegration
	Validate(ctx context.Context, items []StockItem) error
	Reserve(ctx context.Context, orderID string, items []StockItem) error
	Confirm(ctx context.Context, orderID string, items []StockItem) error
	Release(ctx context.Context, orderID string, items []StockItem) error
}

type validateRequest struct {
	Items []StockItem `json:"items"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type reservationRequest struct {
	OrderID string      `json:"orderId"`
	Items   []StockItem `json:"items"`
}

// InventoryClient 库存服务 HTTP 客户端
type InventoryClient struct {
	c jsonClient
}

func NewInventoryClient(baseURL, serviceToken string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{c: newJSONClient("inventory", baseURL, serviceToken, timeout)}
}

func (i *InventoryClient) Validate(ctx context.Context, items []StockItem) error {
	var out validateResponse
	if err := i.c.post(ctx, "/inventory/validate", validateRequest{Items: items}, &out); err != nil {
		return err
	}
	if !out.Valid {
		msg := out.Message
		if msg == "" {
			msg = "items unavailable"
		}
		return apperr.Validation("inventory: %s", msg)
	}
	return nil
}

func (i *InventoryClient) Reserve(ctx context.Context, orderID string, items []StockItem) error {
	return i.c.post(ctx, "/inventory/reserve", reservationRequest{OrderID: orderID, Items: items}, nil)
}

func (i *InventoryClient) Confirm(ctx context.Context, orderID string, items []StockItem) error {
	return i.c.post(ctx, "/inventory/confirm", reservationRequest{OrderID: orderID, Items: items}, nil)
}

func (i *InventoryClient) Release(ctx context.Context, orderID string, items []StockItem) error {
	return i.c.post(ctx, "/inventory/release", reservationRequest{OrderID: orderID, Items: items}, nil)
}
