package repository

import (
	"context"
	"time"

	"github.com/d60-Lab/order-payments/internal/model"
)

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Create 在同一事务内写入订单、用户索引与外发事件
	Create(ctx context.Context, order *model.Order, events ...*model.Outbox) error

	// GetByID 根据订单ID查询订单，不存在返回 apperr.ErrNotFound
	GetByID(ctx context.Context, orderID string) (*model.Order, error)

	// Save 整体回写订单并刷新用户索引，事件同事务写入
	Save(ctx context.Context, order *model.Order, events ...*model.Outbox) error

	// ListByUser 通过用户索引分页查询，按创建时间倒序
	ListByUser(ctx context.Context, userID string, after *Cursor, limit int) ([]*model.UserOrder, error)

	// ListCreatedBetween 查询时间范围内创建的订单（统计用）
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*model.Order, error)

	// Count 统计订单数量
	Count(ctx context.Context) (int64, error)
}
