package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
)

// GormOrderRepository 基于 gorm 的订单仓储实现
type GormOrderRepository struct {
	db      *gorm.DB
	indexes *userOrderRepository
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db, indexes: &userOrderRepository{db: db}}
}

// Create 创建订单：订单 + 用户索引 + 事件在一个事务内落地
func (r *GormOrderRepository) Create(ctx context.Context, order *model.Order, events ...*model.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := upsertUserOrder(tx, model.IndexFrom(order)); err != nil {
			return fmt.Errorf("create user order index: %w", err)
		}
		return insertEvents(tx, events)
	})
}

// GetByID 根据订单ID查询订单
func (r *GormOrderRepository) GetByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order %s", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Save 回写订单
func (r *GormOrderRepository) Save(ctx context.Context, order *model.Order, events ...*model.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Save(order)
		if res.Error != nil {
			return fmt.Errorf("save order: %w", res.Error)
		}
		if err := upsertUserOrder(tx, model.IndexFrom(order)); err != nil {
			return fmt.Errorf("refresh user order index: %w", err)
		}
		return insertEvents(tx, events)
	})
}

// ListByUser 根据用户ID查询订单列表（走索引表）
func (r *GormOrderRepository) ListByUser(ctx context.Context, userID string, after *Cursor, limit int) ([]*model.UserOrder, error) {
	return r.indexes.List(ctx, userID, after, limit)
}

// ListCreatedBetween 查询 [from, to) 内创建的订单
func (r *GormOrderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Count 统计订单数量
func (r *GormOrderRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Count(&count).Error
	return count, err
}

func insertEvents(tx *gorm.DB, events []*model.Outbox) error {
	if len(events) == 0 {
		return nil
	}
	if err := tx.Create(&events).Error; err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}
