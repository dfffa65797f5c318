package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
)

// TransactionRepository 支付流水仓储
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	GetByID(ctx context.Context, id string) (*model.Transaction, error)
	// GetByCheckoutRequestID 不存在时返回 (nil, nil)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.Transaction, error)
	// UpdateByCheckoutRequestID 部分字段合并更新，总是刷新 updated_at；不存在返回 apperr.ErrNotFound
	UpdateByCheckoutRequestID(ctx context.Context, checkoutRequestID string, fields map[string]any) error
	// ListByOrderID 订单下全部流水，新的在前
	ListByOrderID(ctx context.Context, orderID string) ([]*model.Transaction, error)
}

type transactionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *transactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("transaction %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) UpdateByCheckoutRequestID(ctx context.Context, checkoutRequestID string, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = r.now()

	res := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("checkout_request_id = ?", checkoutRequestID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("transaction with checkout request %s", checkoutRequestID)
	}
	return nil
}

func (r *transactionRepository) ListByOrderID(ctx context.Context, orderID string) ([]*model.Transaction, error) {
	var res []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&res).Error
	return res, err
}
