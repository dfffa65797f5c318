package repository

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/order-payments/internal/apperr"
	"github.com/d60-Lab/order-payments/internal/model"
)

// Cursor 用户订单列表的分页游标：上一页最后一条的 (created_at, order_id)
type Cursor struct {
	CreatedAt time.Time
	OrderID   string
}

// Encode 编码为不透明字符串
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.OrderID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析游标，空串返回 nil
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, apperr.Validation("invalid cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, apperr.Validation("invalid cursor")
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), OrderID: id}, nil
}

// UserOrderRepository 用户订单索引仓储
type UserOrderRepository interface {
	Upsert(ctx context.Context, idx *model.UserOrder) error
	List(ctx context.Context, userID string, after *Cursor, limit int) ([]*model.UserOrder, error)
}

type userOrderRepository struct{ db *gorm.DB }

func NewUserOrderRepository(db *gorm.DB) UserOrderRepository { return &userOrderRepository{db: db} }

// Upsert 按 order_id 幂等写入索引，已存在则刷新状态字段
func (r *userOrderRepository) Upsert(ctx context.Context, idx *model.UserOrder) error {
	return upsertUserOrder(r.db.WithContext(ctx), idx)
}

func (r *userOrderRepository) List(ctx context.Context, userID string, after *Cursor, limit int) ([]*model.UserOrder, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if after != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND order_id < ?)", after.CreatedAt, after.CreatedAt, after.OrderID)
	}
	var res []*model.UserOrder
	err := q.Order("created_at DESC").Order("order_id DESC").Limit(limit).Find(&res).Error
	if err != nil {
		return nil, fmt.Errorf("list user orders: %w", err)
	}
	return res, nil
}

func upsertUserOrder(tx *gorm.DB, idx *model.UserOrder) error {
	if idx.ID == "" {
		idx.ID = uuid.New().String()
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_status", "total", "updated_at"}),
	}).Create(idx).Error
}
