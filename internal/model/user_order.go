package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserOrder 用户订单索引（按 user_id 查询订单列表）冗余自 Order
type UserOrder struct {
	ID            string          `json:"-" gorm:"primaryKey;type:varchar(36)"`
	UserID        string          `json:"user_id" gorm:"type:varchar(128);index:idx_user_order_created;not null"`
	OrderID       string          `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	OrderNumber   string          `json:"order_number" gorm:"type:varchar(40);not null"`
	Status        OrderStatus     `json:"status" gorm:"type:varchar(16);not null"`
	PaymentStatus PaymentStatus   `json:"payment_status" gorm:"type:varchar(16);not null"`
	Total         decimal.Decimal `json:"total" gorm:"type:decimal(14,2);not null"`
	Currency      string          `json:"currency" gorm:"type:varchar(3);not null"`
	ItemCount     int             `json:"item_count"`
	CreatedAt     time.Time       `json:"created_at" gorm:"index:idx_user_order_created;not null"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (UserOrder) TableName() string { return "user_orders" }

// IndexFrom 根据订单生成索引行，ID 由调用方决定
func IndexFrom(o *Order) *UserOrder {
	return &UserOrder{
		UserID:        o.UserID,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		Currency:      o.Currency,
		ItemCount:     len(o.Items),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
