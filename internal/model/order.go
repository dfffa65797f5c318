package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStatus 订单状态
type OrderStatus string

// 订单状态常量
const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

// AllOrderStatuses 全部订单状态，按生命周期顺序
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusFailed,
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ShippingStatus 物流状态
type ShippingStatus string

const (
	ShippingStatusPending    ShippingStatus = "pending"
	ShippingStatusProcessing ShippingStatus = "processing"
	ShippingStatusShipped    ShippingStatus = "shipped"
	ShippingStatusDelivered  ShippingStatus = "delivered"
	ShippingStatusReturned   ShippingStatus = "returned"
)

// PaymentMethod 支付方式
type PaymentMethod string

const (
	PaymentMethodMpesa          PaymentMethod = "mpesa"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid 是否为支持的支付方式
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMpesa, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodCashOnDelivery:
		return true
	}
	return false
}

// DefaultCurrency 默认币种
const DefaultCurrency = "KES"

// OrderItem 订单行
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Address 收货/账单地址
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	County     string `json:"county,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// StatusChange 状态历史记录，按状态名存放
type StatusChange struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
	By     string    `json:"by,omitempty"`
}

// PaymentInfo 支付成功后记录的回执信息
type PaymentInfo struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	ReceiptNumber string          `json:"receipt_number,omitempty"`
	PhoneNumber   string          `json:"phone_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
}

// Order 订单模型
type Order struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber    string         `json:"order_number" gorm:"type:varchar(40);index;not null"`
	UserID         string         `json:"user_id" gorm:"type:varchar(128);index:idx_order_user_created;not null"`
	Status         OrderStatus    `json:"status" gorm:"type:varchar(16);index;not null;default:pending"`
	PaymentStatus  PaymentStatus  `json:"payment_status" gorm:"type:varchar(16);index;not null;default:pending"`
	ShippingStatus ShippingStatus `json:"shipping_status" gorm:"type:varchar(16);not null;default:pending"`
	PaymentMethod  PaymentMethod  `json:"payment_method" gorm:"type:varchar(32);not null"`
	ShippingMethod string         `json:"shipping_method" gorm:"type:varchar(32)"`

	Items           datatypes.JSONSlice[OrderItem] `json:"items" gorm:"not null"`
	ShippingAddress datatypes.JSONType[Address]    `json:"shipping_address"`
	BillingAddress  datatypes.JSONType[Address]    `json:"billing_address"`

	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:decimal(14,2);not null"`
	ShippingCost decimal.Decimal `json:"shipping_cost" gorm:"type:decimal(14,2);not null"`
	Discount     decimal.Decimal `json:"discount" gorm:"type:decimal(14,2);not null"`
	Tax          decimal.Decimal `json:"tax" gorm:"type:decimal(14,2);not null"`
	Total        decimal.Decimal `json:"total" gorm:"type:decimal(14,2);not null"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null"`

	// 客户端提交的金额，仅留档，计费以服务端重算为准
	ClientSubtotal *decimal.Decimal `json:"client_subtotal,omitempty" gorm:"type:decimal(14,2)"`
	ClientTotal    *decimal.Decimal `json:"client_total,omitempty" gorm:"type:decimal(14,2)"`

	Notes         string                                      `json:"notes,omitempty" gorm:"type:text"`
	StatusHistory datatypes.JSONType[map[string]StatusChange] `json:"status_history"`
	Payment       *datatypes.JSONType[PaymentInfo]            `json:"payment,omitempty"`
	Metadata      datatypes.JSONMap                           `json:"metadata,omitempty"`

	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty" gorm:"type:varchar(128)"`
	CancelReason string     `json:"cancel_reason,omitempty" gorm:"type:text"`

	RefundStatus      string     `json:"refund_status,omitempty" gorm:"type:varchar(16)"`
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_order_user_created;not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

// RecordStatus 追加一条状态历史
func (o *Order) RecordStatus(status OrderStatus, at time.Time, reason, by string) {
	history := o.StatusHistory.Data()
	if history == nil {
		history = make(map[string]StatusChange)
	}
	history[string(status)] = StatusChange{At: at, Reason: reason, By: by}
	o.StatusHistory = datatypes.NewJSONType(history)
}
