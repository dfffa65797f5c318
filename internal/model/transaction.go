package model

import (
	"time"

	"gorm.io/datatypes"
)

// TransactionStatus 支付流水状态
type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "initiated"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction M-Pesa STK Push 支付流水，每次发起支付一条，按 CheckoutRequestID 对账
type Transaction struct {
	ID                  string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID             string            `json:"order_id" gorm:"type:varchar(36);index:idx_tx_order_created;not null"`
	MerchantRequestID   *string           `json:"merchant_request_id,omitempty" gorm:"type:varchar(64)"`
	CheckoutRequestID   *string           `json:"checkout_request_id,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	PhoneNumber         string            `json:"phone_number" gorm:"type:varchar(16)"`
	Amount              int64             `json:"amount" gorm:"not null"`
	AccountReference    string            `json:"account_reference,omitempty" gorm:"type:varchar(32)"`
	Description         string            `json:"description,omitempty" gorm:"type:varchar(64)"`
	Status              TransactionStatus `json:"status" gorm:"type:varchar(16);index;not null"`
	ResponseCode        string            `json:"response_code,omitempty" gorm:"type:varchar(8)"`
	ResponseDescription string            `json:"response_description,omitempty" gorm:"type:text"`
	ResultCode          string            `json:"result_code,omitempty" gorm:"type:varchar(8)"`
	ResultDesc          string            `json:"result_desc,omitempty" gorm:"type:text"`
	ErrorMessage        string            `json:"error_message,omitempty" gorm:"type:text"`
	MpesaReceiptNumber  string            `json:"mpesa_receipt_number,omitempty" gorm:"type:varchar(32)"`
	TransactionDate     string            `json:"transaction_date,omitempty" gorm:"type:varchar(20)"`
	CallbackPayload     datatypes.JSON    `json:"callback_payload,omitempty"`
	Environment         string            `json:"environment" gorm:"type:varchar(16);not null"`
	CreatedAt           time.Time         `json:"created_at" gorm:"index:idx_tx_order_created"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }
