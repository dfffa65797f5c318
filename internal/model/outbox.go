package model

import (
	"time"

	"gorm.io/datatypes"
)

// 订单领域事件类型
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderPaid          = "order.paid"
)

// Outbox 状态
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusDone       = "done"
	OutboxStatusFailed     = "failed"
)

// Outbox 事件外发盒，与订单变更同事务写入，由 relay 投递到消息队列
type Outbox struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AggregateID string         `json:"aggregate_id" gorm:"type:varchar(36);index:idx_outbox_aggregate"`
	EventType   string         `json:"event_type" gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `json:"payload"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index"`
	Status      string         `json:"status" gorm:"type:varchar(16);index"` // pending, processing, done, failed
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:text"`
}

func (Outbox) TableName() string { return "outbox" }
