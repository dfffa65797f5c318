package service

import "github.com/d60-Lab/order-payments/internal/model"

// orderTransitions 订单状态迁移表；未列出的迁移（包括自迁移）一律拒绝
var orderTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusConfirmed, model.OrderStatusCancelled, model.OrderStatusFailed},
	model.OrderStatusConfirmed:  {model.OrderStatusProcessing, model.OrderStatusCancelled, model.OrderStatusRefunded},
	model.OrderStatusProcessing: {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:    {model.OrderStatusDelivered, model.OrderStatusCancelled},
	model.OrderStatusDelivered:  {model.OrderStatusRefunded},
	model.OrderStatusCancelled:  {},
	model.OrderStatusRefunded:   {},
	model.OrderStatusFailed:     {model.OrderStatusPending, model.OrderStatusCancelled},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions 返回 from 可迁移到的状态
func AllowedTransitions(from model.OrderStatus) []model.OrderStatus {
	next := orderTransitions[from]
	out := make([]model.OrderStatus, len(next))
	copy(out, next)
	return out
}

// cancellable 仅待确认和已确认的订单允许用户取消
func cancellable(s model.OrderStatus) bool {
	return s == model.OrderStatusPending || s == model.OrderStatusConfirmed
}

// shippingFor 订单状态推进时同步的物流状态
func shippingFor(s model.OrderStatus) (model.ShippingStatus, bool) {
	switch s {
	case model.OrderStatusProcessing:
		return model.ShippingStatusProcessing, true
	case model.OrderStatusShipped:
		return model.ShippingStatusShipped, true
	case model.OrderStatusDelivered:
		return model.ShippingStatusDelivered, true
	}
	return "", false
}
