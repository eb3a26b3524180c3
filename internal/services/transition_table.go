package services

import (
	"slices"

	domain "github.com/gymhub/api/internal/domain"
)

// orderPaths lists, per delivery type, the ordered statuses an order must visit.
var orderPaths = map[domain.DeliveryType][]domain.OrderStatus{
	domain.DeliveryPickup: {
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusReadyPickup,
		domain.OrderStatusPickedUp,
	},
	domain.DeliveryDelivery: {
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	},
	domain.DeliveryExpress: {
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	},
}

var nonCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusDelivered,
	domain.OrderStatusPickedUp,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

var refundableStatuses = []domain.OrderStatus{
	domain.OrderStatusDelivered,
	domain.OrderStatusPickedUp,
}

// DeliveryTypes returns every supported delivery type.
func DeliveryTypes() []domain.DeliveryType {
	return []domain.DeliveryType{domain.DeliveryPickup, domain.DeliveryDelivery, domain.DeliveryExpress}
}

// OrderStatuses returns every order status known to the table.
func OrderStatuses() []domain.OrderStatus {
	return []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusReadyPickup,
		domain.OrderStatusPickedUp,
		domain.OrderStatusPacked,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
		domain.OrderStatusRefunded,
	}
}

// IsKnownDeliveryType reports whether the delivery type has a path.
func IsKnownDeliveryType(deliveryType domain.DeliveryType) bool {
	_, ok := orderPaths[deliveryType]
	return ok
}

// NextStatus returns the path successor of current, if any.
func NextStatus(current domain.OrderStatus, deliveryType domain.DeliveryType) (domain.OrderStatus, bool) {
	path, ok := orderPaths[deliveryType]
	if !ok {
		return "", false
	}
	idx := slices.Index(path, current)
	if idx < 0 || idx+1 >= len(path) {
		return "", false
	}
	return path[idx+1], true
}

// IsValidTransition reports whether requested is reachable from current in one step.
func IsValidTransition(current, requested domain.OrderStatus, deliveryType domain.DeliveryType) bool {
	path, ok := orderPaths[deliveryType]
	if !ok || current == requested {
		return false
	}
	if !slices.Contains(path, current) && current != domain.OrderStatusCancelled && current != domain.OrderStatusRefunded {
		return false
	}

	switch requested {
	case domain.OrderStatusCancelled:
		return !slices.Contains(nonCancellableStatuses, current)
	case domain.OrderStatusRefunded:
		return slices.Contains(refundableStatuses, current) && slices.Contains(path, current)
	}

	next, ok := NextStatus(current, deliveryType)
	return ok && next == requested
}

// AllowedNext lists every status reachable from current, path successor first.
func AllowedNext(current domain.OrderStatus, deliveryType domain.DeliveryType) []domain.OrderStatus {
	var allowed []domain.OrderStatus
	if next, ok := NextStatus(current, deliveryType); ok {
		allowed = append(allowed, next)
	}
	for _, escape := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded} {
		if IsValidTransition(current, escape, deliveryType) {
			allowed = append(allowed, escape)
		}
	}
	return allowed
}

// isTerminalSuccess reports whether status completes the fulfillment path.
func isTerminalSuccess(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDelivered || status == domain.OrderStatusPickedUp
}

// isForwardStep reports whether requested is a path step rather than an escape edge.
func isForwardStep(requested domain.OrderStatus) bool {
	return requested != domain.OrderStatusCancelled && requested != domain.OrderStatusRefunded
}
