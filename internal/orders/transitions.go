package orders

import "github.com/angelmondragon/orderflow-backend/pkg/enums"

// Actor identifies who requests an order status change.
type Actor string

const (
	ActorVendor Actor = "vendor"
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

type statusSet map[enums.OrderStatus]struct{}

func setOf(statuses ...enums.OrderStatus) statusSet {
	out := make(statusSet, len(statuses))
	for _, s := range statuses {
		out[s] = struct{}{}
	}
	return out
}

// transitions is keyed by actor, then current status; the value holds the
// statuses that actor may request next.
var transitions = map[Actor]map[enums.OrderStatus]statusSet{
	ActorVendor: {
		enums.OrderStatusPending:    setOf(enums.OrderStatusConfirmed, enums.OrderStatusCancelled),
		enums.OrderStatusConfirmed:  setOf(enums.OrderStatusProcessing, enums.OrderStatusCancelled),
		enums.OrderStatusProcessing: setOf(enums.OrderStatusShipped),
		enums.OrderStatusShipped:    setOf(enums.OrderStatusDelivered),
	},
	ActorAdmin: {
		enums.OrderStatusPending: setOf(
			enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped,
			enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded,
		),
		enums.OrderStatusConfirmed: setOf(
			enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered,
			enums.OrderStatusCancelled, enums.OrderStatusRefunded,
		),
		enums.OrderStatusProcessing: setOf(
			enums.OrderStatusShipped, enums.OrderStatusDelivered,
			enums.OrderStatusCancelled, enums.OrderStatusRefunded,
		),
		enums.OrderStatusShipped: setOf(
			enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded,
		),
	},
	ActorSystem: {
		enums.OrderStatusPending:    setOf(enums.OrderStatusConfirmed, enums.OrderStatusRefunded),
		enums.OrderStatusConfirmed:  setOf(enums.OrderStatusRefunded),
		enums.OrderStatusProcessing: setOf(enums.OrderStatusRefunded),
		enums.OrderStatusShipped:    setOf(enums.OrderStatusRefunded),
		// Refunds after delivery still close the order.
		enums.OrderStatusDelivered: setOf(enums.OrderStatusRefunded),
	},
}

// CanTransition reports whether actor may move an order from -> to.
// Same-status requests are not transitions and return false.
func CanTransition(actor Actor, from, to enums.OrderStatus) bool {
	byStatus, ok := transitions[actor]
	if !ok {
		return false
	}
	allowed, ok := byStatus[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
