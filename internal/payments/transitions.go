package payments

import "github.com/angelmondragon/orderflow-backend/pkg/enums"

// paymentTransitions only moves forward. FAILED -> COMPLETED covers a late
// success on an intent whose earlier attempt failed.
var paymentTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending:   {enums.PaymentStatusCompleted, enums.PaymentStatusFailed},
	enums.PaymentStatusFailed:    {enums.PaymentStatusCompleted},
	enums.PaymentStatusCompleted: {enums.PaymentStatusRefunded},
}

// CanTransition reports whether a payment may move from -> to.
func CanTransition(from, to enums.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
