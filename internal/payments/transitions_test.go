package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

func TestPaymentTransitions(t *testing.T) {
	allowed := [][2]enums.PaymentStatus{
		{enums.PaymentStatusPending, enums.PaymentStatusCompleted},
		{enums.PaymentStatusPending, enums.PaymentStatusFailed},
		{enums.PaymentStatusFailed, enums.PaymentStatusCompleted},
		{enums.PaymentStatusCompleted, enums.PaymentStatusRefunded},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]enums.PaymentStatus{
		{enums.PaymentStatusCompleted, enums.PaymentStatusFailed},
		{enums.PaymentStatusCompleted, enums.PaymentStatusPending},
		{enums.PaymentStatusRefunded, enums.PaymentStatusCompleted},
		{enums.PaymentStatusFailed, enums.PaymentStatusRefunded},
		{enums.PaymentStatusPending, enums.PaymentStatusRefunded},
		{enums.PaymentStatusPending, enums.PaymentStatusPending},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}
