package enums

import "fmt"

// PaymentMethod is the method the customer chose at order time.
type PaymentMethod string

const (
	PaymentMethodStripe     PaymentMethod = "STRIPE"
	PaymentMethodPaypal     PaymentMethod = "PAYPAL"
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodStripe,
	PaymentMethodPaypal,
	PaymentMethodCreditCard,
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// PaymentFlow records which processor object backs a payment.
type PaymentFlow string

const (
	PaymentFlowCheckout PaymentFlow = "CHECKOUT"
	PaymentFlowIntent   PaymentFlow = "INTENT"
)
