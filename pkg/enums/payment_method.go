package enums

import "fmt"

// PaymentMethod selects the checkout flow for an order.
type PaymentMethod string

const (
	// PaymentMethodCard goes through a hosted payment session.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCashOnDelivery uses the legacy synchronous pending flow.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) String() string {
	return string(m)
}

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCard || m == PaymentMethodCashOnDelivery
}

// InitialOrderStatus returns the status a freshly created order starts in.
func (m PaymentMethod) InitialOrderStatus() OrderStatus {
	if m == PaymentMethodCashOnDelivery {
		return OrderStatusPending
	}
	return OrderStatusPendingPayment
}

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	if value == "" {
		return PaymentMethodCard, nil
	}
	method := PaymentMethod(value)
	if method.IsValid() {
		return method, nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
