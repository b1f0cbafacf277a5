package enums

import "fmt"

// PayoutStatus tracks a single payout row through its transfer attempt.
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
	PayoutStatusFailed  PayoutStatus = "failed"
)

func (s PayoutStatus) String() string {
	return string(s)
}

// PayeeKind distinguishes vendor and driver payout destinations.
type PayeeKind string

const (
	PayeeVendor PayeeKind = "vendor"
	PayeeDriver PayeeKind = "driver"
)

func (k PayeeKind) String() string {
	return string(k)
}

func (k PayeeKind) IsValid() bool {
	return k == PayeeVendor || k == PayeeDriver
}

func ParsePayeeKind(value string) (PayeeKind, error) {
	kind := PayeeKind(value)
	if kind.IsValid() {
		return kind, nil
	}
	return "", fmt.Errorf("invalid payee kind %q", value)
}

// PayoutMethod is the mechanism used to move funds to a payee.
type PayoutMethod string

const PayoutMethodStripeTransfer PayoutMethod = "stripe_transfer"
