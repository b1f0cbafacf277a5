package enums

import "fmt"

// DeliveryStatus tracks the driver-facing state of a delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusAssigned  DeliveryStatus = "assigned"
	DeliveryStatusPickedUp  DeliveryStatus = "picked_up"
	DeliveryStatusEnRoute   DeliveryStatus = "en_route"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

var deliveryOrder = map[DeliveryStatus]int{
	DeliveryStatusPending:   0,
	DeliveryStatusAssigned:  1,
	DeliveryStatusPickedUp:  2,
	DeliveryStatusEnRoute:   3,
	DeliveryStatusDelivered: 4,
}

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) IsValid() bool {
	if s == DeliveryStatusFailed {
		return true
	}
	_, ok := deliveryOrder[s]
	return ok
}

// IsTerminal reports whether the delivery reached delivered or failed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// HasDriver reports whether a delivery in this state must carry a driver.
func (s DeliveryStatus) HasDriver() bool {
	return s != DeliveryStatusPending && s.IsValid()
}

// CanAdvanceTo reports whether a driver-progress move is forward-only and legal.
// failed is reachable from any active state that already has a driver.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s.IsTerminal() || s == DeliveryStatusPending {
		return false
	}
	if next == DeliveryStatusFailed {
		return true
	}
	cur, ok := deliveryOrder[s]
	if !ok {
		return false
	}
	target, ok := deliveryOrder[next]
	if !ok || next == DeliveryStatusAssigned {
		return false
	}
	return target > cur
}

func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	candidate := DeliveryStatus(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}

// AssignmentType records how a driver was attached to a delivery.
type AssignmentType string

const (
	AssignmentClaimed       AssignmentType = "claimed"
	AssignmentAdminAssigned AssignmentType = "admin_assigned"
)
