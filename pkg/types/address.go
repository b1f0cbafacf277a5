package types

import (
	"fmt"
	"strings"
)

// Address is a US-style postal address. Models embed it with a column prefix.
type Address struct {
	Street string `json:"street" gorm:"column:street" validate:"required"`
	City   string `json:"city" gorm:"column:city" validate:"required"`
	State  string `json:"state" gorm:"column:state" validate:"required"`
	Zip    string `json:"zip" gorm:"column:zip" validate:"required"`
}

// Full renders "street, city, state zip".
func (a Address) Full() string {
	return fmt.Sprintf("%s, %s", strings.TrimSpace(a.Street), a.CityLine())
}

// CityLine renders "city, state zip" without the street.
func (a Address) CityLine() string {
	return strings.TrimSpace(fmt.Sprintf("%s, %s %s", strings.TrimSpace(a.City), strings.TrimSpace(a.State), strings.TrimSpace(a.Zip)))
}

// IsZero reports whether no component was provided.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Street) == "" && strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.State) == "" && strings.TrimSpace(a.Zip) == ""
}
