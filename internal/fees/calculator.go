package fees

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shipsplit-backend/pkg/config"
	"github.com/angelmondragon/shipsplit-backend/pkg/logger"
	"github.com/angelmondragon/shipsplit-backend/pkg/maps"
	"github.com/angelmondragon/shipsplit-backend/pkg/money"
	"github.com/angelmondragon/shipsplit-backend/pkg/types"
)

const (
	TaxPercent            int64 = 8
	FreeShippingThreshold int64 = 5000
	FlatShippingCents     int64 = 799

	BaseDeliveryFeeCents int64 = 975
	PerMileCents         int64 = 75
	IncludedMiles              = 5.0

	earthRadiusMiles = 3958.8
)

// Geocoder resolves free-form address text. A nil result means no match.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (*maps.LatLng, error)
}

// Origin is the fixed pickup location distances are measured from.
type Origin struct {
	Latitude  float64
	Longitude float64
}

// OriginFromConfig reads the store location.
func OriginFromConfig(cfg config.StoreConfig) Origin {
	return Origin{Latitude: cfg.Latitude, Longitude: cfg.Longitude}
}

// Quote is a priced delivery. Miles is nil when the address could not be resolved.
type Quote struct {
	FeeCents  int64
	Miles     *float64
	Breakdown string
}

// OrderTotals is the priced goods portion of an order.
type OrderTotals struct {
	SubtotalCents int64
	TaxCents      int64
	ShippingCents int64
	TotalCents    int64
}

// Calculator prices orders and distance-based delivery.
type Calculator struct {
	geocoder Geocoder
	origin   Origin
	logg     *logger.Logger
}

// NewCalculator accepts a nil geocoder, in which case every quote is the flat base fee.
func NewCalculator(geocoder Geocoder, origin Origin, logg *logger.Logger) *Calculator {
	return &Calculator{geocoder: geocoder, origin: origin, logg: logg}
}

// Tax is 8% of the subtotal rounded half up to the cent.
func Tax(subtotalCents int64) int64 {
	return (subtotalCents*TaxPercent + 50) / 100
}

// Shipping is free from $50.00, otherwise $7.99.
func Shipping(subtotalCents int64) int64 {
	if subtotalCents >= FreeShippingThreshold {
		return 0
	}
	return FlatShippingCents
}

// PriceOrder derives tax, shipping and total from a subtotal.
func PriceOrder(subtotalCents int64) OrderTotals {
	tax := Tax(subtotalCents)
	shipping := Shipping(subtotalCents)
	return OrderTotals{
		SubtotalCents: subtotalCents,
		TaxCents:      tax,
		ShippingCents: shipping,
		TotalCents:    subtotalCents + tax + shipping,
	}
}

// DeliveryFee charges the base fee up to five miles and $0.75 per mile beyond.
func DeliveryFee(miles float64) int64 {
	if miles <= IncludedMiles {
		return BaseDeliveryFeeCents
	}
	extra := decimal.NewFromFloat(miles).Sub(decimal.NewFromFloat(IncludedMiles)).Mul(decimal.NewFromInt(PerMileCents))
	return decimal.NewFromInt(BaseDeliveryFeeCents).Add(extra).Round(0).IntPart()
}

// DistanceMiles is the haversine great-circle distance.
func DistanceMiles(originLat, originLng, lat, lng float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat - originLat)
	dLng := toRad(lng - originLng)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(originLat))*math.Cos(toRad(lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Quote prices delivery to the address. Geocoding problems never fail the
// quote; they fall back to the flat base fee with unknown distance.
func (c *Calculator) Quote(ctx context.Context, address types.Address) Quote {
	point := c.geocode(ctx, address)
	if point == nil {
		return flatQuote()
	}
	miles := roundMiles(DistanceMiles(c.origin.Latitude, c.origin.Longitude, point.Latitude, point.Longitude))
	return QuoteForMiles(miles)
}

// QuoteForMiles prices a known distance.
func QuoteForMiles(miles float64) Quote {
	fee := DeliveryFee(miles)
	m := miles
	q := Quote{FeeCents: fee, Miles: &m}
	if miles <= IncludedMiles {
		q.Breakdown = fmt.Sprintf("%s base (%.2f mi, first %.0f mi included)", money.Cents(BaseDeliveryFeeCents).Dollars(), miles, IncludedMiles)
		return q
	}
	q.Breakdown = fmt.Sprintf("%s base + %.2f mi × %s = %s",
		money.Cents(BaseDeliveryFeeCents).Dollars(),
		miles-IncludedMiles,
		money.Cents(PerMileCents).Dollars(),
		money.Cents(fee).Dollars(),
	)
	return q
}

func flatQuote() Quote {
	return Quote{
		FeeCents:  BaseDeliveryFeeCents,
		Breakdown: fmt.Sprintf("%s flat (distance unavailable)", money.Cents(BaseDeliveryFeeCents).Dollars()),
	}
}

func (c *Calculator) geocode(ctx context.Context, address types.Address) *maps.LatLng {
	if c.geocoder == nil || address.IsZero() {
		return nil
	}
	candidates := []string{address.Full(), address.CityLine()}
	for _, text := range candidates {
		point, err := c.geocoder.Lookup(ctx, text)
		if err != nil {
			c.warn(ctx, "geocoder lookup failed", text, err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if point != nil {
			return point
		}
	}
	c.warn(ctx, "address could not be geocoded", address.Full(), nil)
	return nil
}

func (c *Calculator) warn(ctx context.Context, msg, address string, err error) {
	if c.logg == nil {
		return
	}
	fields := map[string]any{"address": address}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logg.Warn(c.logg.WithFields(ctx, fields), msg)
}

func roundMiles(miles float64) float64 {
	return math.Round(miles*100) / 100
}
