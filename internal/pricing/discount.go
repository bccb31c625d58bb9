// Package pricing computes progressive photo-quantity discounts.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const currencyPlaces = 2

// ErrInvalidInput reports negative quantities or prices.
var ErrInvalidInput = errors.New("pricing: invalid input")

var hundred = decimal.NewFromInt(100)

// Tier is an inclusive quantity band. MaxQuantity 0 means unbounded.
type Tier struct {
	MinQuantity int
	MaxQuantity int
	Percentage  int
}

// Tiers is ordered, contiguous and non-overlapping. Quantities below the first band get 0%.
var Tiers = []Tier{
	{MinQuantity: 5, MaxQuantity: 10, Percentage: 5},
	{MinQuantity: 11, MaxQuantity: 20, Percentage: 10},
	{MinQuantity: 21, MaxQuantity: 0, Percentage: 15},
}

func (t Tier) contains(quantity int) bool {
	if quantity < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == 0 || quantity <= t.MaxQuantity
}

// Breakdown is the priced result of a cart. Currency values are rounded to cents.
type Breakdown struct {
	Quantity           int
	DiscountPercentage int
	DiscountAmount     decimal.Decimal
	Subtotal           decimal.Decimal
	Total              decimal.Decimal
}

// Percentage returns the discount percentage for a quantity, or 0 when disabled.
func Percentage(quantity int, enabled bool) int {
	if !enabled {
		return 0
	}
	for _, tier := range Tiers {
		if tier.contains(quantity) {
			return tier.Percentage
		}
	}
	return 0
}

// Calculate prices quantity photos at unitPrice.
func Calculate(quantity int, unitPrice decimal.Decimal, enabled bool) (Breakdown, error) {
	if quantity < 0 {
		return Breakdown{}, fmt.Errorf("%w: quantity %d is negative", ErrInvalidInput, quantity)
	}
	if unitPrice.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: unit price %s is negative", ErrInvalidInput, unitPrice)
	}
	subtotal := roundCurrency(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
	return applyDiscount(quantity, subtotal, Percentage(quantity, enabled)), nil
}

func applyDiscount(quantity int, subtotal decimal.Decimal, percentage int) Breakdown {
	discount := roundCurrency(subtotal.Mul(decimal.NewFromInt(int64(percentage))).Div(hundred))
	return Breakdown{
		Quantity:           quantity,
		DiscountPercentage: percentage,
		DiscountAmount:     discount,
		Subtotal:           subtotal,
		Total:              subtotal.Sub(discount),
	}
}

// Threshold is the next quantity that unlocks a larger discount.
type Threshold struct {
	Quantity   int
	Percentage int
}

// NextThreshold returns the first tier that starts above quantity, if any.
func NextThreshold(quantity int) (Threshold, bool) {
	for _, tier := range Tiers {
		if tier.MinQuantity > quantity {
			return Threshold{Quantity: tier.MinQuantity, Percentage: tier.Percentage}, true
		}
	}
	return Threshold{}, false
}

// roundCurrency rounds half away from zero, which is half-up for the non-negative amounts priced here.
func roundCurrency(value decimal.Decimal) decimal.Decimal {
	return value.Round(currencyPlaces)
}
