// Package pricing turns a reference price into a publishable lot price.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
)

// DefaultMinorUnits is used for currencies without an explicit setting.
const DefaultMinorUnits = 2

// Markup is applied after conversion and before clamping.
type Markup struct {
	CurrencyPercent float64
	MarginPercent   float64
	Fixed           float64
}

// Calculator holds the per-currency rounding table and markup. It has no
// other state; Compute is a pure function of its arguments.
type Calculator struct {
	minorUnits map[string]int
	markup     Markup
}

// NewCalculator creates a Calculator. minorUnits maps currency -> digits.
func NewCalculator(minorUnits map[string]int, markup Markup) *Calculator {
	table := make(map[string]int, len(minorUnits))
	for code, digits := range minorUnits {
		table[utils.NormalizeCurrency(code)] = digits
	}
	return &Calculator{minorUnits: table, markup: markup}
}

// MinorUnits returns the rounding precision for currency.
func (c *Calculator) MinorUnits(currency string) int {
	if digits, ok := c.minorUnits[utils.NormalizeCurrency(currency)]; ok {
		return digits
	}
	return DefaultMinorUnits
}

// Compute returns referencePrice * multiplier with markups, clamped to
// [minPrice, maxPrice] and rounded half-up to the currency's minor unit.
func (c *Calculator) Compute(referencePrice, multiplier, minPrice, maxPrice float64, currency string) (float64, error) {
	if !isFinite(minPrice) || !isFinite(maxPrice) {
		return 0, fmt.Errorf("%w: bounds must be finite, got [%v, %v]", models.ErrConfiguration, minPrice, maxPrice)
	}
	if minPrice > maxPrice {
		return 0, fmt.Errorf("%w: min price %.2f exceeds max price %.2f", models.ErrConfiguration, minPrice, maxPrice)
	}
	if minPrice < 0 {
		return 0, fmt.Errorf("%w: negative min price %.2f", models.ErrConfiguration, minPrice)
	}
	if referencePrice < 0 || math.IsNaN(referencePrice) {
		return 0, fmt.Errorf("%w: reference price %v", models.ErrNegativePrice, referencePrice)
	}
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return 0, fmt.Errorf("%w: multiplier %v", models.ErrNegativePrice, multiplier)
	}

	price := referencePrice * multiplier
	price = c.applyMarkup(price)
	if math.IsNaN(price) {
		return 0, fmt.Errorf("%w: markup produced %v", models.ErrNegativePrice, price)
	}
	price = math.Max(minPrice, math.Min(price, maxPrice))
	return RoundHalfUp(price, c.MinorUnits(currency)), nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (c *Calculator) applyMarkup(price float64) float64 {
	price *= 1 + c.markup.CurrencyPercent/100
	price *= 1 + c.markup.MarginPercent/100
	return price + c.markup.Fixed
}

// Compute is the calculator without markups at two-decimal precision.
func Compute(referencePrice, multiplier, minPrice, maxPrice float64) (float64, error) {
	return NewCalculator(nil, Markup{}).Compute(referencePrice, multiplier, minPrice, maxPrice, "")
}

// RoundHalfUp rounds a non-negative amount to places decimals, halves up.
func RoundHalfUp(amount float64, places int) float64 {
	rounded, _ := decimal.NewFromFloat(amount).Round(int32(places)).Float64()
	return rounded
}

// Changed reports whether two prices differ by more than epsilon.
func Changed(proposed, current, epsilon float64) bool {
	return math.Abs(proposed-current) > epsilon
}
