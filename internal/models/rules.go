package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// FloorPrice floors price to the tick size.
func (r SymbolRules) FloorPrice(price float64) float64 {
	return floorToStep(price, r.TickSize)
}

// RoundPrice rounds price to the nearest tick.
func (r SymbolRules) RoundPrice(price float64) float64 {
	return roundToStep(price, r.TickSize)
}

// FloorQty floors quantity to the step size.
func (r SymbolRules) FloorQty(qty float64) float64 {
	return floorToStep(qty, r.StepSize)
}

// FormatPrice renders price with the tick precision the venue accepts.
func (r SymbolRules) FormatPrice(price float64) string {
	return formatToStep(price, r.TickSize)
}

// FormatQty renders quantity with the step precision the venue accepts.
func (r SymbolRules) FormatQty(qty float64) string {
	return formatToStep(qty, r.StepSize)
}

// 使用 decimal 避免浮点误差导致的下单精度错误
func floorToStep(value, step float64) float64 {
	if step <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	s := decimal.NewFromFloat(step)
	v, _ := decimal.NewFromFloat(value).Div(s).Floor().Mul(s).Float64()
	return v
}

func roundToStep(value, step float64) float64 {
	if step <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	s := decimal.NewFromFloat(step)
	v, _ := decimal.NewFromFloat(value).Div(s).Round(0).Mul(s).Float64()
	return v
}

func formatToStep(value, step float64) string {
	d := decimal.NewFromFloat(value)
	if step <= 0 {
		return d.String()
	}
	places := int32(0)
	if exp := decimal.NewFromFloat(step).Exponent(); exp < 0 {
		places = -exp
	}
	return d.Truncate(places).StringFixed(places)
}
