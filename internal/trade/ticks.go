package trade

import "github.com/shopspring/decimal"

// FloorToStep rounds v down onto the step grid. A non-positive step returns v.
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Floor().Mul(s).InexactFloat64()
}

// CeilToStep rounds v up onto the step grid. A non-positive step returns v.
func CeilToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Ceil().Mul(s).InexactFloat64()
}

// RoundToStep rounds v to the nearest grid point, halves away from zero.
func RoundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Round(0).Mul(s).InexactFloat64()
}

// OnStep reports whether v is an exact multiple of step.
func OnStep(v, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(v).Mod(decimal.NewFromFloat(step)).IsZero()
}

// Add returns a+b without binary float drift, e.g. 0.1+0.2 == 0.3.
func Add(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}

// Sub returns a-b without binary float drift.
func Sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).InexactFloat64()
}

// Mul returns a*b without binary float drift.
func Mul(a, b float64) float64 {
	return decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).InexactFloat64()
}

// FormatStep renders v with exactly as many decimals as step carries.
func FormatStep(v, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(v).String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}
