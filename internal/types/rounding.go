package types

import "github.com/shopspring/decimal"

var half = decimal.New(5, -1)

// RoundToPrecision rounds a value to an arbitrary precision step (0.01, 0.05,
// 1, ...) using the given rounding method. Precision is plain data here, not
// behavior attached to a currency object. A zero or negative precision
// returns the value unchanged.
func RoundToPrecision(value decimal.Decimal, precision decimal.Decimal, method RoundingMethod) decimal.Decimal {
	if precision.LessThanOrEqual(decimal.Zero) {
		return value
	}
	units := value.DivRound(precision, 12)
	return roundUnits(units, method).Mul(precision)
}

// roundUnits rounds a number of precision units to an integer. "up" and
// "down" are relative to zero: up rounds away from zero, down towards it.
func roundUnits(units decimal.Decimal, method RoundingMethod) decimal.Decimal {
	switch method {
	case RoundingMethodUp:
		if units.IsNegative() {
			return units.Floor()
		}
		return units.Ceil()
	case RoundingMethodDown:
		return units.Truncate(0)
	case RoundingMethodHalfDown:
		abs := units.Abs().Sub(half).Ceil()
		if units.IsNegative() {
			return abs.Neg()
		}
		return abs
	case RoundingMethodHalfEven:
		return units.RoundBank(0)
	default:
		// half up, away from zero
		return units.Round(0)
	}
}
