package types

import "github.com/shopspring/decimal"

// CURRENCY_DECIMAL_PLACES maps 3 letter ISO currency codes to the number of
// decimal places of their minor unit.
// TODO add more currencies or look for a library
var CURRENCY_DECIMAL_PLACES = map[string]int32{
	"usd": 2,
	"eur": 2,
	"gbp": 2,
	"aud": 2,
	"cad": 2,
	"chf": 2,
	"sek": 2,
	"nzd": 2,
	"hkd": 2,
	"sgd": 2,
	"inr": 2,
	"brl": 2,
	"rub": 2,
	"mxn": 2,
	"try": 2,
	"zar": 2,
	"myr": 2,
	"jpy": 0,
	"krw": 0,
	"vnd": 0,
	"bhd": 3,
	"kwd": 3,
	"omr": 3,
	"tnd": 3,
}

// DefaultCurrencyPrecision is used for currency codes missing from the table.
const DefaultCurrencyPrecision int32 = 2

// GetCurrencyPrecision returns the number of decimal places for a given
// currency code. Unknown codes fall back to DefaultCurrencyPrecision.
func GetCurrencyPrecision(code string) int32 {
	if precision, ok := CURRENCY_DECIMAL_PLACES[code]; ok {
		return precision
	}
	return DefaultCurrencyPrecision
}

// GetCurrencyRoundingStep returns the smallest representable amount for a
// given currency code, e.g. 0.01 for usd and 1 for jpy.
func GetCurrencyRoundingStep(code string) decimal.Decimal {
	return decimal.New(1, -GetCurrencyPrecision(code))
}

// RoundToCurrencyPrecision rounds a value to the currency's decimal places
// using half up rounding.
func RoundToCurrencyPrecision(value decimal.Decimal, code string) decimal.Decimal {
	return value.Round(GetCurrencyPrecision(code))
}
