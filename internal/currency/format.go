package currency

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Round2 rounds half away from zero to two decimals. Amounts are only rounded
// for presentation and suggested transfers.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Symbol returns the display symbol of a currency, or the code itself.
func Symbol(code string) string {
	if cur := money.GetCurrency(strings.ToUpper(code)); cur != nil && cur.Grapheme != "" {
		return cur.Grapheme
	}
	return code
}

// Format renders amount with the currency's symbol and minor-unit precision.
func Format(amount float64, code string) string {
	code = strings.ToUpper(code)
	cur := money.GetCurrency(code)
	if cur == nil {
		return decimal.NewFromFloat(amount).StringFixed(2) + " " + code
	}
	places := int32(cur.Fraction)
	minor := decimal.NewFromFloat(amount).Round(places).Shift(places).IntPart()
	return cur.Formatter().Format(minor)
}
