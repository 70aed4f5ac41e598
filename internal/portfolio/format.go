package portfolio

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatMoney renders amount with the currency's symbol and digit grouping,
// rounded to its minor unit. Unknown currencies get the plain decimal.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// FormatPercent renders p with two decimals and an explicit sign.
func FormatPercent(p decimal.Decimal) string {
	s := p.StringFixed(2) + "%"
	if p.IsPositive() {
		return "+" + s
	}
	return s
}
