// Package core provides money parsing, currency conversion and formatting.
//
// Amounts are decimals in the currency that was active when they were stored.
// The two display currencies are linked by a single fixed rate.
package core

import (
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Currency is a display currency.
type Currency string

const (
	BAM Currency = "BAM"
	EUR Currency = "EUR"

	Primary   = BAM
	Secondary = EUR
)

// conversionPrecision is the number of decimal places kept after a conversion.
const conversionPrecision int32 = 16

// Rate is the number of Primary units per Secondary unit.
var Rate = decimal.RequireFromString("1.96")

// Currencies lists the supported display currencies, Primary first.
func Currencies() []Currency {
	return []Currency{Primary, Secondary}
}

// ParseCurrency accepts a currency code in any case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", ErrInvalidCurrency
	}
	return c, nil
}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == BAM || c == EUR
}

func (c Currency) String() string {
	return string(c)
}

// Symbol returns the display suffix used by Format.
func (c Currency) Symbol() string {
	switch c {
	case BAM:
		return "KM"
	case EUR:
		return "€"
	default:
		return string(c)
	}
}

// Convert maps amount from one currency to another. The same amount comes
// back untouched when from == to; otherwise Primary->Secondary divides by
// Rate and Secondary->Primary multiplies by it.
func Convert(amount decimal.Decimal, from, to Currency) decimal.Decimal {
	if from == to {
		return amount
	}
	if from == Primary {
		return amount.DivRound(Rate, conversionPrecision)
	}
	return amount.Mul(Rate).Round(conversionPrecision)
}

// Format renders amount with German separators and the currency symbol,
// e.g. "1.234,56 KM".
func Format(amount decimal.Decimal, c Currency) string {
	return humanize.FormatFloat("#.###,##", amount.Round(2).InexactFloat64()) + " " + c.Symbol()
}

// ParseAmount converts user input to a positive decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// Signs, exponents, grouping separators and zero are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
