package format

// Display formatting for bot values.

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const maxFractionDigits = 3

// ScaleUnits divides a base-10 on-chain integer by 10^decimals.
func ScaleUnits(raw string, decimals int32) (decimal.Decimal, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid integer %q", raw)
	}
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// Grouped renders d with English digit grouping and at most 3 fraction digits ("1,234.568").
// All digits come from the decimal itself, so values past float64 precision stay exact.
func Grouped(d decimal.Decimal) string {
	s := d.Round(maxFractionDigits).String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	out := sign + groupThousands(whole)
	if hasFrac {
		out += "." + frac
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	b.Grow(len(digits) + len(digits)/3)
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Units scales raw by decimals and renders it grouped.
func Units(raw string, decimals int32) (string, error) {
	d, err := ScaleUnits(raw, decimals)
	if err != nil {
		return "", err
	}
	return Grouped(d), nil
}

// Price renders a price with exactly two decimals.
func Price(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Template substitutes the first "{result}" in tmpl. An empty template yields result as is.
func Template(tmpl, result string) string {
	if tmpl == "" {
		return result
	}
	return strings.Replace(tmpl, "{result}", result, 1)
}
