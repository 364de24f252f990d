package converters

import (
	"fmt"
	"strings"

	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// defaultFractionDigits applies to every ISO-4217 currency not listed below
const defaultFractionDigits = 2

// fractionDigits lists the currencies whose minor unit is not 1/100
var fractionDigits = map[string]int32{
	// zero-decimal
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "MGA": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0,
	"XAF": 0, "XOF": 0, "XPF": 0,
	// three-decimal
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
}

// FractionDigits returns the number of minor-unit digits for a currency code
func FractionDigits(currency string) int {
	if d, ok := fractionDigits[strings.ToUpper(currency)]; ok {
		return int(d)
	}
	return defaultFractionDigits
}

// NormalizeCurrency upper-cases a gateway currency code and checks its shape
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency code %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency code %q", code)
		}
	}
	return code, nil
}

// NormalizeAmount builds canonical money from a gateway amount already in minor units
func NormalizeAmount(minorUnits int64, currency string) (domain.Money, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return domain.Money{}, err
	}
	if minorUnits < 0 {
		return domain.Money{}, fmt.Errorf("negative amount %d %s", minorUnits, code)
	}
	return domain.Money{
		CentAmount:     minorUnits,
		CurrencyCode:   code,
		FractionDigits: FractionDigits(code),
	}, nil
}

// FromMajorUnits converts a major-unit decimal (456.00) to minor units (45600).
// Amounts with more precision than the currency allows are rejected, never rounded.
func FromMajorUnits(major decimal.Decimal, currency string) (domain.Money, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return domain.Money{}, err
	}
	exp := int32(FractionDigits(code))
	minor := major.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return domain.Money{}, fmt.Errorf("amount %s has more than %d decimal places for %s", major.String(), exp, code)
	}
	if !minor.IsInteger() || minor.Sign() < 0 {
		return domain.Money{}, fmt.Errorf("invalid amount %s %s", major.String(), code)
	}
	return NormalizeAmount(minor.IntPart(), code)
}

// ParseAmount accepts either integer minor units ("45600") or a major-unit
// decimal string ("456.00") as sent by different gateway payloads.
func ParseAmount(raw string, currency string) (domain.Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Money{}, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.Money{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if !strings.Contains(raw, ".") {
		if d.Sign() < 0 {
			return domain.Money{}, fmt.Errorf("negative amount %s", raw)
		}
		return NormalizeAmount(d.IntPart(), currency)
	}
	return FromMajorUnits(d, currency)
}

// MajorUnits converts canonical money back to a major-unit decimal
func MajorUnits(m domain.Money) decimal.Decimal {
	return decimal.New(m.CentAmount, -int32(FractionDigits(m.CurrencyCode)))
}

// FormatMoney renders money for logs, e.g. "456.00 MXN"
func FormatMoney(m domain.Money) string {
	return MajorUnits(m).StringFixed(int32(FractionDigits(m.CurrencyCode))) + " " + m.CurrencyCode
}
