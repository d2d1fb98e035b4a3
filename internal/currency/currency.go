package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerReference is the number of cents in one euro.
const MinorUnitsPerReference = 100

var (
	// ErrUnknownCurrency is returned when a currency code is not supported.
	ErrUnknownCurrency = errors.New("unknown currency")

	// LiraPerEuro is the irrevocable conversion rate fixed when the lira entered the euro.
	LiraPerEuro = decimal.RequireFromString("1936.27")

	minorScale = decimal.NewFromInt(MinorUnitsPerReference)
)

// Currency is a face-value currency a stamp can be denominated in.
// The set of variants is closed: only EUR and ITL implement it.
type Currency interface {
	// Code returns the ISO 4217 code.
	Code() string
	// Decimals returns how many fractional digits a face value may carry.
	Decimals() int32
	// toReference converts an amount of this currency into euros, unrounded.
	toReference(amount decimal.Decimal) decimal.Decimal
}

type referenceCurrency struct{}

func (referenceCurrency) Code() string    { return "EUR" }
func (referenceCurrency) Decimals() int32 { return 2 }

func (referenceCurrency) toReference(amount decimal.Decimal) decimal.Decimal {
	return amount
}

type fixedRateCurrency struct {
	code         string
	decimals     int32
	perReference decimal.Decimal
}

func (c fixedRateCurrency) Code() string    { return c.code }
func (c fixedRateCurrency) Decimals() int32 { return c.decimals }

func (c fixedRateCurrency) toReference(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(c.perReference)
}

var (
	// EUR is the reference currency targets and totals are expressed in.
	EUR Currency = referenceCurrency{}
	// ITL is the Italian lira, converted at the fixed LiraPerEuro rate.
	ITL Currency = fixedRateCurrency{code: "ITL", decimals: 0, perReference: LiraPerEuro}
)

// All lists every supported currency, reference first.
func All() []Currency {
	return []Currency{EUR, ITL}
}

// Parse resolves a currency code case-insensitively. An empty code means EUR.
func Parse(code string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return EUR, nil
	}
	for _, c := range All() {
		if c.Code() == normalized {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
}

// ToMinor converts a face value into euro cents.
// Rounding is half away from zero and is the only rounding rule used for money in this module.
func ToMinor(amount decimal.Decimal, c Currency) int64 {
	return RoundMinor(c.toReference(amount))
}

// RoundMinor converts a euro amount into cents using the same rounding as ToMinor.
func RoundMinor(euros decimal.Decimal) int64 {
	return euros.Mul(minorScale).Round(0).IntPart()
}

// FromMinor converts euro cents back into a euro amount with two decimals.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// FitsPrecision reports whether amount has no more fractional digits than c allows.
func FitsPrecision(amount decimal.Decimal, c Currency) bool {
	return amount.Equal(amount.Truncate(c.Decimals()))
}
