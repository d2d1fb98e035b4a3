package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

const (
	// DefaultMaxStamps is the combination length used when a request does not set one.
	DefaultMaxStamps = 8
	// MaxStampsCeiling bounds the combination length regardless of what a request asks for.
	MaxStampsCeiling = 12
	// AcceptedCap stops the enumeration once this many combinations were accepted.
	AcceptedCap = 50
	// ResultCap is the number of ranked combinations returned to callers.
	ResultCap = 15
)

// DefaultMaxOverpay is the overpay margin applied when a request leaves it unset.
var DefaultMaxOverpay = decimal.New(10, -2)

// Request describes a postage target and the bounds of the search.
type Request struct {
	// Target is the postage to cover, in euros.
	Target decimal.Decimal
	// MaxStamps caps the number of stamps in one combination. Zero selects DefaultMaxStamps.
	MaxStamps int
	// MaxOverpay is how far above Target a total may go. Unset selects DefaultMaxOverpay.
	MaxOverpay decimal.NullDecimal
}

// Overpay returns the effective overpay margin.
func (r Request) Overpay() decimal.Decimal {
	if r.MaxOverpay.Valid {
		return r.MaxOverpay.Decimal
	}
	return DefaultMaxOverpay
}

// MaxLength returns the effective combination length bound.
func (r Request) MaxLength() int {
	length := r.MaxStamps
	if length <= 0 {
		length = DefaultMaxStamps
	}
	return min(length, MaxStampsCeiling)
}

// UsedStamp is one stamp kind within a combination.
type UsedStamp struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	FaceValue decimal.Decimal `json:"faceValue"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
}

// Combination is a multiset of owned stamps whose total falls inside the requested window.
// Stamps are ordered by ID.
type Combination struct {
	Stamps      []UsedStamp     `json:"stamps"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	Overpay     decimal.Decimal `json:"overpay"`
	TotalStamps int             `json:"totalStampCount"`
	Signature   string          `json:"signature"`
}

// DistinctStamps returns how many different stamp kinds the combination uses.
func (c Combination) DistinctStamps() int {
	return len(c.Stamps)
}

// Quantities maps stamp IDs to the quantity used.
func (c Combination) Quantities() map[int64]int {
	out := make(map[int64]int, len(c.Stamps))
	for _, s := range c.Stamps {
		out[s.ID] = s.Quantity
	}
	return out
}

// Result is the ranked outcome of a search.
// Incomplete is set when the search stopped at AcceptedCap, so better
// combinations may exist among the ones never enumerated.
type Result struct {
	Combinations []Combination `json:"combinations"`
	Accepted     int           `json:"accepted"`
	Incomplete   bool          `json:"incomplete"`
}

// Calculator describes the behaviour required from a stamp combination search.
type Calculator interface {
	FindCombinations(stamps []domain.Stamp, req Request) (Result, error)
}
