package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
)

const maxNameLength = 120

var (
	// ErrInvalidStamp indicates a stamp record violates validation rules.
	ErrInvalidStamp = errors.New("invalid stamp")
	// ErrInvalidRate indicates a postage rate violates validation rules.
	ErrInvalidRate = errors.New("invalid postage rate")
)

// Stamp is one kind of stamp in the collection together with how many are owned.
type Stamp struct {
	ID        int64
	Name      string
	FaceValue decimal.Decimal
	Currency  currency.Currency
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MinorValue returns the stamp's face value in euro cents.
func (s Stamp) MinorValue() int64 {
	return currency.ToMinor(s.FaceValue, s.currency())
}

// CurrencyCode returns the stamp currency code, defaulting to EUR.
func (s Stamp) CurrencyCode() string {
	return s.currency().Code()
}

func (s Stamp) currency() currency.Currency {
	if s.Currency == nil {
		return currency.EUR
	}
	return s.Currency
}

// Validate checks the fields a caller supplies when adding a stamp.
func (s Stamp) Validate() error {
	if err := validateName(s.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStamp, err)
	}
	if !s.FaceValue.IsPositive() {
		return fmt.Errorf("%w: face value must be positive, got %s", ErrInvalidStamp, s.FaceValue)
	}
	if !currency.FitsPrecision(s.FaceValue, s.currency()) {
		return fmt.Errorf("%w: face value %s has more than %d decimals for %s",
			ErrInvalidStamp, s.FaceValue, s.currency().Decimals(), s.currency().Code())
	}
	return ValidateQuantity(s.Quantity)
}

// ValidateQuantity rejects negative stamp quantities.
func ValidateQuantity(quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must be non-negative, got %d", ErrInvalidStamp, quantity)
	}
	return nil
}

// PostageRate is a named postage price in euros, e.g. a domestic letter up to 20g.
type PostageRate struct {
	ID        int64
	Name      string
	Rate      decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks a postage rate before it is stored.
func (r PostageRate) Validate() error {
	if err := validateName(r.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	if !r.Rate.IsPositive() {
		return fmt.Errorf("%w: rate must be positive, got %s", ErrInvalidRate, r.Rate)
	}
	if !currency.FitsPrecision(r.Rate, currency.EUR) {
		return fmt.Errorf("%w: rate %s has more than 2 decimals", ErrInvalidRate, r.Rate)
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errors.New("name is required")
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}
