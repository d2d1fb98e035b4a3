package calculator

import (
	"errors"
	"fmt"

	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

var (
	// ErrInvalidRequest is the parent of every validation failure reported before enumeration starts.
	ErrInvalidRequest = errors.New("invalid combination request")
	// ErrInvalidTarget is returned when the target postage is not positive.
	ErrInvalidTarget = fmt.Errorf("%w: target must be a positive amount", ErrInvalidRequest)
	// ErrInvalidOverpay is returned when the overpay margin is negative.
	ErrInvalidOverpay = fmt.Errorf("%w: max overpay must not be negative", ErrInvalidRequest)
	// ErrInvalidStamp is returned when a stamp record is malformed.
	ErrInvalidStamp = domain.ErrInvalidStamp
)
