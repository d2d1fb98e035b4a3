package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

var (
	// ErrStampNotFound indicates no stamp exists with the requested ID.
	ErrStampNotFound = errors.New("stamp not found")
	// ErrRateNotFound indicates no postage rate exists with the requested name.
	ErrRateNotFound = errors.New("postage rate not found")
	// ErrInsufficientQuantity indicates a consume request asked for more stamps than are owned.
	ErrInsufficientQuantity = errors.New("insufficient stamp quantity")
	// ErrInvalidConsume indicates a consume request contains no positive quantities.
	ErrInvalidConsume = errors.New("consume request must name at least one stamp with a positive quantity")
)

// Storage provides access to the stamp collection and postage rates.
// Implementations are safe for concurrent use.
type Storage interface {
	ListStamps(ctx context.Context) ([]domain.Stamp, error)
	GetStamp(ctx context.Context, id int64) (domain.Stamp, error)
	AddStamp(ctx context.Context, stamp domain.Stamp) (domain.Stamp, error)
	UpdateStampQuantity(ctx context.Context, id int64, quantity int) (domain.Stamp, error)
	DeleteStamp(ctx context.Context, id int64) error
	ClearStamps(ctx context.Context) (int, error)
	// ConsumeStamps decrements quantities for stamps that were used.
	// Either every decrement is applied or none is.
	ConsumeStamps(ctx context.Context, usage map[int64]int) ([]domain.Stamp, error)

	ListRates(ctx context.Context) ([]domain.PostageRate, error)
	GetRate(ctx context.Context, name string) (domain.PostageRate, error)
	UpsertRate(ctx context.Context, rate domain.PostageRate) (domain.PostageRate, error)
	DeleteRate(ctx context.Context, name string) error

	Close() error
}

// normalizeStamp validates a stamp supplied by a caller and trims its name.
func normalizeStamp(stamp domain.Stamp) (domain.Stamp, error) {
	if err := stamp.Validate(); err != nil {
		return domain.Stamp{}, err
	}
	stamp.Name = strings.TrimSpace(stamp.Name)
	if stamp.Currency == nil {
		stamp.Currency = currency.EUR
	}
	return stamp, nil
}

func normalizeRate(rate domain.PostageRate) (domain.PostageRate, error) {
	if err := rate.Validate(); err != nil {
		return domain.PostageRate{}, err
	}
	rate.Name = strings.TrimSpace(rate.Name)
	return rate, nil
}

// normalizeUsage drops zero entries and rejects negative ones.
func normalizeUsage(usage map[int64]int) (map[int64]int, error) {
	out := make(map[int64]int, len(usage))
	for id, qty := range usage {
		if qty < 0 {
			return nil, fmt.Errorf("%w: stamp %d has negative quantity %d", ErrInvalidConsume, id, qty)
		}
		if qty > 0 {
			out[id] = qty
		}
	}
	if len(out) == 0 {
		return nil, ErrInvalidConsume
	}
	return out, nil
}

func sortedIDs(usage map[int64]int) []int64 {
	ids := make([]int64, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortStamps(stamps []domain.Stamp) {
	sort.Slice(stamps, func(i, j int) bool {
		if stamps[i].Name != stamps[j].Name {
			return stamps[i].Name < stamps[j].Name
		}
		return stamps[i].ID < stamps[j].ID
	})
}

func sortRates(rates []domain.PostageRate) {
	sort.Slice(rates, func(i, j int) bool { return rates[i].Name < rates[j].Name })
}

func insufficient(stamp domain.Stamp, want int) error {
	return fmt.Errorf("%w: stamp %d (%s) has %d, requested %d", ErrInsufficientQuantity, stamp.ID, stamp.Name, stamp.Quantity, want)
}
