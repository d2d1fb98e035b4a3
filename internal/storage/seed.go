package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

// DefaultRates are the postage rates loaded on first run.
var DefaultRates = []domain.PostageRate{
	{Name: "Posta Ordinaria Italia 20g", Rate: decimal.RequireFromString("1.30")},
	{Name: "Posta Ordinaria Italia 50g", Rate: decimal.RequireFromString("2.95")},
	{Name: "Posta Ordinaria Italia 100g", Rate: decimal.RequireFromString("3.50")},
	{Name: "Posta1 Italia 20g", Rate: decimal.RequireFromString("2.90")},
	{Name: "Posta Raccomandata Italia 20g", Rate: decimal.RequireFromString("6.50")},
	{Name: "Posta Ordinaria Zona 1 20g", Rate: decimal.RequireFromString("1.30")},
	{Name: "Posta Ordinaria Zona 2 20g", Rate: decimal.RequireFromString("2.45")},
	{Name: "Posta Ordinaria Zona 3 20g", Rate: decimal.RequireFromString("3.10")},
}

// SampleStamps is a small mixed collection of euro and lira stamps.
var SampleStamps = []domain.Stamp{
	{Name: "Francobollo ordinario B", FaceValue: decimal.RequireFromString("1.30"), Currency: currency.EUR, Quantity: 10},
	{Name: "Francobollo 0,05", FaceValue: decimal.RequireFromString("0.05"), Currency: currency.EUR, Quantity: 20},
	{Name: "Francobollo 0,10", FaceValue: decimal.RequireFromString("0.10"), Currency: currency.EUR, Quantity: 15},
	{Name: "Francobollo 0,50", FaceValue: decimal.RequireFromString("0.50"), Currency: currency.EUR, Quantity: 8},
	{Name: "Francobollo 1,00", FaceValue: decimal.RequireFromString("1.00"), Currency: currency.EUR, Quantity: 5},
	{Name: "Lire 500 Castelli", FaceValue: decimal.NewFromInt(500), Currency: currency.ITL, Quantity: 12},
	{Name: "Lire 750 Castelli", FaceValue: decimal.NewFromInt(750), Currency: currency.ITL, Quantity: 6},
	{Name: "Lire 1000 Castelli", FaceValue: decimal.NewFromInt(1000), Currency: currency.ITL, Quantity: 4},
}

// SeedDefaultRates inserts DefaultRates when the store holds no rate yet.
// It returns how many rates were inserted.
func SeedDefaultRates(ctx context.Context, store Storage) (int, error) {
	existing, err := store.ListRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list postage rates: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, r := range DefaultRates {
		if _, err := store.UpsertRate(ctx, r); err != nil {
			return i, fmt.Errorf("failed to seed postage rate %q: %w", r.Name, err)
		}
	}
	return len(DefaultRates), nil
}

// LoadSampleData adds SampleStamps to the collection.
func LoadSampleData(ctx context.Context, store Storage) ([]domain.Stamp, error) {
	added := make([]domain.Stamp, 0, len(SampleStamps))
	for _, st := range SampleStamps {
		saved, err := store.AddStamp(ctx, st)
		if err != nil {
			return added, fmt.Errorf("failed to add sample stamp %q: %w", st.Name, err)
		}
		added = append(added, saved)
	}
	return added, nil
}
