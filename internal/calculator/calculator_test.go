package calculator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

func eur(id int64, name, value string, qty int) domain.Stamp {
	return domain.Stamp{ID: id, Name: name, FaceValue: decimal.RequireFromString(value), Currency: currency.EUR, Quantity: qty}
}

func itl(id int64, name, value string, qty int) domain.Stamp {
	return domain.Stamp{ID: id, Name: name, FaceValue: decimal.RequireFromString(value), Currency: currency.ITL, Quantity: qty}
}

func request(target, overpay string, maxStamps int) Request {
	return Request{
		Target:     decimal.RequireFromString(target),
		MaxStamps:  maxStamps,
		MaxOverpay: decimal.NewNullDecimal(decimal.RequireFromString(overpay)),
	}
}

func TestFindCombinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stamps  []domain.Stamp
		req     Request
		want    []string
		wantErr error
	}{
		{
			name:   "ExactSingleStampBeatsOverpayingPair",
			stamps: []domain.Stamp{eur(1, "A", "0.95", 5), eur(2, "B", "1.30", 5)},
			req:    request("1.30", "0.10", 0),
			want:   []string{"2x1"},
		},
		{
			name:   "LiraNormalizedToCents",
			stamps: []domain.Stamp{itl(7, "C", "500", 1)},
			req:    request("0.26", "0.01", 0),
			want:   []string{"7x1"},
		},
		{
			name:   "EmptyInventory",
			stamps: nil,
			req:    request("1.00", "0.10", 0),
			want:   []string{},
		},
		{
			name:   "AllQuantitiesZero",
			stamps: []domain.Stamp{eur(1, "A", "0.50", 0), eur(2, "B", "1.00", 0)},
			req:    request("1.00", "0.10", 0),
			want:   []string{},
		},
		{
			name:   "QuantityLimitRespected",
			stamps: []domain.Stamp{eur(1, "A", "0.50", 1)},
			req:    request("1.00", "0", 0),
			want:   []string{},
		},
		{
			name:   "FewerStampsFirst",
			stamps: []domain.Stamp{eur(1, "A", "0.50", 4), eur(2, "B", "1.00", 2)},
			req:    request("1.00", "0", 0),
			want:   []string{"2x1", "1x2"},
		},
		{
			name:   "FewerDistinctStampsBreakTies",
			stamps: []domain.Stamp{eur(1, "A", "0.25", 4), eur(2, "B", "0.50", 2), eur(3, "C", "0.75", 1)},
			req:    request("1.00", "0", 2),
			want:   []string{"2x2", "1x1,3x1"},
		},
		{
			name:   "LowerOverpayFirst",
			stamps: []domain.Stamp{eur(1, "A", "0.60", 2), eur(2, "B", "1.05", 1)},
			req:    request("1.00", "0.20", 0),
			want:   []string{"2x1", "1x2"},
		},
		{
			name:   "MixedCurrencies",
			stamps: []domain.Stamp{itl(1, "Lira", "1000", 2), eur(2, "Euro", "0.26", 3)},
			req:    request("0.78", "0", 0),
			want:   []string{"1x1,2x1", "2x3"},
		},
		{
			name:   "MaxStampsLimitsLength",
			stamps: []domain.Stamp{eur(1, "A", "0.10", 20)},
			req:    request("1.00", "0", 5),
			want:   []string{},
		},
		{
			name:   "ZeroValueLiraIgnored",
			stamps: []domain.Stamp{itl(1, "Tiny", "1", 50), eur(2, "B", "0.10", 1)},
			req:    request("0.10", "0", 0),
			want:   []string{"2x1"},
		},
		{
			name:    "NegativeTarget",
			stamps:  []domain.Stamp{eur(1, "A", "1.00", 1)},
			req:     request("-1", "0.10", 0),
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "TargetRoundsToZero",
			stamps:  []domain.Stamp{eur(1, "A", "1.00", 1)},
			req:     request("0.004", "0.10", 0),
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "NegativeOverpay",
			stamps:  []domain.Stamp{eur(1, "A", "1.00", 1)},
			req:     request("1.00", "-0.01", 0),
			wantErr: ErrInvalidOverpay,
		},
		{
			name:    "NegativeQuantity",
			stamps:  []domain.Stamp{eur(1, "A", "1.00", -1)},
			req:     request("1.00", "0.10", 0),
			wantErr: ErrInvalidStamp,
		},
		{
			name:    "NegativeFaceValue",
			stamps:  []domain.Stamp{eur(1, "A", "-1.00", 1)},
			req:     request("1.00", "0.10", 0),
			wantErr: ErrInvalidStamp,
		},
		{
			name:    "DuplicateIDs",
			stamps:  []domain.Stamp{eur(1, "A", "1.00", 1), eur(1, "B", "0.50", 1)},
			req:     request("1.00", "0.10", 0),
			wantErr: ErrInvalidStamp,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := New().FindCombinations(tc.stamps, tc.req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected %v to be an ErrInvalidRequest", err)
				}
				return
			}

			if got.Combinations == nil {
				t.Fatalf("expected a non-nil combination slice")
			}
			signatures := make([]string, 0, len(got.Combinations))
			for _, c := range got.Combinations {
				signatures = append(signatures, c.Signature)
			}
			if fmt.Sprint(signatures) != fmt.Sprint(tc.want) {
				t.Fatalf("unexpected combinations: got %v want %v", signatures, tc.want)
			}
			assertInvariants(t, tc.stamps, tc.req, got)
		})
	}
}

func TestFindCombinationsReportsTotals(t *testing.T) {
	t.Parallel()

	got, err := New().FindCombinations(
		[]domain.Stamp{eur(1, "Prioritaria", "0.95", 5), itl(2, "Lira", "500", 2)},
		request("1.40", "0.10", 0),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Combinations) == 0 {
		t.Fatalf("expected at least one combination")
	}

	best := got.Combinations[0]
	// 0.95 + 2 * 0.26 = 1.47
	if !best.TotalValue.Equal(decimal.RequireFromString("1.47")) {
		t.Fatalf("expected total 1.47, got %s", best.TotalValue)
	}
	if !best.Overpay.Equal(decimal.RequireFromString("0.07")) {
		t.Fatalf("expected overpay 0.07, got %s", best.Overpay)
	}
	if best.TotalStamps != 3 || best.DistinctStamps() != 2 {
		t.Fatalf("expected 3 stamps of 2 kinds, got %d of %d", best.TotalStamps, best.DistinctStamps())
	}
	if q := best.Quantities(); q[1] != 1 || q[2] != 2 {
		t.Fatalf("unexpected quantities %v", q)
	}
	if best.Stamps[1].Currency != "ITL" {
		t.Fatalf("expected lira stamp to keep its currency, got %s", best.Stamps[1].Currency)
	}
}

func TestFindCombinationsDefaultOverpay(t *testing.T) {
	t.Parallel()

	stamps := []domain.Stamp{eur(1, "A", "1.10", 1), eur(2, "B", "1.11", 1)}
	got, err := New().FindCombinations(stamps, Request{Target: decimal.RequireFromString("1.00")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Combinations) != 1 || got.Combinations[0].Signature != "1x1" {
		t.Fatalf("expected only the 1.10 stamp within the default margin, got %+v", got.Combinations)
	}
}

func TestFindCombinationsCapsResults(t *testing.T) {
	t.Parallel()

	stamps := make([]domain.Stamp, 0, 20)
	for i := 1; i <= 20; i++ {
		stamps = append(stamps, domain.Stamp{
			ID:        int64(i),
			Name:      fmt.Sprintf("S%d", i),
			FaceValue: decimal.New(int64(i), -2),
			Currency:  currency.EUR,
			Quantity:  100,
		})
	}
	req := request("0.20", "0.10", 0)

	got, err := New().FindCombinations(stamps, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Combinations) != ResultCap {
		t.Fatalf("expected %d combinations, got %d", ResultCap, len(got.Combinations))
	}
	if got.Accepted != AcceptedCap || !got.Incomplete {
		t.Fatalf("expected enumeration to stop at %d accepted, got %d (incomplete=%v)", AcceptedCap, got.Accepted, got.Incomplete)
	}
	if got.Combinations[0].Signature != "20x1" {
		t.Fatalf("expected the single exact stamp first, got %s", got.Combinations[0].Signature)
	}
	assertInvariants(t, stamps, req, got)
}

func TestFindCombinationsIncompleteOnlyWhenCapCutsSearch(t *testing.T) {
	t.Parallel()

	distinct := func(n int) []domain.Stamp {
		out := make([]domain.Stamp, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, eur(int64(i), fmt.Sprintf("Uno %d", i), "1.00", 1))
		}
		return out
	}

	tests := []struct {
		name           string
		stamps         []domain.Stamp
		maxStamps      int
		wantAccepted   int
		wantIncomplete bool
	}{
		{name: "exactly the cap with nothing left", stamps: distinct(AcceptedCap), maxStamps: 1, wantAccepted: AcceptedCap},
		{name: "cap with longer lengths out of reach", stamps: distinct(AcceptedCap), maxStamps: 8, wantAccepted: AcceptedCap},
		{name: "one more candidate than the cap", stamps: distinct(AcceptedCap + 1), maxStamps: 1, wantAccepted: AcceptedCap, wantIncomplete: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New().FindCombinations(tt.stamps, request("1.00", "0", tt.maxStamps))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Accepted != tt.wantAccepted || got.Incomplete != tt.wantIncomplete {
				t.Fatalf("expected accepted=%d incomplete=%v, got accepted=%d incomplete=%v",
					tt.wantAccepted, tt.wantIncomplete, got.Accepted, got.Incomplete)
			}
			if len(got.Combinations) != ResultCap {
				t.Fatalf("expected %d combinations, got %d", ResultCap, len(got.Combinations))
			}
		})
	}
}

func TestFindCombinationsUnreachableTargetIsFast(t *testing.T) {
	t.Parallel()

	stamps := make([]domain.Stamp, 0, 60)
	for i := 1; i <= 60; i++ {
		stamps = append(stamps, eur(int64(i), fmt.Sprintf("S%d", i), "0.01", 1000))
	}
	req := request("1000", "0.10", MaxStampsCeiling)

	start := time.Now()
	got, err := New().FindCombinations(stamps, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Combinations) != 0 {
		t.Fatalf("expected no combinations, got %d", len(got.Combinations))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("search took %s", elapsed)
	}
}

func TestRequestMaxLength(t *testing.T) {
	t.Parallel()

	cases := map[int]int{0: DefaultMaxStamps, -3: DefaultMaxStamps, 4: 4, 12: 12, 100: MaxStampsCeiling}
	for in, want := range cases {
		if got := (Request{MaxStamps: in}).MaxLength(); got != want {
			t.Fatalf("MaxLength(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSearchStateIsPerCall(t *testing.T) {
	t.Parallel()

	calc := New()
	stamps := []domain.Stamp{eur(1, "A", "1.00", 1)}
	for i := 0; i < 3; i++ {
		got, err := calc.FindCombinations(stamps, request("1.00", "0", 0))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got.Combinations) != 1 {
			t.Fatalf("call %d: expected 1 combination, got %d", i, len(got.Combinations))
		}
	}
}

func assertInvariants(t *testing.T, stamps []domain.Stamp, req Request, got Result) {
	t.Helper()

	available := make(map[int64]int, len(stamps))
	for _, s := range stamps {
		available[s.ID] = s.Quantity
	}
	target := req.Target
	upper := req.Target.Add(req.Overpay())
	seen := make(map[string]bool)

	for i, c := range got.Combinations {
		if c.TotalValue.LessThan(target) || c.TotalValue.GreaterThan(upper) {
			t.Fatalf("combination %s total %s outside [%s, %s]", c.Signature, c.TotalValue, target, upper)
		}
		if !c.Overpay.Equal(c.TotalValue.Sub(currency.FromMinor(currency.RoundMinor(target)))) {
			t.Fatalf("combination %s overpay %s does not match total %s", c.Signature, c.Overpay, c.TotalValue)
		}
		count := 0
		for _, s := range c.Stamps {
			if s.Quantity < 1 || s.Quantity > available[s.ID] {
				t.Fatalf("combination %s uses %d of stamp %d, available %d", c.Signature, s.Quantity, s.ID, available[s.ID])
			}
			count += s.Quantity
		}
		if count != c.TotalStamps || count > req.MaxLength() {
			t.Fatalf("combination %s stamp count %d inconsistent", c.Signature, c.TotalStamps)
		}
		if seen[c.Signature] {
			t.Fatalf("duplicate combination %s", c.Signature)
		}
		seen[c.Signature] = true

		if i == 0 {
			continue
		}
		prev := got.Combinations[i-1]
		switch cmp := prev.Overpay.Cmp(c.Overpay); {
		case cmp > 0:
			t.Fatalf("combinations out of overpay order at %d", i)
		case cmp == 0 && prev.TotalStamps > c.TotalStamps:
			t.Fatalf("combinations out of stamp-count order at %d", i)
		case cmp == 0 && prev.TotalStamps == c.TotalStamps && prev.DistinctStamps() > c.DistinctStamps():
			t.Fatalf("combinations out of distinct-stamp order at %d", i)
		}
	}
}

func BenchmarkFindCombinationsSmall(b *testing.B) {
	calc := New()
	stamps := []domain.Stamp{eur(1, "A", "0.95", 10), eur(2, "B", "1.30", 10), eur(3, "C", "0.05", 10), itl(4, "L", "750", 5)}
	req := request("2.90", "0.10", 0)
	for i := 0; i < b.N; i++ {
		if _, err := calc.FindCombinations(stamps, req); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

func BenchmarkFindCombinationsLargeInventory(b *testing.B) {
	calc := New()
	stamps := make([]domain.Stamp, 0, 40)
	for i := 1; i <= 40; i++ {
		stamps = append(stamps, domain.Stamp{ID: int64(i), Name: "S", FaceValue: decimal.New(int64(i*7), -2), Currency: currency.EUR, Quantity: 3})
	}
	req := request("12.34", "0", MaxStampsCeiling)
	for i := 0; i < b.N; i++ {
		if _, err := calc.FindCombinations(stamps, req); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}
