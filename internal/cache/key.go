package cache

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

// Key fingerprints an inventory snapshot together with a request.
// Any change to a stamp or to the request yields a different key, so stored
// results never need invalidation.
func Key(stamps []domain.Stamp, req calculator.Request) string {
	sorted := slices.Clone(stamps)
	slices.SortFunc(sorted, func(a, b domain.Stamp) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	d := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = d.WriteString(p)
			_, _ = d.WriteString("\x1f")
		}
		_, _ = d.WriteString("\x1e")
	}

	write(
		req.Target.String(),
		strconv.Itoa(req.MaxLength()),
		req.Overpay().String(),
	)
	for _, st := range sorted {
		write(
			strconv.FormatInt(st.ID, 10),
			st.Name,
			st.FaceValue.String(),
			st.CurrencyCode(),
			strconv.Itoa(st.Quantity),
		)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
