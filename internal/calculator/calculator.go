package calculator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

// maxMinorValue keeps sums of up to MaxStampsCeiling values far from int64 overflow.
const maxMinorValue = 1_000_000_000

type enumCalculator struct{}

// New creates a Calculator that enumerates bounded multisets of stamps.
func New() Calculator {
	return &enumCalculator{}
}

func (c *enumCalculator) FindCombinations(stamps []domain.Stamp, req Request) (Result, error) {
	targetMinor, marginMinor, err := validateRequest(req)
	if err != nil {
		return Result{}, err
	}
	candidates, err := prepareCandidates(stamps)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Combinations: []Combination{}}, nil
	}

	s := newSearch(candidates, targetMinor, targetMinor+marginMinor)
	s.run(req.MaxLength())

	// Overpay is total minus a fixed target, so ordering by total orders by overpay.
	sort.SliceStable(s.matches, func(i, j int) bool {
		a, b := s.matches[i], s.matches[j]
		if a.total != b.total {
			return a.total < b.total
		}
		if a.stampCount != b.stampCount {
			return a.stampCount < b.stampCount
		}
		return len(a.uses) < len(b.uses)
	})

	limit := min(len(s.matches), ResultCap)
	out := make([]Combination, 0, limit)
	for _, m := range s.matches[:limit] {
		out = append(out, m.combination(candidates, targetMinor))
	}

	return Result{
		Combinations: out,
		Accepted:     len(s.matches),
		Incomplete:   s.cut,
	}, nil
}

func validateRequest(req Request) (int64, int64, error) {
	if !req.Target.IsPositive() {
		return 0, 0, ErrInvalidTarget
	}
	if req.Overpay().IsNegative() {
		return 0, 0, ErrInvalidOverpay
	}
	target := currency.RoundMinor(req.Target)
	if target <= 0 || target > maxMinorValue {
		return 0, 0, fmt.Errorf("%w: %s EUR", ErrInvalidTarget, req.Target)
	}
	margin := currency.RoundMinor(req.Overpay())
	if margin > maxMinorValue {
		return 0, 0, fmt.Errorf("%w: %s EUR", ErrInvalidOverpay, req.Overpay())
	}
	return target, margin, nil
}

type candidate struct {
	stamp     domain.Stamp
	value     int64
	available int
}

// prepareCandidates validates the inventory and keeps the stamps that can take part
// in a combination, ordered by ID.
func prepareCandidates(stamps []domain.Stamp) ([]candidate, error) {
	ids := make(map[int64]struct{}, len(stamps))
	out := make([]candidate, 0, len(stamps))
	for _, st := range stamps {
		if _, dup := ids[st.ID]; dup {
			return nil, fmt.Errorf("%w: %w: duplicate stamp id %d", ErrInvalidRequest, ErrInvalidStamp, st.ID)
		}
		ids[st.ID] = struct{}{}

		if st.FaceValue.IsNegative() {
			return nil, fmt.Errorf("%w: %w: stamp %d has negative face value %s", ErrInvalidRequest, ErrInvalidStamp, st.ID, st.FaceValue)
		}
		if st.Quantity < 0 {
			return nil, fmt.Errorf("%w: %w: stamp %d has negative quantity %d", ErrInvalidRequest, ErrInvalidStamp, st.ID, st.Quantity)
		}

		value := st.MinorValue()
		if value > maxMinorValue {
			return nil, fmt.Errorf("%w: %w: stamp %d face value %s is out of range", ErrInvalidRequest, ErrInvalidStamp, st.ID, st.FaceValue)
		}
		if st.Quantity == 0 || value <= 0 {
			continue
		}
		out = append(out, candidate{stamp: st, value: value, available: st.Quantity})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].stamp.ID < out[j].stamp.ID })
	return out, nil
}

type use struct {
	index    int
	quantity int
}

type match struct {
	uses       []use
	total      int64
	stampCount int
	signature  string
}

func (m match) combination(candidates []candidate, targetMinor int64) Combination {
	stamps := make([]UsedStamp, 0, len(m.uses))
	for _, u := range m.uses {
		st := candidates[u.index].stamp
		stamps = append(stamps, UsedStamp{
			ID:        st.ID,
			Name:      st.Name,
			FaceValue: st.FaceValue,
			Currency:  st.CurrencyCode(),
			Quantity:  u.quantity,
		})
	}
	return Combination{
		Stamps:      stamps,
		TotalValue:  currency.FromMinor(m.total),
		Overpay:     currency.FromMinor(m.total - targetMinor),
		TotalStamps: m.stampCount,
		Signature:   m.signature,
	}
}

// search holds the per-call enumeration state. Nothing in it outlives one FindCombinations call.
type search struct {
	candidates []candidate
	lo, hi     int64
	// suffixMin[i] and suffixMax[i] are the smallest and largest values among candidates[i:].
	suffixMin []int64
	suffixMax []int64

	used    []int
	seen    map[string]struct{}
	matches []match
	// cut is set when the accepted cap stopped the walk with sequences left to visit.
	cut bool
}

func newSearch(candidates []candidate, lo, hi int64) *search {
	n := len(candidates)
	s := &search{
		candidates: candidates,
		lo:         lo,
		hi:         hi,
		suffixMin:  make([]int64, n),
		suffixMax:  make([]int64, n),
		used:       make([]int, n),
		seen:       make(map[string]struct{}, AcceptedCap),
		matches:    make([]match, 0, AcceptedCap),
	}
	for i := n - 1; i >= 0; i-- {
		v := candidates[i].value
		s.suffixMin[i], s.suffixMax[i] = v, v
		if i < n-1 {
			s.suffixMin[i] = min(v, s.suffixMin[i+1])
			s.suffixMax[i] = max(v, s.suffixMax[i+1])
		}
	}
	return s
}

func (s *search) full() bool {
	return len(s.matches) >= AcceptedCap
}

// run enumerates multisets of every length from 1 to maxLen, shortest first.
func (s *search) run(maxLen int) {
	maxLen = min(maxLen, MaxStampsCeiling)
	for length := 1; length <= maxLen; length++ {
		// Longer sequences only grow the smallest reachable total.
		if int64(length)*s.suffixMin[0] > s.hi {
			return
		}
		if s.full() {
			s.cut = true
			return
		}
		s.extend(0, 0, length, 0)
	}
}

// extend fills position depth of a non-decreasing index sequence of the given length.
// used tracks the multiset built so far, so the recursion needs no other buffer and
// its depth never exceeds MaxStampsCeiling.
func (s *search) extend(depth, start, length int, sum int64) {
	if depth == length {
		if sum >= s.lo && sum <= s.hi {
			s.accept(length, sum)
		}
		return
	}

	remaining := int64(length - depth)
	for i := start; i < len(s.candidates); i++ {
		// Both bounds only tighten as i grows, so the rest of the loop can be skipped.
		if sum+remaining*s.suffixMin[i] > s.hi || sum+remaining*s.suffixMax[i] < s.lo {
			break
		}
		if s.full() {
			s.cut = true
			return
		}
		if s.used[i] >= s.candidates[i].available {
			continue
		}
		s.used[i]++
		s.extend(depth+1, i, length, sum+s.candidates[i].value)
		s.used[i]--
	}
}

func (s *search) accept(length int, total int64) {
	var uses []use
	var sig strings.Builder
	for i, n := range s.used {
		if n == 0 {
			continue
		}
		uses = append(uses, use{index: i, quantity: n})
		if sig.Len() > 0 {
			sig.WriteByte(',')
		}
		sig.WriteString(strconv.FormatInt(s.candidates[i].stamp.ID, 10))
		sig.WriteByte('x')
		sig.WriteString(strconv.Itoa(n))
	}

	signature := sig.String()
	if _, dup := s.seen[signature]; dup {
		return
	}
	s.seen[signature] = struct{}{}
	s.matches = append(s.matches, match{
		uses:       uses,
		total:      total,
		stampCount: length,
		signature:  signature,
	})
}
