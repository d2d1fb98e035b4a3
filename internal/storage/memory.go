package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

// MemoryStorage keeps the collection in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu     sync.RWMutex
	nextID int64
	rateID int64
	stamps map[int64]domain.Stamp
	rates  map[string]domain.PostageRate
	clock  func() time.Time
}

// NewMemoryStorage initialises an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		stamps: make(map[int64]domain.Stamp),
		rates:  make(map[string]domain.PostageRate),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// ListStamps returns a copy of every stamp, ordered by name.
func (s *MemoryStorage) ListStamps(ctx context.Context) ([]domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Stamp, 0, len(s.stamps))
	for _, st := range s.stamps {
		out = append(out, st)
	}
	sortStamps(out)
	return out, nil
}

func (s *MemoryStorage) GetStamp(ctx context.Context, id int64) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stamps[id]
	if !ok {
		return domain.Stamp{}, ErrStampNotFound
	}
	return st, nil
}

// AddStamp validates and stores a new stamp, assigning its ID.
func (s *MemoryStorage) AddStamp(ctx context.Context, stamp domain.Stamp) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	stamp, err := normalizeStamp(stamp)
	if err != nil {
		return domain.Stamp{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.clock()
	stamp.ID = s.nextID
	stamp.CreatedAt = now
	stamp.UpdatedAt = now
	s.stamps[stamp.ID] = stamp
	return stamp, nil
}

func (s *MemoryStorage) UpdateStampQuantity(ctx context.Context, id int64, quantity int) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return domain.Stamp{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stamps[id]
	if !ok {
		return domain.Stamp{}, ErrStampNotFound
	}
	st.Quantity = quantity
	st.UpdatedAt = s.clock()
	s.stamps[id] = st
	return st, nil
}

func (s *MemoryStorage) DeleteStamp(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stamps[id]; !ok {
		return ErrStampNotFound
	}
	delete(s.stamps, id)
	return nil
}

func (s *MemoryStorage) ClearStamps(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.stamps)
	s.stamps = make(map[int64]domain.Stamp)
	return removed, nil
}

func (s *MemoryStorage) ConsumeStamps(ctx context.Context, usage map[int64]int) ([]domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	usage, err := normalizeUsage(usage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sortedIDs(usage)
	for _, id := range ids {
		st, ok := s.stamps[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrStampNotFound, id)
		}
		if st.Quantity < usage[id] {
			return nil, insufficient(st, usage[id])
		}
	}

	now := s.clock()
	out := make([]domain.Stamp, 0, len(ids))
	for _, id := range ids {
		st := s.stamps[id]
		st.Quantity -= usage[id]
		st.UpdatedAt = now
		s.stamps[id] = st
		out = append(out, st)
	}
	return out, nil
}

func (s *MemoryStorage) ListRates(ctx context.Context) ([]domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PostageRate, 0, len(s.rates))
	for _, r := range s.rates {
		out = append(out, r)
	}
	sortRates(out)
	return out, nil
}

func (s *MemoryStorage) GetRate(ctx context.Context, name string) (domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return domain.PostageRate{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rates[name]
	if !ok {
		return domain.PostageRate{}, ErrRateNotFound
	}
	return r, nil
}

// UpsertRate inserts a rate or replaces the rate with the same name.
func (s *MemoryStorage) UpsertRate(ctx context.Context, rate domain.PostageRate) (domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return domain.PostageRate{}, err
	}
	rate, err := normalizeRate(rate)
	if err != nil {
		return domain.PostageRate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if existing, ok := s.rates[rate.Name]; ok {
		rate.ID = existing.ID
		rate.CreatedAt = existing.CreatedAt
	} else {
		s.rateID++
		rate.ID = s.rateID
		rate.CreatedAt = now
	}
	rate.UpdatedAt = now
	s.rates[rate.Name] = rate
	return rate, nil
}

func (s *MemoryStorage) DeleteRate(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rates[name]; !ok {
		return ErrRateNotFound
	}
	delete(s.rates, name)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStorage) Close() error {
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
