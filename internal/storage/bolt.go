package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

const (
	bStamps = "stamps"
	bRates  = "rates"

	boltOpenTimeout = 2 * time.Second
)

// BoltStorage keeps the collection in a single BoltDB file.
// Stamps are keyed by their big-endian ID, rates by name.
type BoltStorage struct {
	db    *bolt.DB
	clock func() time.Time
}

type stampRecord struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	FaceValue decimal.Decimal `json:"face_value"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type rateRecord struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewBoltStorage opens (or creates) a BoltDB database at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if path == "" {
		return nil, errors.New("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bStamps, bRates} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStorage{
		db:    db,
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BoltStorage) ListStamps(ctx context.Context) ([]domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Stamp, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bStamps)).ForEach(func(_, raw []byte) error {
			st, err := decodeStamp(raw)
			if err != nil {
				return err
			}
			out = append(out, st)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortStamps(out)
	return out, nil
}

func (s *BoltStorage) GetStamp(ctx context.Context, id int64) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	var st domain.Stamp
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		st, err = loadStamp(tx.Bucket([]byte(bStamps)), id)
		return err
	})
	return st, err
}

func (s *BoltStorage) AddStamp(ctx context.Context, stamp domain.Stamp) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	stamp, err := normalizeStamp(stamp)
	if err != nil {
		return domain.Stamp{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bStamps))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.clock()
		stamp.ID = int64(seq)
		stamp.CreatedAt = now
		stamp.UpdatedAt = now
		return putStamp(b, stamp)
	})
	if err != nil {
		return domain.Stamp{}, fmt.Errorf("failed to insert stamp: %w", err)
	}
	return stamp, nil
}

func (s *BoltStorage) UpdateStampQuantity(ctx context.Context, id int64, quantity int) (domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stamp{}, err
	}
	if err := domain.ValidateQuantity(quantity); err != nil {
		return domain.Stamp{}, err
	}

	var st domain.Stamp
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bStamps))
		var err error
		if st, err = loadStamp(b, id); err != nil {
			return err
		}
		st.Quantity = quantity
		st.UpdatedAt = s.clock()
		return putStamp(b, st)
	})
	return st, err
}

func (s *BoltStorage) DeleteStamp(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bStamps))
		if b.Get(idKey(id)) == nil {
			return ErrStampNotFound
		}
		return b.Delete(idKey(id))
	})
}

// ClearStamps drops every stamp. The ID sequence keeps counting so IDs are never reused.
func (s *BoltStorage) ClearStamps(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bStamps))
		seq := b.Sequence()
		removed = b.Stats().KeyN
		if err := tx.DeleteBucket([]byte(bStamps)); err != nil {
			return err
		}
		nb, err := tx.CreateBucket([]byte(bStamps))
		if err != nil {
			return err
		}
		return nb.SetSequence(seq)
	})
	return removed, err
}

func (s *BoltStorage) ConsumeStamps(ctx context.Context, usage map[int64]int) ([]domain.Stamp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	usage, err := normalizeUsage(usage)
	if err != nil {
		return nil, err
	}

	ids := sortedIDs(usage)
	out := make([]domain.Stamp, 0, len(ids))
	// Returning an error from Update rolls back every write made inside it.
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bStamps))
		now := s.clock()
		for _, id := range ids {
			st, err := loadStamp(b, id)
			if err != nil {
				if errors.Is(err, ErrStampNotFound) {
					return fmt.Errorf("%w: %d", ErrStampNotFound, id)
				}
				return err
			}
			if st.Quantity < usage[id] {
				return insufficient(st, usage[id])
			}
			st.Quantity -= usage[id]
			st.UpdatedAt = now
			if err := putStamp(b, st); err != nil {
				return err
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStorage) ListRates(ctx context.Context) ([]domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.PostageRate, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bRates)).ForEach(func(_, raw []byte) error {
			r, err := decodeRate(raw)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRates(out)
	return out, nil
}

func (s *BoltStorage) GetRate(ctx context.Context, name string) (domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return domain.PostageRate{}, err
	}
	var r domain.PostageRate
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bRates)).Get([]byte(name))
		if raw == nil {
			return ErrRateNotFound
		}
		var err error
		r, err = decodeRate(raw)
		return err
	})
	return r, err
}

func (s *BoltStorage) UpsertRate(ctx context.Context, rate domain.PostageRate) (domain.PostageRate, error) {
	if err := ctx.Err(); err != nil {
		return domain.PostageRate{}, err
	}
	rate, err := normalizeRate(rate)
	if err != nil {
		return domain.PostageRate{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bRates))
		now := s.clock()
		if raw := b.Get([]byte(rate.Name)); raw != nil {
			existing, err := decodeRate(raw)
			if err != nil {
				return err
			}
			rate.ID = existing.ID
			rate.CreatedAt = existing.CreatedAt
		} else {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			rate.ID = int64(seq)
			rate.CreatedAt = now
		}
		rate.UpdatedAt = now

		val, err := json.Marshal(rateRecord{
			ID:        rate.ID,
			Name:      rate.Name,
			Rate:      rate.Rate,
			CreatedAt: rate.CreatedAt,
			UpdatedAt: rate.UpdatedAt,
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(rate.Name), val)
	})
	if err != nil {
		return domain.PostageRate{}, fmt.Errorf("failed to upsert postage rate %q: %w", rate.Name, err)
	}
	return rate, nil
}

func (s *BoltStorage) DeleteRate(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bRates))
		if b.Get([]byte(name)) == nil {
			return ErrRateNotFound
		}
		return b.Delete([]byte(name))
	})
}

func (s *BoltStorage) Close() error { return s.db.Close() }

func idKey(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func loadStamp(b *bolt.Bucket, id int64) (domain.Stamp, error) {
	raw := b.Get(idKey(id))
	if raw == nil {
		return domain.Stamp{}, ErrStampNotFound
	}
	return decodeStamp(raw)
}

func putStamp(b *bolt.Bucket, st domain.Stamp) error {
	val, err := json.Marshal(stampRecord{
		ID:        st.ID,
		Name:      st.Name,
		FaceValue: st.FaceValue,
		Currency:  st.CurrencyCode(),
		Quantity:  st.Quantity,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return b.Put(idKey(st.ID), val)
}

func decodeStamp(raw []byte) (domain.Stamp, error) {
	var rec stampRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Stamp{}, fmt.Errorf("corrupt stamp record: %w", err)
	}
	c, err := currency.Parse(rec.Currency)
	if err != nil {
		return domain.Stamp{}, fmt.Errorf("stamp %d: %w", rec.ID, err)
	}
	return domain.Stamp{
		ID:        rec.ID,
		Name:      rec.Name,
		FaceValue: rec.FaceValue,
		Currency:  c,
		Quantity:  rec.Quantity,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func decodeRate(raw []byte) (domain.PostageRate, error) {
	var rec rateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.PostageRate{}, fmt.Errorf("corrupt postage rate record: %w", err)
	}
	return domain.PostageRate{
		ID:        rec.ID,
		Name:      rec.Name,
		Rate:      rec.Rate,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

var _ Storage = (*BoltStorage)(nil)
