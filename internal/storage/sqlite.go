package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryDSN opens a private in-memory SQLite database.
const MemoryDSN = ":memory:"

// SQLiteStorage persists the collection in a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies pending migrations.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("empty database path")
	}
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" would get its own database; a single
	// connection also serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations applies the embedded schema migrations.
func (s *SQLiteStorage) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	// The migrate instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

const stampColumns = `id, name, face_value, currency, quantity, created_at, updated_at`

func (s *SQLiteStorage) ListStamps(ctx context.Context) ([]domain.Stamp, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stampColumns+` FROM stamp_collection ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stamps: %w", err)
	}
	defer rows.Close()

	stamps := make([]domain.Stamp, 0)
	for rows.Next() {
		st, err := scanStamp(rows)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stamps: %w", err)
	}
	return stamps, nil
}

func (s *SQLiteStorage) GetStamp(ctx context.Context, id int64) (domain.Stamp, error) {
	return getStamp(ctx, s.db, id)
}

func (s *SQLiteStorage) AddStamp(ctx context.Context, stamp domain.Stamp) (domain.Stamp, error) {
	stamp, err := normalizeStamp(stamp)
	if err != nil {
		return domain.Stamp{}, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stamp_collection (name, face_value, currency, quantity) VALUES (?, ?, ?, ?)`,
		stamp.Name, stamp.FaceValue.String(), stamp.CurrencyCode(), stamp.Quantity,
	)
	if err != nil {
		return domain.Stamp{}, fmt.Errorf("failed to insert stamp: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Stamp{}, fmt.Errorf("failed to read stamp id: %w", err)
	}
	return getStamp(ctx, s.db, id)
}

func (s *SQLiteStorage) UpdateStampQuantity(ctx context.Context, id int64, quantity int) (domain.Stamp, error) {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return domain.Stamp{}, err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE stamp_collection SET quantity = ? WHERE id = ?`, quantity, id)
	if err != nil {
		return domain.Stamp{}, fmt.Errorf("failed to update stamp %d: %w", id, err)
	}
	if err := requireAffected(res, ErrStampNotFound); err != nil {
		return domain.Stamp{}, err
	}
	return getStamp(ctx, s.db, id)
}

func (s *SQLiteStorage) DeleteStamp(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stamp_collection WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stamp %d: %w", id, err)
	}
	return requireAffected(res, ErrStampNotFound)
}

func (s *SQLiteStorage) ClearStamps(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stamp_collection`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stamps: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared stamps: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStorage) ConsumeStamps(ctx context.Context, usage map[int64]int) ([]domain.Stamp, error) {
	usage, err := normalizeUsage(usage)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := sortedIDs(usage)
	for _, id := range ids {
		st, err := getStamp(ctx, tx, id)
		if err != nil {
			if errors.Is(err, ErrStampNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrStampNotFound, id)
			}
			return nil, err
		}
		if st.Quantity < usage[id] {
			return nil, insufficient(st, usage[id])
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stamp_collection SET quantity = quantity - ? WHERE id = ?`, usage[id], id,
		); err != nil {
			return nil, fmt.Errorf("failed to consume stamp %d: %w", id, err)
		}
	}

	out := make([]domain.Stamp, 0, len(ids))
	for _, id := range ids {
		st, err := getStamp(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consumption: %w", err)
	}
	return out, nil
}

const rateColumns = `id, name, rate, created_at, updated_at`

func (s *SQLiteStorage) ListRates(ctx context.Context) ([]domain.PostageRate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rateColumns+` FROM postage_rates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query postage rates: %w", err)
	}
	defer rows.Close()

	rates := make([]domain.PostageRate, 0)
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating postage rates: %w", err)
	}
	return rates, nil
}

func (s *SQLiteStorage) GetRate(ctx context.Context, name string) (domain.PostageRate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rateColumns+` FROM postage_rates WHERE name = ?`, name)
	r, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PostageRate{}, ErrRateNotFound
	}
	return r, err
}

// UpsertRate inserts a rate or replaces the value of the rate with the same name.
// The row keeps its ID and creation time on replace.
func (s *SQLiteStorage) UpsertRate(ctx context.Context, rate domain.PostageRate) (domain.PostageRate, error) {
	rate, err := normalizeRate(rate)
	if err != nil {
		return domain.PostageRate{}, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO postage_rates (name, rate) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET rate = excluded.rate`,
		rate.Name, rate.Rate.String(),
	); err != nil {
		return domain.PostageRate{}, fmt.Errorf("failed to upsert postage rate %q: %w", rate.Name, err)
	}
	return s.GetRate(ctx, rate.Name)
}

func (s *SQLiteStorage) DeleteRate(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM postage_rates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete postage rate %q: %w", name, err)
	}
	return requireAffected(res, ErrRateNotFound)
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getStamp(ctx context.Context, q queryer, id int64) (domain.Stamp, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stampColumns+` FROM stamp_collection WHERE id = ?`, id)
	st, err := scanStamp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stamp{}, ErrStampNotFound
	}
	return st, err
}

func scanStamp(row scanner) (domain.Stamp, error) {
	var (
		st                   domain.Stamp
		face, code           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&st.ID, &st.Name, &face, &code, &st.Quantity, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stamp{}, err
		}
		return domain.Stamp{}, fmt.Errorf("failed to scan stamp: %w", err)
	}

	var err error
	if st.FaceValue, err = decimal.NewFromString(face); err != nil {
		return domain.Stamp{}, fmt.Errorf("stamp %d has corrupt face value %q: %w", st.ID, face, err)
	}
	if st.Currency, err = currency.Parse(code); err != nil {
		return domain.Stamp{}, fmt.Errorf("stamp %d: %w", st.ID, err)
	}
	if st.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return domain.Stamp{}, err
	}
	if st.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return domain.Stamp{}, err
	}
	return st, nil
}

func scanRate(row scanner) (domain.PostageRate, error) {
	var (
		r                    domain.PostageRate
		value                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &value, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PostageRate{}, err
		}
		return domain.PostageRate{}, fmt.Errorf("failed to scan postage rate: %w", err)
	}

	var err error
	if r.Rate, err = decimal.NewFromString(value); err != nil {
		return domain.PostageRate{}, fmt.Errorf("postage rate %q has corrupt value %q: %w", r.Name, value, err)
	}
	if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return domain.PostageRate{}, err
	}
	if r.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return domain.PostageRate{}, err
	}
	return r, nil
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ Storage = (*SQLiteStorage)(nil)
