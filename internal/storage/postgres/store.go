// internal/storage/postgres/store.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/pkg/backoff"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

var tracer = otel.Tracer("relay/storage/postgres")

const (
	insertPrice = `INSERT INTO crypto_prices (symbol, price)
VALUES ($1, $2::numeric)
RETURNING id, "timestamp"`

	listPrices = `SELECT id, symbol, price::text, "timestamp"
FROM crypto_prices
ORDER BY "timestamp" DESC, id DESC
LIMIT $1`

	getPrice = `SELECT id, symbol, price::text, "timestamp"
FROM crypto_prices
WHERE id = $1`

	latestPrices = `SELECT DISTINCT ON (symbol) id, symbol, price::text, "timestamp"
FROM crypto_prices
ORDER BY symbol, id DESC`
)

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Store persists ticks in the crypto_prices table.
type Store struct {
	db    querier
	close func()
	log   *logger.Logger
}

// New connects the pool (retrying with back-off) and, if configured,
// applies migrations first.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("postgres")

	if cfg.AutoMigrate {
		if err := Migrate(ctx, cfg.DSN, log); err != nil {
			return nil, err
		}
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	var pool *pgxpool.Pool
	connect := func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}
	if err := backoff.Execute(ctx, "postgres_connect", cfg.Connect, log, connect); err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	log.Info("postgres: connected", zap.String("host", pgxCfg.ConnConfig.Host))

	return &Store{db: pool, close: pool.Close, log: log}, nil
}

func (s *Store) Name() string { return "postgres" }

// Record inserts one row; id and timestamp come from the database.
func (s *Store) Record(ctx context.Context, symbol domain.Symbol, price decimal.Decimal) (storage.PriceRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Record",
		trace.WithAttributes(attribute.String("symbol", symbol.String())))
	defer span.End()

	rec := storage.PriceRecord{Symbol: symbol.String(), Price: price}
	if err := s.db.QueryRow(ctx, insertPrice, symbol.String(), price.String()).Scan(&rec.ID, &rec.Timestamp); err != nil {
		span.RecordError(err)
		return storage.PriceRecord{}, fmt.Errorf("postgres insert: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

// List returns up to limit rows, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]storage.PriceRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.List")
	defer span.End()

	rows, err := s.db.Query(ctx, listPrices, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	defer rows.Close()

	out := make([]storage.PriceRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	return out, nil
}

// Get returns a single row or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (storage.PriceRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Get")
	defer span.End()

	rec, err := scanRecord(s.db.QueryRow(ctx, getPrice, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.PriceRecord{}, storage.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return storage.PriceRecord{}, fmt.Errorf("postgres get: %w", err)
	}
	return rec, nil
}

// Latest returns the newest row of every symbol.
func (s *Store) Latest(ctx context.Context) (map[string]storage.PriceRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Latest")
	defer span.End()

	rows, err := s.db.Query(ctx, latestPrices)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("postgres latest: %w", err)
	}
	defer rows.Close()

	out := make(map[string]storage.PriceRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres latest: %w", err)
		}
		out[rec.Symbol] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres latest: %w", err)
	}
	return out, nil
}

// Ping checks connectivity for /readyz.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

func scanRecord(row pgx.Row) (storage.PriceRecord, error) {
	var (
		rec   storage.PriceRecord
		price string
		ts    time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Symbol, &price, &ts); err != nil {
		return storage.PriceRecord{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return storage.PriceRecord{}, fmt.Errorf("price %q: %w", price, err)
	}
	rec.Price = p
	rec.Timestamp = ts.UTC()
	return rec, nil
}
