package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeriesPoint is one daily KPI observation.
type SeriesPoint struct {
	ClientID   string
	KPI        string
	SampleDate time.Time
	Value      float64
}

// SeriesReader is the window-read surface consumed by trend and forecast
// queries. Tests satisfy it with an in-memory fake.
type SeriesReader interface {
	Window(ctx context.Context, clientID, kpi string, from, to time.Time) ([]SeriesPoint, error)
}

// SeriesStore persists daily KPI samples through pgx, bypassing the ORM.
// The analytics fan-out handler appends to it on every relevant event; the
// trend and forecasting reads pull windows back out. Appends are idempotent
// per (client, kpi, date): replays overwrite with the latest value.
type SeriesStore struct {
	pool *pgxpool.Pool
}

// NewSeriesStore connects a pgx pool to the event-store database.
func NewSeriesStore(ctx context.Context, connString string) (*SeriesStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create series pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping series store: %w", err)
	}
	s := &SeriesStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *SeriesStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kpi_daily_samples (
			client_id   TEXT NOT NULL,
			kpi         TEXT NOT NULL,
			sample_date DATE NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (client_id, kpi, sample_date)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure series schema: %w", err)
	}
	return nil
}

// Append upserts one daily sample.
func (s *SeriesStore) Append(ctx context.Context, p SeriesPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kpi_daily_samples (client_id, kpi, sample_date, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, kpi, sample_date)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		p.ClientID, p.KPI, p.SampleDate, p.Value)
	return err
}

// AppendBatch upserts a batch of samples in one round trip.
func (s *SeriesStore) AppendBatch(ctx context.Context, points []SeriesPoint) error {
	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO kpi_daily_samples (client_id, kpi, sample_date, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, kpi, sample_date)
			DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			p.ClientID, p.KPI, p.SampleDate, p.Value)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Window reads samples for one client and KPI in [from, to), oldest first.
func (s *SeriesStore) Window(ctx context.Context, clientID, kpi string, from, to time.Time) ([]SeriesPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT client_id, kpi, sample_date, value
		FROM kpi_daily_samples
		WHERE client_id = $1 AND kpi = $2 AND sample_date >= $3 AND sample_date < $4
		ORDER BY sample_date ASC`,
		clientID, kpi, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.ClientID, &p.KPI, &p.SampleDate, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *SeriesStore) Close() { s.pool.Close() }
