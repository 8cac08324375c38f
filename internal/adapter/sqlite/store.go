// Package sqlite keeps forecast rows in a local SQLite file, for development
// and for deployments without a Supabase project.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const upsertQuery = `
	INSERT INTO forecasts (spot_id, run_time, valid_time, src_raw, features, predicted_quality, predicted_stoke, text_summary)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(spot_id, valid_time) DO UPDATE SET
		run_time = excluded.run_time,
		src_raw = excluded.src_raw,
		features = excluded.features,
		predicted_quality = excluded.predicted_quality,
		predicted_stoke = excluded.predicted_stoke,
		text_summary = excluded.text_summary
`

// Store upserts forecast rows keyed by (spot_id, valid_time).
type Store struct {
	db      *sql.DB
	version uint
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and applies pending migrations.
func Open(path string, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	version, err := migrateUp(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("sqlite schema ready", "path", path, "version", version)
	return &Store{db: db, version: version, metrics: metrics, logger: logger}, nil
}

// migrateUp applies the embedded migrations and returns the resulting schema version.
func migrateUp(db *sql.DB) (uint, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would also close db, which the store keeps using.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// Upsert writes every row in one transaction and returns the number written.
func (s *Store) Upsert(ctx context.Context, rows []domain.ForecastRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	n, err := s.upsert(ctx, rows)
	s.metrics.SinkRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.SinkErrors.WithLabelValues("permanent").Inc()
		s.logger.Error("sqlite upsert failed", "rows", len(rows), "error", err)
		return 0, fmt.Errorf("%w: %w", domain.ErrSink, err)
	}
	return n, nil
}

func (s *Store) upsert(ctx context.Context, rows []domain.ForecastRow) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		srcRaw, err := json.Marshal(r.SrcRaw)
		if err != nil {
			return 0, fmt.Errorf("encode src_raw: %w", err)
		}
		features, err := json.Marshal(r.Features)
		if err != nil {
			return 0, fmt.Errorf("encode features: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.SpotID,
			formatTime(r.RunTime),
			formatTime(r.ValidTime),
			string(srcRaw),
			string(features),
			r.PredictedQuality,
			r.PredictedStoke,
			r.TextSummary,
		); err != nil {
			return 0, fmt.Errorf("upsert %s at %s: %w", r.SpotID, formatTime(r.ValidTime), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(rows), nil
}

// List returns the stored rows for a spot ordered by valid time.
func (s *Store) List(ctx context.Context, spotID string) ([]domain.ForecastRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spot_id, run_time, valid_time, src_raw, features, predicted_quality, predicted_stoke, text_summary
		FROM forecasts WHERE spot_id = ? ORDER BY valid_time`, spotID)
	if err != nil {
		return nil, fmt.Errorf("querying forecasts: %w", err)
	}
	defer rows.Close()

	var out []domain.ForecastRow
	for rows.Next() {
		var (
			r                  domain.ForecastRow
			runTime, validTime string
			srcRaw, features   string
		)
		if err := rows.Scan(&r.SpotID, &runTime, &validTime, &srcRaw, &features,
			&r.PredictedQuality, &r.PredictedStoke, &r.TextSummary); err != nil {
			return nil, fmt.Errorf("scanning forecast: %w", err)
		}
		if r.RunTime, err = time.Parse(time.RFC3339Nano, runTime); err != nil {
			return nil, fmt.Errorf("parse run_time: %w", err)
		}
		if r.ValidTime, err = time.Parse(time.RFC3339Nano, validTime); err != nil {
			return nil, fmt.Errorf("parse valid_time: %w", err)
		}
		if err := json.Unmarshal([]byte(srcRaw), &r.SrcRaw); err != nil {
			return nil, fmt.Errorf("decode src_raw: %w", err)
		}
		if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
