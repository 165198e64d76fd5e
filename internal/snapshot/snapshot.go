// Package snapshot persists each user's last-known forecast so other
// components (notifications, offline views) can read it without refetching.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Sink receives last-known forecast snapshots.
type Sink interface {
	Upsert(ctx context.Context, userID string, f models.NormalizedForecast) error
}

// NopSink discards snapshots. Used when no database is configured.
type NopSink struct{}

func (NopSink) Upsert(context.Context, string, models.NormalizedForecast) error { return nil }

// DBTX is the subset of *pgxpool.Pool used here.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ErrEmptyUserID is returned for snapshots without an owner.
var ErrEmptyUserID = errors.New("snapshot: empty user id")

const createTableSQL = `
CREATE TABLE IF NOT EXISTS forecast_snapshots (
	user_id    TEXT PRIMARY KEY,
	lat        DOUBLE PRECISION NOT NULL,
	lon        DOUBLE PRECISION NOT NULL,
	altitude   INTEGER,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertSQL = `
INSERT INTO forecast_snapshots (user_id, lat, lon, altitude, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	altitude = EXCLUDED.altitude,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

// PostgresSink stores one row per user in forecast_snapshots.
type PostgresSink struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresSink wraps a pool (or any DBTX).
func NewPostgresSink(db DBTX) *PostgresSink {
	return &PostgresSink{db: db, now: time.Now}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create forecast_snapshots: %w", err)
	}
	return nil
}

// Upsert replaces the user's snapshot.
func (s *PostgresSink) Upsert(ctx context.Context, userID string, f models.NormalizedForecast) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var alt *int32
	if f.Location.Altitude != nil {
		v := int32(*f.Location.Altitude)
		alt = &v
	}
	if _, err := s.db.Exec(ctx, upsertSQL,
		userID, f.Location.Lat, f.Location.Lon, alt, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert snapshot for %s: %w", userID, err)
	}
	return nil
}
