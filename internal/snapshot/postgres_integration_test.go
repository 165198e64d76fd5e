//go:build integration
// +build integration

package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// TestPostgresSink_Integration needs SNAPSHOT_TEST_DSN pointing at a scratch database.
func TestPostgresSink_Integration(t *testing.T) {
	dsn := os.Getenv("SNAPSHOT_TEST_DSN")
	if dsn == "" {
		t.Skip("SNAPSHOT_TEST_DSN not set, skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	sink := NewPostgresSink(pool)
	require.NoError(t, sink.EnsureSchema(ctx))
	require.NoError(t, sink.EnsureSchema(ctx), "schema creation is idempotent")

	userID := "integration-" + time.Now().Format("20060102150405.000000")
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM forecast_snapshots WHERE user_id = $1", userID)
	})

	alt := 90
	first := models.NormalizedForecast{Location: models.NewLocationKey(59.91, 10.75, &alt), Current: models.Reading{Temperature: 3}}
	second := models.NormalizedForecast{Location: models.NewLocationKey(60.39, 5.32, nil), Current: models.Reading{Temperature: 9}}
	require.NoError(t, sink.Upsert(ctx, userID, first))
	require.NoError(t, sink.Upsert(ctx, userID, second))

	var (
		rows     int
		lat      float64
		altitude *int32
		payload  []byte
	)
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) OVER (), lat, altitude, payload FROM forecast_snapshots WHERE user_id = $1", userID,
	).Scan(&rows, &lat, &altitude, &payload))

	assert.Equal(t, 1, rows, "one row per user")
	assert.Equal(t, 60.39, lat)
	assert.Nil(t, altitude)
	var stored models.NormalizedForecast
	require.NoError(t, json.Unmarshal(payload, &stored))
	assert.Equal(t, 9.0, stored.Current.Temperature)
}
