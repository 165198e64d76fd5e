package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

type fakeDB struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSink_Upsert(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgresSink(db)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	alt := 90
	f := models.NormalizedForecast{
		Location: models.NewLocationKey(59.91, 10.75, &alt),
		Current:  models.Reading{Temperature: 11},
	}
	if err := s.Upsert(context.Background(), "user-1", f); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if len(db.sql) != 1 || !strings.Contains(db.sql[0], "ON CONFLICT (user_id)") {
		t.Fatalf("unexpected SQL: %v", db.sql)
	}
	args := db.args[0]
	if args[0] != "user-1" || args[1] != 59.91 || args[2] != 10.75 {
		t.Errorf("args = %v", args)
	}
	if a, ok := args[3].(*int32); !ok || a == nil || *a != 90 {
		t.Errorf("altitude arg = %v", args[3])
	}
	var decoded models.NormalizedForecast
	if err := json.Unmarshal(args[4].([]byte), &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.Current.Temperature != 11 {
		t.Errorf("payload temperature = %v", decoded.Current.Temperature)
	}
	if args[5] != now {
		t.Errorf("updated_at = %v, want %v", args[5], now)
	}
}

func TestPostgresSink_UpsertErrors(t *testing.T) {
	s := NewPostgresSink(&fakeDB{})
	if err := s.Upsert(context.Background(), "", models.NormalizedForecast{}); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("empty user: err = %v, want ErrEmptyUserID", err)
	}

	dbErr := errors.New("connection reset")
	s = NewPostgresSink(&fakeDB{err: dbErr})
	if err := s.Upsert(context.Background(), "u", models.NormalizedForecast{}); !errors.Is(err, dbErr) {
		t.Errorf("db failure: err = %v, want wrapped %v", err, dbErr)
	}
}

func TestPostgresSink_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewPostgresSink(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if !strings.Contains(db.sql[0], "CREATE TABLE IF NOT EXISTS forecast_snapshots") {
		t.Errorf("unexpected SQL: %s", db.sql[0])
	}
}
