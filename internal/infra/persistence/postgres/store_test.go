package postgres_test

import (
	"database/sql"
	"errors"
	"testing"

	"pondcore/internal/infra/persistence/postgres"
)

func TestNewStorePropagatesOpenFailure(t *testing.T) {
	boom := errors.New("dial refused")
	restore := postgres.OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("expected pgx driver, got %q", driverName)
		}
		return nil, boom
	})
	defer restore()

	if _, err := postgres.NewStore("postgres://example/pondcore", nil); !errors.Is(err, boom) {
		t.Fatalf("expected open failure surfaced, got %v", err)
	}
}

func TestNewStoreAppliesDefaultDSN(t *testing.T) {
	var captured string
	restore := postgres.OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		captured = dsn
		return nil, errors.New("stop before ping")
	})
	defer restore()

	_, _ = postgres.NewStore("", nil)
	if captured != "postgres://localhost/pondcore?sslmode=disable" {
		t.Fatalf("expected default DSN, got %q", captured)
	}
}

func TestOverrideSQLOpenRestores(t *testing.T) {
	called := false
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		called = true
		return nil, errors.New("stub")
	})
	_, _ = postgres.NewStore("dsn", nil)
	if !called {
		t.Fatalf("expected override invoked")
	}
	restore()
	// After restore, opening succeeds lazily and fails at ping against an
	// unreachable host rather than through the stub.
	if _, err := postgres.NewStore("postgres://127.0.0.1:1/pondcore?connect_timeout=1", nil); err == nil {
		t.Fatalf("expected ping failure against unreachable host")
	}
}
