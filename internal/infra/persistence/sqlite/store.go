// Package sqlite provides a SQLite-backed persistent store that reuses the
// in-memory transactional semantics and snapshots the full state after every
// successful commit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pondcore/internal/infra/persistence/memory"
	"pondcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "pondcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"ponds", "cohorts", "plans", "sessions", "harvests", "snapshots", "audits"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		loaded = true
		switch bucket {
		case "ponds":
			if err := json.Unmarshal(payload, &snapshot.Ponds); err != nil {
				return fmt.Errorf("decode ponds: %w", err)
			}
		case "cohorts":
			if err := json.Unmarshal(payload, &snapshot.Cohorts); err != nil {
				return fmt.Errorf("decode cohorts: %w", err)
			}
		case "plans":
			if err := json.Unmarshal(payload, &snapshot.Plans); err != nil {
				return fmt.Errorf("decode plans: %w", err)
			}
		case "sessions":
			if err := json.Unmarshal(payload, &snapshot.Sessions); err != nil {
				return fmt.Errorf("decode sessions: %w", err)
			}
		case "harvests":
			if err := json.Unmarshal(payload, &snapshot.Harvests); err != nil {
				return fmt.Errorf("decode harvests: %w", err)
			}
		case "snapshots":
			if err := json.Unmarshal(payload, &snapshot.Snapshots); err != nil {
				return fmt.Errorf("decode snapshots: %w", err)
			}
		case "audits":
			if err := json.Unmarshal(payload, &snapshot.Audits); err != nil {
				return fmt.Errorf("decode audits: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "ponds":
			data, err = json.Marshal(snapshot.Ponds)
		case "cohorts":
			data, err = json.Marshal(snapshot.Cohorts)
		case "plans":
			data, err = json.Marshal(snapshot.Plans)
		case "sessions":
			data, err = json.Marshal(snapshot.Sessions)
		case "harvests":
			data, err = json.Marshal(snapshot.Harvests)
		case "snapshots":
			data, err = json.Marshal(snapshot.Snapshots)
		case "audits":
			data, err = json.Marshal(snapshot.Audits)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
