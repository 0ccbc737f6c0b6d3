package exact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTableName   = "exact_sync_state"
	postgresOperationTimeout = 5 * time.Second
)

func init() {
	RegisterDedupStateStoreFactory("postgres", func(dsn string) (DedupStateStore, error) {
		return NewPostgresDedupStateStore(dsn)
	})
	RegisterDedupStateStoreFactory("postgresql", func(dsn string) (DedupStateStore, error) {
		return NewPostgresDedupStateStore(dsn)
	})
}

// PostgresDedupStateStore keeps outcomes in a single table keyed by hash.
// The insert is ON CONFLICT DO NOTHING, so the first committed outcome
// for a hash is the terminal one even across concurrent runs.
type PostgresDedupStateStore struct {
	dsn       string
	tableName string

	initOnce gosync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresDedupStateStore(dsn string) (*PostgresDedupStateStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres state dsn is empty")
	}
	return &PostgresDedupStateStore{dsn: dsn, tableName: postgresStateTableName}, nil
}

func (s *PostgresDedupStateStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				hash TEXT PRIMARY KEY,
				outcome JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.tableName))
		if err != nil {
			s.initErr = err
			_ = db.Close()
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *PostgresDedupStateStore) Get(hash string) (Outcome, bool, error) {
	var outcome Outcome
	if err := s.ensureReady(); err != nil {
		return outcome, false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	var payload string
	query := fmt.Sprintf("SELECT outcome FROM %s WHERE hash = $1", s.tableName)
	err := s.db.QueryRowContext(ctx, query, hash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return outcome, false, nil
	}
	if err != nil {
		return outcome, false, err
	}
	if err := json.Unmarshal([]byte(payload), &outcome); err != nil {
		return outcome, false, err
	}
	return outcome, true, nil
}

func (s *PostgresDedupStateStore) Put(outcome Outcome) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (hash, outcome) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING", s.tableName)
	_, err = s.db.ExecContext(ctx, query, outcome.Hash, string(payload))
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresDedupStateStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
