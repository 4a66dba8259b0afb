package hostfunc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists KV entries in a SQLite database, so script state
// outlives the host process.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	keysStmt   *sql.Stmt
	countStmt  *sql.Stmt
}

// SQLiteStoreConfig configures a SQLiteStore.
type SQLiteStoreConfig struct {
	// Path is the database file. Created if missing.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore opens (or creates) the database at path with default settings.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{Path: path})
}

func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: cfg.Path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	if s.getStmt, err = s.db.Prepare(`SELECT value FROM kv_entries WHERE key = ?`); err != nil {
		return err
	}
	if s.setStmt, err = s.db.Prepare(`
		INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`); err != nil {
		return err
	}
	if s.deleteStmt, err = s.db.Prepare(`DELETE FROM kv_entries WHERE key = ?`); err != nil {
		return err
	}
	if s.keysStmt, err = s.db.Prepare(`SELECT key FROM kv_entries ORDER BY key`); err != nil {
		return err
	}
	s.countStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM kv_entries`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.setStmt.ExecContext(ctx, key, string(value), time.Now().Unix())
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.deleteStmt.ExecContext(ctx, key)
	return err
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.keysStmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.countStmt.QueryRowContext(ctx).Scan(&n)
	return n, err
}

// Close releases the prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.getStmt, s.setStmt, s.deleteStmt, s.keysStmt, s.countStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
