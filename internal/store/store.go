package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCold is the default cold tier: one table of encoded symbols keyed
// by FQN.
type SQLiteCold struct {
	db *sql.DB
}

// NewSQLiteCold opens a SQLite database at dbPath with WAL mode enabled and
// creates the schema.
func NewSQLiteCold(dbPath string) (*SQLiteCold, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLiteCold{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteCold) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *SQLiteCold) DB() *sql.DB {
	return s.db
}

// Migrate creates the symbols table. Idempotent.
func (s *SQLiteCold) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cold_symbols (
  fqn      TEXT PRIMARY KEY,
  payload  BLOB NOT NULL
);
`

func (s *SQLiteCold) Put(key string, value []byte) error {
	_, err := s.db.Exec(upsertSQL, key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteCold) Get(key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM cold_symbols WHERE fqn = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return payload, true, nil
}

func (s *SQLiteCold) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM cold_symbols WHERE fqn = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteMany removes all keys in one statement per chunk.
func (s *SQLiteCold) DeleteMany(keys []string) error {
	for _, chunk := range chunkStrings(keys, maxSQLiteParams) {
		q := "DELETE FROM cold_symbols WHERE fqn IN (" + placeholderList(len(chunk)) + ")"
		if _, err := s.db.Exec(q, stringsToArgs(chunk)...); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
	}
	return nil
}

func (s *SQLiteCold) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cold_symbols").Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
