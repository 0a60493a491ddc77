package store

import (
	"fmt"
	"sort"
)

const upsertSQL = `INSERT INTO cold_symbols (fqn, payload) VALUES (?, ?)
ON CONFLICT(fqn) DO UPDATE SET payload = excluded.payload`

// PutMany inserts all entries within a single transaction. Keys are written
// in sorted order so repeated commits of the same batch touch pages in the
// same sequence.
func (s *SQLiteCold) PutMany(entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		return fmt.Errorf("commit batch: prepare: %w", err)
	}
	defer stmt.Close()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := stmt.Exec(k, entries[k]); err != nil {
			return fmt.Errorf("commit batch: symbol %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
