package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a single SQLite database. Records of
// all collections live in one table keyed by (collection, key); insertion
// order is the rowid order, which upserts preserve.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a SQLite-backed store. Use ":memory:" as
// the DSN for an ephemeral database in tests.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// The database/sql pool would hand ":memory:" connections separate
	// databases; a single connection keeps one coherent view.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenSQLite",
		"dsn":      dsn,
	}).Debug("SQLite store opened")

	return &SQLite{db: db}, nil
}

// migrate creates the records table. Idempotent.
func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (collection, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate records table: %w", err)
		}
	}
	return nil
}

// Put implements Store.Put. The upsert keeps the original rowid, so a
// replaced record does not move within the collection order.
func (s *SQLite) Put(collection, key string, value []byte) error {
	query := `
		INSERT INTO records (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, collection, key, value); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *SQLite) Get(collection, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(
		`SELECT value FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return value, nil
}

// List implements Store.List.
func (s *SQLite) List(collection string) ([][]byte, error) {
	rows, err := s.db.Query(
		`SELECT value FROM records WHERE collection = ? ORDER BY rowid`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Delete implements Store.Delete.
func (s *SQLite) Delete(collection, key string) error {
	if _, err := s.db.Exec(
		`DELETE FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Wipe implements Store.Wipe.
func (s *SQLite) Wipe() error {
	if _, err := s.db.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("wipe records: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Wipe",
	}).Info("All stored records erased")
	return nil
}

// Close implements Store.Close.
func (s *SQLite) Close() error {
	return s.db.Close()
}
