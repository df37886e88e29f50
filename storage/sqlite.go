package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	name       TEXT NOT NULL,
	content    BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (collection, name)
)`

// SQLStore keeps documents in a single SQLite table keyed by collection
// and name.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path and ensures the
// documents table exists. Use ":memory:" for a private in-memory database.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Load reads one document.
func (s *SQLStore) Load(ctx context.Context, collection, document string) ([]byte, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err := validateName("document", document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE collection = ? AND name = ?`,
		collection, document).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, document)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", collection, document, err)
	}
	return content, nil
}

// List returns the document names of a collection in sorted order. An
// unknown collection yields ErrNotFound.
func (s *SQLStore) List(ctx context.Context, collection string) ([]string, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM documents WHERE collection = ? ORDER BY name`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: collection %s", ErrNotFound, collection)
	}
	return names, nil
}

// Publish upserts documents in one transaction.
func (s *SQLStore) Publish(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO documents (collection, name, content) VALUES (?, ?, ?)
ON CONFLICT (collection, name) DO UPDATE SET
	content = excluded.content,
	updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if err := validateName("collection", doc.Collection); err != nil {
			return err
		}
		if err := validateName("document", doc.Name); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, doc.Collection, doc.Name, doc.Content); err != nil {
			return fmt.Errorf("put %s: %w", doc, err)
		}
	}
	return tx.Commit()
}
