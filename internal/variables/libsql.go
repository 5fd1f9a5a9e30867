package variables

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/renvik/presend/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

// LibSQLStore persists variables and encrypted secrets in an embedded
// libSQL database. Single-writer: MaxOpenConns is pinned to 1.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path. The path
// should be a file URI, e.g. "file:/path/to/presend.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate applies the schema.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current >= 1 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range splitStatements(migration001) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration 1 (initial_schema): %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (1, 'initial_schema')`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// splitStatements splits a SQL script on semicolons, skipping comments.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		hasCode := false
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func (s *LibSQLStore) Get(ctx context.Context, name string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM variables WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"get variable %q: %s", name, err.Error()).WithCause(err)
	}
	return decodeValue(name, raw)
}

func (s *LibSQLStore) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"marshal variable %q: %s", name, err.Error()).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO variables (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		name, string(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"set variable %q: %s", name, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM variables WHERE name = ?`, name)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"delete variable %q: %s", name, err.Error()).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	return nil
}

func (s *LibSQLStore) All(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM variables`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"list variables: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"scan variable row: %s", err.Error()).WithCause(err)
		}
		val, err := decodeValue(name, raw)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"iterate variables: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

func (s *LibSQLStore) Close() error { return s.db.Close() }

// --- secret persistence (secrets.SecretStore) ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"store secret %q: %s", key, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"get secret %q: %s", key, err.Error()).WithCause(err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"delete secret %q: %s", key, err.Error()).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return nil
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"list secrets: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"scan secret row: %s", err.Error()).WithCause(err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

var _ Store = (*LibSQLStore)(nil)
