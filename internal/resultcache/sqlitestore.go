package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// SQLiteStore persists Cache[string, models.InvocationResult] entries in a
// sqlite table, the opt-in backend selected by supervisor.storage=sqlite so
// cache contents survive a restart instead of the default in-memory-only
// behavior.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the cache table in db if it does not already
// exist. The caller owns db's lifecycle (open and close it).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create cache_entries table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LoadAll reads every persisted entry, including already-expired ones;
// Cache.WithStore is responsible for discarding anything past its TTL.
func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]StoreRecord[models.InvocationResult], error) {
	out := make(map[string]StoreRecord[models.InvocationResult])
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, expires_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("query cache_entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		var expiresUnix int64
		if err := rows.Scan(&key, &value, &expiresUnix); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		var result models.InvocationResult
		if err := json.Unmarshal([]byte(value), &result); err != nil {
			return nil, fmt.Errorf("decode cache row %q: %w", key, err)
		}
		out[key] = StoreRecord[models.InvocationResult]{Value: result, ExpiresAt: time.Unix(expiresUnix, 0)}
	}
	return out, rows.Err()
}

// Save upserts one entry.
func (s *SQLiteStore) Save(ctx context.Context, key string, value models.InvocationResult, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(data), expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert cache row %q: %w", key, err)
	}
	return nil
}

// Delete removes one entry, if present.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache row %q: %w", key, err)
	}
	return nil
}
