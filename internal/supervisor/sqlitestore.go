package supervisor

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// SQLiteManifestStore persists the provider manifest in a sqlite table
// instead of the default YAML file, selected by supervisor.storage=sqlite.
// Each row holds one provider's JSON-encoded PersistedProvider; Save
// replaces the whole table inside a transaction so a reader never observes
// a half-written manifest, the same atomicity guarantee the file store gets
// from stage-to-temp-then-rename.
type SQLiteManifestStore struct {
	db *sql.DB
}

// NewSQLiteManifestStore creates the manifest table in db if it does not
// already exist. The caller owns db's lifecycle (open and close it).
func NewSQLiteManifestStore(db *sql.DB) (*SQLiteManifestStore, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS manifest_providers (
		registry_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create manifest_providers table: %w", err)
	}
	return &SQLiteManifestStore{db: db}, nil
}

// Load reads every persisted provider. An empty table is not an error: it
// simply means no providers have been persisted yet.
func (s *SQLiteManifestStore) Load() (models.Manifest, error) {
	manifest := models.Manifest{Providers: map[string]models.PersistedProvider{}}
	rows, err := s.db.Query(`SELECT registry_id, data FROM manifest_providers`)
	if err != nil {
		return manifest, fmt.Errorf("query manifest_providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return manifest, fmt.Errorf("scan manifest row: %w", err)
		}
		var p models.PersistedProvider
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return manifest, fmt.Errorf("decode manifest row %q: %w", id, err)
		}
		manifest.Providers[id] = p
	}
	return manifest, rows.Err()
}

// Save replaces the table's entire contents with manifest.Providers.
func (s *SQLiteManifestStore) Save(manifest models.Manifest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin manifest tx: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM manifest_providers`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear manifest_providers: %w", err)
	}
	for id, p := range manifest.Providers {
		data, err := json.Marshal(p)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode manifest row %q: %w", id, err)
		}
		if _, err := tx.Exec(`INSERT INTO manifest_providers (registry_id, data) VALUES (?, ?)`, id, string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert manifest row %q: %w", id, err)
		}
	}
	return tx.Commit()
}
