package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// ManifestStore persists and loads the supervisor's provider manifest. The
// default is fileManifestStore (YAML on disk); SQLiteManifestStore is the
// opt-in alternative selected by supervisor.storage=sqlite.
type ManifestStore interface {
	Load() (models.Manifest, error)
	Save(models.Manifest) error
}

// fileManifestStore adapts the package-level loadManifest/saveManifest
// functions to ManifestStore.
type fileManifestStore struct {
	path string
}

// NewFileManifestStore is the default ManifestStore: one YAML file, written
// atomically via stage-to-temp-then-rename. An empty path makes every Load
// return an empty manifest and every Save a no-op, for tests and
// supervisors that don't persist.
func NewFileManifestStore(path string) ManifestStore {
	return fileManifestStore{path: path}
}

func (f fileManifestStore) Load() (models.Manifest, error) { return loadManifest(f.path) }
func (f fileManifestStore) Save(m models.Manifest) error   { return saveManifest(f.path, m) }

// loadManifest reads the persisted provider list. A missing file is not an
// error: it simply means no providers have been persisted yet.
func loadManifest(path string) (models.Manifest, error) {
	manifest := models.Manifest{Providers: map[string]models.PersistedProvider{}}
	if path == "" {
		return manifest, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest, nil
		}
		return manifest, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if manifest.Providers == nil {
		manifest.Providers = map[string]models.PersistedProvider{}
	}
	return manifest, nil
}

// saveManifest writes manifest atomically: stage to a temp file in the same
// directory, then rename into place, so a crash mid-write never corrupts an
// existing manifest.
func saveManifest(path string, manifest models.Manifest) error {
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.yaml")
	if err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write staged manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staged manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("activate manifest: %w", err)
	}
	return nil
}

// upsertPersisted returns a copy of manifest with provider recorded under
// registryIDHint.
func upsertPersisted(manifest models.Manifest, registryIDHint string, p models.PersistedProvider) models.Manifest {
	next := models.Manifest{Providers: make(map[string]models.PersistedProvider, len(manifest.Providers)+1)}
	for k, v := range manifest.Providers {
		next.Providers[k] = v
	}
	next.Providers[registryIDHint] = p
	return next
}

// removePersisted returns a copy of manifest with registryIDHint removed.
func removePersisted(manifest models.Manifest, registryIDHint string) models.Manifest {
	next := models.Manifest{Providers: make(map[string]models.PersistedProvider, len(manifest.Providers))}
	for k, v := range manifest.Providers {
		if k == registryIDHint {
			continue
		}
		next.Providers[k] = v
	}
	return next
}
