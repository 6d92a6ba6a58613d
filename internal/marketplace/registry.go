// Package marketplace implements the HTTP-based registry index client that
// backs the search-install flow's InstallAdvisor: it fetches one or more
// JSON registry indexes (each listing tool manifests), caches them for a
// configurable TTL, and searches across all of them by free-text query.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manifest describes one tool advertised by a registry index: enough to
// both display it in a search result and turn it into a spawnable process
// if it wins the search.
type Manifest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Keywords    []string          `json:"keywords,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Deprecated  bool              `json:"deprecated,omitempty"`
}

// Index is one registry's full plugin listing, served at
// "{registryURL}/index.json".
type Index struct {
	Version   string      `json:"version"`
	Name      string      `json:"name"`
	Plugins   []*Manifest `json:"plugins"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// SearchResult pairs a manifest with its relevance score (0 to 1.3; higher
// is better).
type SearchResult struct {
	Manifest *Manifest
	Score    float64
}

// DefaultRegistryURL is used when a RegistryClient is built with no
// registries configured.
const DefaultRegistryURL = "https://registry.toolgated.dev"

// RegistryClient fetches and searches one or more registry indexes.
type RegistryClient struct {
	mu         sync.RWMutex
	registries []string
	httpClient *http.Client
	cache      *indexCache
	logger     *slog.Logger
}

type indexCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedIndex
	ttl     time.Duration
}

type cachedIndex struct {
	index     *Index
	fetchedAt time.Time
}

// Option configures a RegistryClient.
type Option func(*RegistryClient)

// WithRegistries replaces the default registry list.
func WithRegistries(urls []string) Option {
	return func(c *RegistryClient) { c.registries = urls }
}

// WithHTTPClient overrides the HTTP client used for index fetches and
// artifact-less lookups, e.g. to inject an OAuth2 client-credentials
// client via auth.NewHTTPClient.
func WithHTTPClient(client *http.Client) Option {
	return func(c *RegistryClient) { c.httpClient = client }
}

// WithCacheTTL overrides the default 15-minute index cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *RegistryClient) {
		if ttl > 0 {
			c.cache.ttl = ttl
		}
	}
}

// WithLogger overrides the default slog.Default()-derived logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *RegistryClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRegistryClient builds a RegistryClient defaulting to DefaultRegistryURL,
// a 30s-timeout HTTP client, and a 15-minute index cache.
func NewRegistryClient(opts ...Option) *RegistryClient {
	c := &RegistryClient{
		registries: []string{DefaultRegistryURL},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache: &indexCache{
			entries: make(map[string]*cachedIndex),
			ttl:     15 * time.Minute,
		},
		logger: slog.Default().With("component", "marketplace.registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registries returns a copy of the configured registry URLs.
func (c *RegistryClient) Registries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.registries))
	copy(out, c.registries)
	return out
}

// AddRegistry appends a registry URL, ignoring duplicates.
func (c *RegistryClient) AddRegistry(registryURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.registries {
		if r == registryURL {
			return
		}
	}
	c.registries = append(c.registries, registryURL)
}

// FetchIndex fetches one registry's index, serving a cached copy if it is
// younger than the configured TTL.
func (c *RegistryClient) FetchIndex(ctx context.Context, registryURL string) (*Index, error) {
	c.cache.mu.RLock()
	cached, ok := c.cache.entries[registryURL]
	c.cache.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < c.cache.ttl {
		c.logger.Debug("using cached registry index", "registry", registryURL)
		return cached.index, nil
	}

	indexURL, err := url.JoinPath(registryURL, "index.json")
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "toolgated-marketplace/1.0")

	c.logger.Debug("fetching registry index", "url", indexURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch registry index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if readErr != nil {
			return nil, fmt.Errorf("registry returned %d and failed to read body: %w", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}

	var index Index
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("decode registry index: %w", err)
	}

	c.cache.mu.Lock()
	c.cache.entries[registryURL] = &cachedIndex{index: &index, fetchedAt: time.Now()}
	c.cache.mu.Unlock()

	c.logger.Info("fetched registry index", "registry", registryURL, "plugins", len(index.Plugins))
	return &index, nil
}

// FetchAllIndexes fetches every configured registry concurrently,
// returning the indexes keyed by registry URL. It succeeds as long as at
// least one registry responded.
func (c *RegistryClient) FetchAllIndexes(ctx context.Context) (map[string]*Index, error) {
	registries := c.Registries()
	result := make(map[string]*Index, len(registries))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []error

	for _, reg := range registries {
		wg.Add(1)
		go func(registryURL string) {
			defer wg.Done()
			index, err := c.FetchIndex(ctx, registryURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("failed to fetch registry", "registry", registryURL, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", registryURL, err))
				return
			}
			result[registryURL] = index
		}(reg)
	}
	wg.Wait()

	if len(result) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("failed to fetch any registries: %v", errs)
	}
	return result, nil
}

// Search ranks every plugin across every registry by relevance to query,
// deduplicating by ID and returning results sorted by descending score. An
// empty query matches everything with score 1.0.
func (c *RegistryClient) Search(ctx context.Context, query string) ([]*SearchResult, error) {
	indexes, err := c.FetchAllIndexes(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	queryLower := strings.ToLower(strings.TrimSpace(query))
	var results []*SearchResult

	for _, index := range indexes {
		for _, plugin := range index.Plugins {
			if plugin.Deprecated || seen[plugin.ID] {
				continue
			}
			seen[plugin.ID] = true

			score := relevance(plugin, queryLower)
			if score == 0 && queryLower != "" {
				continue
			}
			results = append(results, &SearchResult{Manifest: plugin, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// relevance scores a manifest's match against a lowercased query: exact ID
// match scores highest, followed by substring ID/name/keyword/category
// hits. A blank query matches everything with a flat score of 1.0.
func relevance(m *Manifest, query string) float64 {
	if query == "" {
		return 1.0
	}

	var score float64
	id := strings.ToLower(m.ID)
	if strings.Contains(id, query) {
		score += 0.4
		if id == query {
			score += 0.3
		}
	}
	if strings.Contains(strings.ToLower(m.Name), query) {
		score += 0.3
	}
	if strings.Contains(strings.ToLower(m.Description), query) {
		score += 0.1
	}
	for _, kw := range m.Keywords {
		if strings.Contains(strings.ToLower(kw), query) {
			score += 0.1
			break
		}
	}
	for _, cat := range m.Categories {
		if strings.Contains(strings.ToLower(cat), query) {
			score += 0.1
			break
		}
	}
	return score
}
