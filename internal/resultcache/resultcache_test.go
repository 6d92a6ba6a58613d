package resultcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[string, string](Config{DefaultTTL: time.Minute})
	c.Set("key", "value")

	got, ok := c.Get("key")
	require.True(t, ok)
	require.Equal(t, "value", got)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	c := New[string, int](Config{DefaultTTL: time.Minute})
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New[string, string](Config{DefaultTTL: time.Minute})
	c.SetWithTTL("key", "value", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("key")
	require.False(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New[string, string](Config{DefaultTTL: time.Minute})
	c.Set("key", "value")
	c.Delete("key")

	_, ok := c.Get("key")
	require.False(t, ok)
}

func TestClearRemovesEverything(t *testing.T) {
	c := New[string, string](Config{DefaultTTL: time.Minute})
	c.Set("a", "1")
	c.Set("b", "2")
	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	c := New[string, string](Config{DefaultTTL: time.Minute})
	c.SetWithTTL("stale", "x", time.Nanosecond)
	c.SetWithTTL("fresh", "y", time.Minute)

	time.Sleep(5 * time.Millisecond)
	removed := c.SweepExpired()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())
}

type memStore[K comparable, V any] struct {
	records map[K]StoreRecord[V]
}

func newMemStore[K comparable, V any]() *memStore[K, V] {
	return &memStore[K, V]{records: make(map[K]StoreRecord[V])}
}

func (m *memStore[K, V]) LoadAll(ctx context.Context) (map[K]StoreRecord[V], error) {
	return m.records, nil
}

func (m *memStore[K, V]) Save(ctx context.Context, key K, value V, expiresAt time.Time) error {
	m.records[key] = StoreRecord[V]{Value: value, ExpiresAt: expiresAt}
	return nil
}

func (m *memStore[K, V]) Delete(ctx context.Context, key K) error {
	delete(m.records, key)
	return nil
}

func TestWithStoreRestoresUnexpiredEntries(t *testing.T) {
	store := newMemStore[string, string]()
	store.records["surviving"] = StoreRecord[string]{Value: "v", ExpiresAt: time.Now().Add(time.Minute)}
	store.records["already-expired"] = StoreRecord[string]{Value: "v", ExpiresAt: time.Now().Add(-time.Minute)}

	c := New[string, string](Config{DefaultTTL: time.Minute})
	err := c.WithStore(context.Background(), store)
	require.NoError(t, err)

	_, ok := c.Get("surviving")
	require.True(t, ok)
	_, ok = c.Get("already-expired")
	require.False(t, ok)
}

func TestSetPersistsToStore(t *testing.T) {
	store := newMemStore[string, string]()
	c := New[string, string](Config{DefaultTTL: time.Minute})
	require.NoError(t, c.WithStore(context.Background(), store))

	c.Set("key", "value")
	require.Contains(t, store.records, "key")

	c.Delete("key")
	require.NotContains(t, store.records, "key")
}
