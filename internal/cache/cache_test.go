package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appredis "concierge/internal/redis"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if m.fail {
		return errors.New("store down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	if m.fail {
		return "", errors.New("store down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", appredis.ErrCacheMiss
	}
	return v, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	if m.fail {
		return errors.New("store down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) DelByPrefix(_ context.Context, prefix string) error {
	if m.fail {
		return errors.New("store down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Minute)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	c.Set(ctx, "k1", payload{Name: "a", Count: 2})

	var got payload
	require.NoError(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)
}

func TestCacheMiss(t *testing.T) {
	ctx := context.Background()
	c := New(newMemStore(), time.Minute)

	var out string
	err := c.Get(ctx, "absent", &out)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheCorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data["bad"] = "{not json"
	c := New(store, time.Minute)

	var out map[string]string
	err := c.Get(ctx, "bad", &out)
	assert.ErrorIs(t, err, ErrMiss)
	_, exists := store.data["bad"]
	assert.False(t, exists, "undecodable entry should be evicted")
}

func TestCacheStoreFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.fail = true
	c := New(store, time.Minute)

	// None of these may panic or return a store error to the caller.
	c.Set(ctx, "k", "v")
	c.Delete(ctx, "k")
	c.DeletePrefix(ctx, "k")

	var out string
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}

func TestCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := New(store, time.Minute)

	c.Set(ctx, MessagesKey("conv-1", 20, ""), []string{"a"})
	c.Set(ctx, MessagesKey("conv-1", 20, "2026-01-01T00:00:00Z"), []string{"b"})
	c.Set(ctx, MessagesKey("conv-2", 20, ""), []string{"c"})

	c.DeletePrefix(ctx, MessagesPrefix("conv-1"))

	var out []string
	assert.ErrorIs(t, c.Get(ctx, MessagesKey("conv-1", 20, ""), &out), ErrMiss)
	assert.ErrorIs(t, c.Get(ctx, MessagesKey("conv-1", 20, "2026-01-01T00:00:00Z"), &out), ErrMiss)
	assert.NoError(t, c.Get(ctx, MessagesKey("conv-2", 20, ""), &out))
}

func TestKeyShapes(t *testing.T) {
	assert.Equal(t, "conversations:7", ConversationsKey(7))
	assert.Equal(t, "messages:abc:limit:20", MessagesKey("abc", 20, ""))
	assert.Equal(t, "messages:abc:limit:20:cursor:xyz", MessagesKey("abc", 20, "xyz"))
	assert.Equal(t, "memories:7", MemoriesKey(7))
	assert.True(t, strings.HasPrefix(MessagesKey("abc", 20, "xyz"), MessagesPrefix("abc")))
}
