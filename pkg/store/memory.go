package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests and the
// STORE_BACKEND=memory development mode. Entries expire lazily: an expired
// key is invisible to reads and overwritten by the next Put.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	lists   map[string][]string

	// now is swappable in tests to drive TTL expiry deterministically.
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		lists:   make(map[string][]string),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Put upserts a key. ttl zero means no expiry.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Get returns the value for key or ErrKeyNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || m.expired(entry) {
		delete(m.entries, key)
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Scan returns all unexpired keys with the given prefix, sorted.
func (m *MemoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, entry := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if m.expired(entry) {
			delete(m.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListPushTail appends a value to the list at key.
func (m *MemoryStore) ListPushTail(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	return nil
}

// ListPopHead removes and returns the head of the list at key.
func (m *MemoryStore) ListPopHead(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return "", ErrKeyNotFound
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

// ListLen returns the length of the list at key.
func (m *MemoryStore) ListLen(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key]), nil
}

// ListSnapshot returns a copy of the list at key, head first.
func (m *MemoryStore) ListSnapshot(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[key]...), nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// DeleteExpired satisfies Expirer; expiry is lazy here so there is nothing
// to sweep beyond dropping already-expired entries.
func (m *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, entry := range m.entries {
		if m.expired(entry) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt)
}
