package store

import "sync"

// ColdStore is the disk-resident tier behind Tiered. Keys are symbol FQNs
// and values are encoded payloads; the format is internal to this package.
// SQLiteCold, BoltCold, BadgerCold and MemoryCold implement it.
type ColdStore interface {
	Put(key string, value []byte) error
	// PutMany writes all entries atomically where the backend supports it.
	PutMany(entries map[string][]byte) error
	// Get returns (nil, false, nil) when the key is absent.
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Len() (int, error)
	Close() error
}

// Compile-time checks.
var (
	_ ColdStore = (*SQLiteCold)(nil)
	_ ColdStore = (*BoltCold)(nil)
	_ ColdStore = (*BadgerCold)(nil)
	_ ColdStore = (*MemoryCold)(nil)
)

// MemoryCold is a map-backed ColdStore used in tests and when no store
// directory is configured.
type MemoryCold struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryCold returns an empty MemoryCold.
func NewMemoryCold() *MemoryCold {
	return &MemoryCold{items: make(map[string][]byte)}
}

func (m *MemoryCold) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryCold) PutMany(entries map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.items[k] = append([]byte(nil), v...)
	}
	return nil
}

func (m *MemoryCold) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryCold) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryCold) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *MemoryCold) Close() error { return nil }
