package store

import (
	"fmt"
	"sync"
)

// Store events reported to an EventHook.
const (
	EventHit       = "hit"
	EventMiss      = "miss"
	EventDiskRead  = "disk_read"
	EventDiskWrite = "disk_write"
	EventCleanup   = "cleanup"
)

// EventHook observes store events, e.g. to feed metrics.
type EventHook func(event string)

// Statistics is a point-in-time view of a Tiered store.
type Statistics struct {
	MemoryUsageMB    float64 `json:"memory_usage_mb"`
	MemoryLimitMB    int     `json:"memory_limit_mb"`
	CacheSize        int     `json:"cache_size"`
	CacheCapacity    int     `json:"cache_capacity"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	ColdStorageItems int     `json:"cold_storage_items"`
	DiskReads        int64   `json:"disk_reads"`
	DiskWrites       int64   `json:"disk_writes"`
	MemoryCleanups   int64   `json:"memory_cleanups"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
}

// Tiered is a memory-budgeted symbol store: a bounded LRU hot tier in
// front of a ColdStore. Entries leave the hot tier only after they have
// been written to cold storage. Safe for concurrent use.
type Tiered struct {
	mu    sync.Mutex
	cfg   TierConfig
	hot   *lru[string, CodeSymbol]
	cold  ColdStore
	codec *codec
	hook  EventHook

	hits, misses          int64
	diskReads, diskWrites int64
	cleanups              int64
}

// TieredOption configures a Tiered store.
type TieredOption func(*Tiered)

// WithEventHook registers a callback for store events.
func WithEventHook(h EventHook) TieredOption {
	return func(t *Tiered) {
		t.hook = h
	}
}

// NewTiered creates a Tiered store over cold. compress enables zstd for
// cold-tier payloads.
func NewTiered(cfg TierConfig, cold ColdStore, compress bool, opts ...TieredOption) (*Tiered, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tiered store: %w", err)
	}
	if cold == nil {
		return nil, fmt.Errorf("tiered store: cold store is required")
	}
	c, err := newCodec(compress)
	if err != nil {
		return nil, fmt.Errorf("tiered store: %w", err)
	}
	t := &Tiered{
		cfg:   cfg,
		hot:   newLRU[string, CodeSymbol](cfg.CacheSize),
		cold:  cold,
		codec: c,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tiered) emit(event string) {
	if t.hook != nil {
		t.hook(event)
	}
}

// StoreSymbol inserts or replaces a symbol in the hot tier, spilling the
// least recently used entry to cold storage when the hot tier is full.
func (t *Tiered) StoreSymbol(sym CodeSymbol) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(sym)
}

// StoreSymbols stores each symbol in order.
func (t *Tiered) StoreSymbols(syms []CodeSymbol) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sym := range syms {
		if err := t.insertLocked(sym); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tiered) insertLocked(sym CodeSymbol) error {
	if !t.hot.contains(sym.FQN) && t.hot.full() {
		if err := t.spillOldestLocked(); err != nil {
			return err
		}
	}
	t.hot.set(sym.FQN, sym)
	return nil
}

// spillOldestLocked writes the LRU hot entry to cold storage, then drops it
// from the hot tier.
func (t *Tiered) spillOldestLocked() error {
	key, sym, ok := t.hot.oldest()
	if !ok {
		return nil
	}
	payload, err := t.codec.encode(sym)
	if err != nil {
		return err
	}
	if err := t.cold.Put(key, payload); err != nil {
		return fmt.Errorf("spill %q: %w", key, err)
	}
	t.diskWrites++
	t.emit(EventDiskWrite)
	t.hot.remove(key)
	return nil
}

// GetSymbol looks a symbol up in the hot tier, then in cold storage. A cold
// hit is promoted back into the hot tier.
func (t *Tiered) GetSymbol(fqn string) (CodeSymbol, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sym, ok := t.hot.get(fqn); ok {
		t.hits++
		t.emit(EventHit)
		return sym, true, nil
	}
	t.misses++
	t.emit(EventMiss)

	payload, ok, err := t.cold.Get(fqn)
	t.diskReads++
	t.emit(EventDiskRead)
	if err != nil {
		return CodeSymbol{}, false, fmt.Errorf("cold read %q: %w", fqn, err)
	}
	if !ok {
		return CodeSymbol{}, false, nil
	}
	sym, err := t.codec.decode(payload)
	if err != nil {
		return CodeSymbol{}, false, err
	}
	if err := t.insertLocked(sym); err != nil {
		return CodeSymbol{}, false, err
	}
	return sym, true, nil
}

// RemoveSymbol deletes one symbol from both tiers.
func (t *Tiered) RemoveSymbol(fqn string) error {
	return t.RemoveSymbols([]string{fqn})
}

// RemoveSymbols deletes symbols from both tiers.
func (t *Tiered) RemoveSymbols(fqns []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, fqn := range fqns {
		t.hot.remove(fqn)
	}
	if bd, ok := t.cold.(interface{ DeleteMany([]string) error }); ok {
		return bd.DeleteMany(fqns)
	}
	for _, fqn := range fqns {
		if err := t.cold.Delete(fqn); err != nil {
			return fmt.Errorf("remove %q: %w", fqn, err)
		}
	}
	return nil
}

func (t *Tiered) estimateBytesLocked() int {
	return t.hot.len() * t.cfg.bytesPerSymbol()
}

func (t *Tiered) limitBytes() int {
	return t.cfg.MaxMemoryMB * 1024 * 1024
}

// CleanupMemory evicts hot entries down to half the hot capacity when the
// resident estimate exceeds the memory limit. Evicted entries are written
// to cold storage in one batch before they are dropped. It is a no-op when
// the estimate is within budget.
func (t *Tiered) CleanupMemory() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.estimateBytesLocked() <= t.limitBytes() {
		return nil
	}

	lowWater := t.cfg.CacheSize / 2
	perSym := t.cfg.bytesPerSymbol()
	if byBudget := t.limitBytes() / perSym; byBudget < lowWater {
		lowWater = byBudget
	}

	batch := make(map[string][]byte)
	var evict []string
	// Walk from the LRU end without mutating until the batch is persisted.
	elem := t.hot.order.Back()
	for n := t.hot.len(); n > lowWater && elem != nil; n-- {
		e := elem.Value.(*lruEntry[string, CodeSymbol])
		payload, err := t.codec.encode(e.value)
		if err != nil {
			return err
		}
		batch[e.key] = payload
		evict = append(evict, e.key)
		elem = elem.Prev()
	}
	if err := t.cold.PutMany(batch); err != nil {
		return fmt.Errorf("cleanup: persist %d symbols: %w", len(batch), err)
	}
	for _, k := range evict {
		t.hot.remove(k)
	}
	t.diskWrites += int64(len(batch))
	t.cleanups++
	t.emit(EventCleanup)
	return nil
}

// Flush writes every hot entry to cold storage without evicting.
func (t *Tiered) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch := make(map[string][]byte, t.hot.len())
	for k, elem := range t.hot.items {
		payload, err := t.codec.encode(elem.Value.(*lruEntry[string, CodeSymbol]).value)
		if err != nil {
			return err
		}
		batch[k] = payload
	}
	if err := t.cold.PutMany(batch); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	t.diskWrites += int64(len(batch))
	return nil
}

// GetStatistics reports tier sizes and counters.
func (t *Tiered) GetStatistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	coldItems, err := t.cold.Len()
	if err != nil {
		coldItems = -1
	}
	var rate float64
	if total := t.hits + t.misses; total > 0 {
		rate = float64(t.hits) / float64(total)
	}
	return Statistics{
		MemoryUsageMB:    float64(t.estimateBytesLocked()) / (1024 * 1024),
		MemoryLimitMB:    t.cfg.MaxMemoryMB,
		CacheSize:        t.hot.len(),
		CacheCapacity:    t.cfg.CacheSize,
		CacheHitRate:     rate,
		ColdStorageItems: coldItems,
		DiskReads:        t.diskReads,
		DiskWrites:       t.diskWrites,
		MemoryCleanups:   t.cleanups,
		CacheHits:        t.hits,
		CacheMisses:      t.misses,
	}
}

// Close flushes the hot tier and closes the cold store.
func (t *Tiered) Close() error {
	flushErr := t.Flush()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codec.close()
	if err := t.cold.Close(); err != nil {
		return err
	}
	return flushErr
}
