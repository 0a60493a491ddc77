package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Preset names a project-size bucket.
type Preset string

const (
	PresetSmall  Preset = "small"  // < 1k files
	PresetMedium Preset = "medium" // < 10k files
	PresetLarge  Preset = "large"  // >= 10k files
)

// DefaultBytesPerSymbol is the per-entry memory estimate for the hot tier.
const DefaultBytesPerSymbol = 200

// TierConfig sizes a Tiered store.
type TierConfig struct {
	CacheSize   int `yaml:"cache_size" json:"cache_size"`
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`
	// BytesPerSymbol overrides DefaultBytesPerSymbol when positive.
	BytesPerSymbol int `yaml:"bytes_per_symbol,omitempty" json:"bytes_per_symbol,omitempty"`
}

var presets = map[Preset]TierConfig{
	PresetSmall:  {CacheSize: 5000, MaxMemoryMB: 512},
	PresetMedium: {CacheSize: 10000, MaxMemoryMB: 2048},
	PresetLarge:  {CacheSize: 20000, MaxMemoryMB: 4096},
}

// PresetConfig returns the TierConfig for a preset.
func PresetConfig(p Preset) (TierConfig, error) {
	cfg, ok := presets[p]
	if !ok {
		return TierConfig{}, fmt.Errorf("unknown store preset %q", p)
	}
	return cfg, nil
}

// PresetForFileCount picks the preset bucket for a project of n files.
func PresetForFileCount(n int) Preset {
	switch {
	case n < 1000:
		return PresetSmall
	case n < 10000:
		return PresetMedium
	default:
		return PresetLarge
	}
}

// Validate checks that sizes are positive.
func (c TierConfig) Validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("max_memory_mb must be positive, got %d", c.MaxMemoryMB)
	}
	if c.BytesPerSymbol < 0 {
		return fmt.Errorf("bytes_per_symbol must not be negative, got %d", c.BytesPerSymbol)
	}
	return nil
}

func (c TierConfig) bytesPerSymbol() int {
	if c.BytesPerSymbol > 0 {
		return c.BytesPerSymbol
	}
	return DefaultBytesPerSymbol
}

// Backend names a ColdStore implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// OpenCold opens the cold tier for backend under dir. An empty dir selects
// MemoryCold for every backend except badger, which runs in memory.
func OpenCold(backend Backend, dir string, logger *slog.Logger) (ColdStore, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryCold(), nil
	case BackendBadger:
		path := ""
		if dir != "" {
			path = filepath.Join(dir, "badger")
		}
		b, err := NewBadgerCold(path, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendSQLite, BackendBolt:
		if dir == "" {
			return NewMemoryCold(), nil
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
		if backend == BackendBolt {
			b, err := NewBoltCold(filepath.Join(dir, "symbols.bolt"))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
		s, err := NewSQLiteCold(filepath.Join(dir, "symbols.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
