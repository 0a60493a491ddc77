package xref

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// ConfigFileName is looked up at the root of an indexed tree.
const ConfigFileName = ".xref.yaml"

// Config holds all configuration for indexing and relationship queries.
type Config struct {
	Languages        []string               `yaml:"languages,omitempty"`
	Exclude          []string               `yaml:"exclude,omitempty"`
	RespectGitignore bool                   `yaml:"respect_gitignore"`
	TolerantParsing  bool                   `yaml:"tolerant_parsing"`
	CleanupEvery     int                    `yaml:"cleanup_every"`
	Store            StoreConfig            `yaml:"store"`
	Confidence       ConfidenceConfig       `yaml:"confidence"`
	ConfidenceScript string                 `yaml:"confidence_script,omitempty"`
	Supplementary    []SupplementaryProject `yaml:"supplementary,omitempty"`
}

// StoreConfig configures the Tiered Symbol Store. A zero CacheSize or
// MaxMemoryMB takes the value from Preset; Preset "auto" (or empty)
// chooses by file count.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Preset      string `yaml:"preset"`
	CacheSize   int    `yaml:"cache_size,omitempty"`
	MaxMemoryMB int    `yaml:"max_memory_mb,omitempty"`
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir,omitempty"`
	Compress    bool   `yaml:"compress"`
}

// ConfidenceConfig holds the relationship confidence constants.
type ConfidenceConfig struct {
	ExactMatch      float64 `yaml:"exact_match"`
	PartialMatch    float64 `yaml:"partial_match"`
	Wrapper         float64 `yaml:"wrapper"`
	Implementation  float64 `yaml:"implementation"`
	Inheritance     float64 `yaml:"inheritance"`
	PossibleWrapper float64 `yaml:"possible_wrapper"`
	Unrelated       float64 `yaml:"unrelated"`
	StrongThreshold float64 `yaml:"strong_threshold"`
}

// SupplementaryProject names a dependency project to load into the
// registry. Relative paths resolve against the config file's directory.
type SupplementaryProject struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// DefaultConfidence returns the built-in confidence constants.
func DefaultConfidence() ConfidenceConfig {
	return ConfidenceConfig{
		ExactMatch:      1.0,
		PartialMatch:    0.7,
		Wrapper:         0.8,
		Implementation:  0.9,
		Inheritance:     0.9,
		PossibleWrapper: 0.4,
		Unrelated:       0.2,
		StrongThreshold: 0.5,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RespectGitignore: true,
		CleanupEvery:     4,
		Store: StoreConfig{
			Preset:  "auto",
			Backend: string(store.BackendSQLite),
		},
		Confidence: DefaultConfidence(),
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("xref: read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("xref: parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, p := range cfg.Supplementary {
		if p.Path != "" && !filepath.IsAbs(p.Path) {
			cfg.Supplementary[i].Path = filepath.Join(base, p.Path)
		}
	}
	if cfg.ConfidenceScript != "" && !filepath.IsAbs(cfg.ConfidenceScript) {
		cfg.ConfidenceScript = filepath.Join(base, cfg.ConfidenceScript)
	}
	if cfg.Store.Dir != "" && !filepath.IsAbs(cfg.Store.Dir) {
		cfg.Store.Dir = filepath.Join(base, cfg.Store.Dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigForRoot loads root/.xref.yaml.
func LoadConfigForRoot(root string) (*Config, error) {
	return LoadConfig(filepath.Join(root, ConfigFileName))
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects unknown languages, backends, and presets, negative
// sizes, and confidence values outside [0, 1].
func (c *Config) Validate() error {
	for _, l := range c.Languages {
		if _, ok := runtime.ParseLanguage(l); !ok {
			return fmt.Errorf("%w: unknown language %q", ErrInvalidArgument, l)
		}
	}
	if c.CleanupEvery < 0 {
		return fmt.Errorf("%w: cleanup_every must not be negative", ErrInvalidArgument)
	}

	switch store.Backend(c.Store.Backend) {
	case store.BackendSQLite, store.BackendBolt, store.BackendBadger, store.BackendMemory:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidArgument, c.Store.Backend)
	}
	if c.Store.Preset != "" && c.Store.Preset != "auto" {
		if _, err := store.PresetConfig(store.Preset(c.Store.Preset)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	if c.Store.CacheSize < 0 || c.Store.MaxMemoryMB < 0 {
		return fmt.Errorf("%w: store sizes must not be negative", ErrInvalidArgument)
	}

	conf := c.Confidence
	for name, v := range map[string]float64{
		"exact_match":      conf.ExactMatch,
		"partial_match":    conf.PartialMatch,
		"wrapper":          conf.Wrapper,
		"implementation":   conf.Implementation,
		"inheritance":      conf.Inheritance,
		"possible_wrapper": conf.PossibleWrapper,
		"unrelated":        conf.Unrelated,
		"strong_threshold": conf.StrongThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: confidence.%s must be within [0,1], got %v", ErrInvalidArgument, name, v)
		}
	}

	for _, p := range c.Supplementary {
		if p.Name == "" || p.Path == "" {
			return fmt.Errorf("%w: supplementary projects need a name and a path", ErrInvalidArgument)
		}
	}
	return nil
}

// TierConfig resolves the store sizing for a project of fileCount files.
func (s StoreConfig) TierConfig(fileCount int) (store.TierConfig, error) {
	preset := store.Preset(s.Preset)
	if s.Preset == "" || s.Preset == "auto" {
		preset = store.PresetForFileCount(fileCount)
	}
	cfg, err := store.PresetConfig(preset)
	if err != nil {
		return store.TierConfig{}, err
	}
	if s.CacheSize > 0 {
		cfg.CacheSize = s.CacheSize
	}
	if s.MaxMemoryMB > 0 {
		cfg.MaxMemoryMB = s.MaxMemoryMB
	}
	return cfg, cfg.Validate()
}

// OpenStore builds a Tiered store sized for fileCount files.
func (s StoreConfig) OpenStore(fileCount int, logger *slog.Logger, opts ...store.TieredOption) (*store.Tiered, error) {
	tier, err := s.TierConfig(fileCount)
	if err != nil {
		return nil, fmt.Errorf("xref: store config: %w", err)
	}
	cold, err := store.OpenCold(store.Backend(s.Backend), s.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("xref: open cold store: %w", err)
	}
	t, err := store.NewTiered(tier, cold, s.Compress, opts...)
	if err != nil {
		cold.Close()
		return nil, fmt.Errorf("xref: open store: %w", err)
	}
	return t, nil
}

func (c *Config) parserOptions() []runtime.ParserOption {
	return []runtime.ParserOption{runtime.WithTolerantParsing(c.TolerantParsing)}
}
