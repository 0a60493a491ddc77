package xref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SupplementarySymbolInfo is a symbol of a dependency project. FilePath is
// absolute so the symbol's source can be read back.
type SupplementarySymbolInfo struct {
	FQN         string     `json:"fqn"`
	Name        string     `json:"name"`
	FilePath    string     `json:"file_path"`
	Type        SymbolType `json:"symbol_type"`
	ProjectName string     `json:"project_name"`
	StartLine   int        `json:"start_line"`
	EndLine     int        `json:"end_line"`
	Parent      string     `json:"parent,omitempty"`
}

// SupplementaryRegistry holds the symbols of declared dependency projects,
// keyed by "<project>::<qualified name>". Projects are loaded once and
// never re-read. Safe for concurrent use.
type SupplementaryRegistry struct {
	mu       sync.RWMutex
	symbols  map[string]SupplementarySymbolInfo
	byName   map[string][]string
	byFile   map[string][]string
	projects map[string][]string

	logger     *slog.Logger
	mapperOpts []MapperOption
}

// RegistryOption configures a SupplementaryRegistry.
type RegistryOption func(*SupplementaryRegistry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *SupplementaryRegistry) {
		r.logger = logger
	}
}

// WithRegistryMapperOptions sets options for the mappers that index
// supplementary projects.
func WithRegistryMapperOptions(opts ...MapperOption) RegistryOption {
	return func(r *SupplementaryRegistry) {
		r.mapperOpts = append(r.mapperOpts, opts...)
	}
}

// NewSupplementaryRegistry returns an empty registry.
func NewSupplementaryRegistry(opts ...RegistryOption) *SupplementaryRegistry {
	r := &SupplementaryRegistry{
		symbols:  make(map[string]SupplementarySymbolInfo),
		byName:   make(map[string][]string),
		byFile:   make(map[string][]string),
		projects: make(map[string][]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadProjects loads each project, continuing past failures. The returned
// error joins every failure.
func (r *SupplementaryRegistry) LoadProjects(ctx context.Context, projects []SupplementaryProject) error {
	var errs []error
	for _, p := range projects {
		if err := r.LoadProject(ctx, p.Name, p.Path); err != nil {
			r.logger.Error("loading supplementary project failed", "project", p.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadProject indexes the tree at path and registers its symbols under
// name. Import symbols are not registered. Loading a name twice fails.
func (r *SupplementaryRegistry) LoadProject(ctx context.Context, name, path string) error {
	if name == "" {
		return fmt.Errorf("%w: supplementary project needs a name", ErrInvalidArgument)
	}
	r.mu.RLock()
	_, loaded := r.projects[name]
	r.mu.RUnlock()
	if loaded {
		return fmt.Errorf("%w: supplementary project %q already loaded", ErrInvalidArgument, name)
	}

	opts := append([]MapperOption{WithLogger(r.logger)}, r.mapperOpts...)
	mapper, err := NewMapper(path, opts...)
	if err != nil {
		return err
	}
	defer mapper.Close()
	res, err := mapper.MapRepository(ctx)
	if err != nil {
		return fmt.Errorf("xref: load supplementary project %s: %w", name, err)
	}

	var infos []SupplementarySymbolInfo
	seen := make(map[string]bool)
	for _, s := range mapper.Symbols() {
		if s.Type == SymbolImport {
			continue
		}
		fqn := projectFQN(name, s.FQN)
		if seen[fqn] {
			fqn = fmt.Sprintf("%s@%s", fqn, s.FilePath)
		}
		seen[fqn] = true
		info := SupplementarySymbolInfo{
			FQN:         fqn,
			Name:        s.Name,
			FilePath:    filepath.Join(mapper.Root(), filepath.FromSlash(s.FilePath)),
			Type:        s.Type,
			ProjectName: name,
			StartLine:   s.StartLine,
			EndLine:     s.EndLine,
		}
		if s.Parent != "" {
			info.Parent = projectFQN(name, s.Parent)
		}
		infos = append(infos, info)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; ok {
		return fmt.Errorf("%w: supplementary project %q already loaded", ErrInvalidArgument, name)
	}
	r.projects[name] = nil
	for _, info := range infos {
		r.addLocked(info)
	}
	r.logger.Info("supplementary project loaded", "project", name, "files", res.Succeeded,
		"failed", res.Failed, "symbols", len(infos))
	return nil
}

// projectFQN rewrites "rel/path.go::Outer.name" as "project::Outer.name".
func projectFQN(project, fqn string) string {
	if i := strings.Index(fqn, "::"); i >= 0 {
		fqn = fqn[i+2:]
	}
	return project + "::" + fqn
}

// Add registers one symbol. An FQN already present is rejected.
func (r *SupplementaryRegistry) Add(info SupplementarySymbolInfo) error {
	if info.FQN == "" || info.Name == "" {
		return fmt.Errorf("%w: supplementary symbol needs an fqn and a name", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.symbols[info.FQN]; ok {
		return fmt.Errorf("%w: supplementary symbol %q already registered", ErrInvalidArgument, info.FQN)
	}
	r.addLocked(info)
	return nil
}

func (r *SupplementaryRegistry) addLocked(info SupplementarySymbolInfo) {
	r.symbols[info.FQN] = info
	r.byName[info.Name] = append(r.byName[info.Name], info.FQN)
	r.byFile[info.FilePath] = append(r.byFile[info.FilePath], info.FQN)
	r.projects[info.ProjectName] = append(r.projects[info.ProjectName], info.FQN)
}

// LookupByFQN is an exact-match lookup.
func (r *SupplementaryRegistry) LookupByFQN(fqn string) (SupplementarySymbolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.symbols[fqn]
	return info, ok
}

// SymbolsNamed returns the symbols with exactly this name, ordered by FQN.
func (r *SupplementaryRegistry) SymbolsNamed(name string) []SupplementarySymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byName[name])
}

// SymbolsInFile returns the symbols of one absolute file path.
func (r *SupplementaryRegistry) SymbolsInFile(path string) []SupplementarySymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byFile[path])
}

// SymbolsInProject returns the symbols of one project.
func (r *SupplementaryRegistry) SymbolsInProject(project string) []SupplementarySymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.projects[project])
}

// Symbols returns every symbol ordered by FQN.
func (r *SupplementaryRegistry) Symbols() []SupplementarySymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(sortedKeys(r.symbols))
}

func (r *SupplementaryRegistry) collectLocked(fqns []string) []SupplementarySymbolInfo {
	out := make([]SupplementarySymbolInfo, 0, len(fqns))
	for _, fqn := range fqns {
		out = append(out, r.symbols[fqn])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	return out
}

// Projects returns the loaded project names, sorted.
func (r *SupplementaryRegistry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.projects)
}

// Len returns the number of registered symbols.
func (r *SupplementaryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbols)
}

// RegistryStats summarizes a registry.
type RegistryStats struct {
	Symbols       int                `json:"total_symbols"`
	Files         int                `json:"total_files"`
	Projects      int                `json:"total_projects"`
	SymbolsByType map[SymbolType]int `json:"symbols_by_type"`
}

// Stats counts symbols, files, and projects.
func (r *SupplementaryRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistryStats{
		Symbols:       len(r.symbols),
		Files:         len(r.byFile),
		Projects:      len(r.projects),
		SymbolsByType: make(map[SymbolType]int),
	}
	for _, info := range r.symbols {
		st.SymbolsByType[info.Type]++
	}
	return st
}
