package xref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// GraphState is the lifecycle state of a Manager.
type GraphState int

const (
	StateUninitialized GraphState = iota
	StateInitializing
	StateReady
	StateUpdating
	StateShutDown
)

func (s GraphState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateShutDown:
		return "shut_down"
	}
	return "unknown"
}

// Changes lists the paths a change-detection pass acted on, relative to
// the root. Deleted paths are tombstones: their symbols were purged.
type Changes struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
	Rebuilt  bool     `json:"rebuilt"`
}

// Empty reports whether the pass found nothing to do.
func (c Changes) Empty() bool {
	return !c.Rebuilt && len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Manager owns the current graph for one workspace root. Queries run under
// a read lock and rebuilds or updates under the write lock, so readers
// never observe a partially built graph.
type Manager struct {
	mu       sync.RWMutex // guards mapper, snapshot, changes
	mapper   *Mapper
	snapshot map[string]FileMetadata
	changes  Changes

	stateMu sync.Mutex
	state   GraphState
	root    string

	registry    *SupplementaryRegistry
	resolutions map[UnresolvedReference]CrossProjectResolution

	cfg        *Config
	logger     *slog.Logger
	mapperOpts []MapperOption
	done       chan struct{}
	closeOnce  sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerConfig sets the configuration used for every mapper the
// Manager builds, including the symbol store settings.
func WithManagerConfig(cfg *Config) ManagerOption {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithManagerLogger sets the logger for the Manager and its mappers.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMapperOptions appends options applied to every mapper the Manager
// builds, after the configuration.
func WithMapperOptions(opts ...MapperOption) ManagerOption {
	return func(m *Manager) {
		m.mapperOpts = append(m.mapperOpts, opts...)
	}
}

// WithRegistry attaches a supplementary registry. After every build or
// update, unresolved references are matched against it.
func WithRegistry(r *SupplementaryRegistry) ManagerOption {
	return func(m *Manager) {
		m.registry = r
	}
}

// NewManager creates a Manager in the Uninitialized state.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the lifecycle state and the root it applies to.
func (m *Manager) State() (GraphState, string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state, m.root
}

// Root returns the current root, empty before the first EnsureGraphForPath.
func (m *Manager) Root() string {
	_, root := m.State()
	return root
}

// Config returns the configuration the Manager was built with.
func (m *Manager) Config() *Config {
	return m.cfg
}

func (m *Manager) setState(s GraphState, root string) {
	m.stateMu.Lock()
	m.state, m.root = s, root
	m.stateMu.Unlock()
}

// EnsureGraphForPath makes the graph current for root. The first call, or
// a call with a different root, performs a full build. Later calls for the
// same root re-extract only new and changed files and purge deleted ones;
// when nothing changed no file is parsed.
func (m *Manager) EnsureGraphForPath(ctx context.Context, root string) (err error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return ioError("resolve root", root, err)
	}
	ctx, span := startSpan(ctx, "Manager.EnsureGraphForPath", attribute.String("root", abs))
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, current := m.State()
	if state == StateShutDown {
		return fmt.Errorf("%w: manager is shut down", ErrNotInitialized)
	}
	if m.mapper != nil && current == abs && state == StateReady {
		return m.updateLocked(ctx, abs)
	}
	return m.rebuildLocked(ctx, abs)
}

// errRootMoved is returned by updateRoot when the Manager no longer serves
// the requested root.
var errRootMoved = errors.New("xref: manager moved to another root")

// updateRoot runs an incremental update of root if, and only if, root is
// still the Manager's ready root. It never rebuilds.
func (m *Manager) updateRoot(ctx context.Context, root string) (err error) {
	ctx, span := startSpan(ctx, "Manager.updateRoot", attribute.String("root", root))
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, current := m.State()
	if state == StateShutDown {
		return fmt.Errorf("%w: manager is shut down", ErrNotInitialized)
	}
	if m.mapper == nil || state != StateReady || current != root {
		return errRootMoved
	}
	return m.updateLocked(ctx, root)
}

func (m *Manager) rebuildLocked(ctx context.Context, root string) error {
	m.setState(StateInitializing, root)
	if m.mapper != nil {
		if err := m.mapper.Close(); err != nil {
			m.logger.Warn("closing previous mapper", "root", m.mapper.Root(), "error", err)
		}
		m.mapper, m.snapshot = nil, nil
	}

	fail := func(err error) error {
		m.setState(StateUninitialized, "")
		graphUpdates.WithLabelValues(outcomeFailed).Inc()
		return err
	}

	opts := append([]MapperOption{WithConfig(m.cfg), WithLogger(m.logger)}, m.mapperOpts...)
	mapper, err := NewMapper(root, opts...)
	if err != nil {
		return fail(err)
	}
	paths, err := mapper.Discover()
	if err != nil {
		return fail(err)
	}
	if m.cfg.Store.Enabled {
		t, err := m.cfg.Store.OpenStore(len(paths), m.logger, StoreMetricsHook())
		if err != nil {
			return fail(err)
		}
		mapper.store = t
	}

	snapshot := m.statAll(mapper, paths, nil)
	if _, err := mapper.MapFiles(ctx, paths); err != nil {
		mapper.Close()
		return fail(err)
	}

	m.mapper = mapper
	m.snapshot = snapshot
	m.changes = Changes{Added: sortedKeys(snapshot), Rebuilt: true}
	m.resolutions = nil
	m.resolveLocked(nil)
	m.setState(StateReady, root)
	graphUpdates.WithLabelValues(outcomeRebuilt).Inc()
	return nil
}

func (m *Manager) updateLocked(ctx context.Context, root string) error {
	m.setState(StateUpdating, root)
	defer m.setState(StateReady, root)

	paths, err := m.mapper.Discover()
	if err != nil {
		graphUpdates.WithLabelValues(outcomeFailed).Inc()
		return err
	}
	next := m.statAll(m.mapper, paths, m.snapshot)

	var changes Changes
	for rel, meta := range next {
		old, ok := m.snapshot[rel]
		switch {
		case !ok:
			changes.Added = append(changes.Added, rel)
		case old.Changed(meta):
			changes.Modified = append(changes.Modified, rel)
		}
	}
	for rel := range m.snapshot {
		if _, ok := next[rel]; !ok {
			changes.Deleted = append(changes.Deleted, rel)
		}
	}
	sort.Strings(changes.Added)
	sort.Strings(changes.Modified)
	sort.Strings(changes.Deleted)
	m.changes = changes

	if changes.Empty() {
		graphUpdates.WithLabelValues(outcomeUnchanged).Inc()
		return nil
	}

	changed := append(append([]string(nil), changes.Added...), changes.Modified...)
	if _, err := m.mapper.UpdateFiles(ctx, changed, changes.Deleted); err != nil {
		graphUpdates.WithLabelValues(outcomeFailed).Inc()
		return err
	}
	m.snapshot = next

	stale := make(map[string]bool)
	for _, rel := range append(changed, changes.Deleted...) {
		stale[rel] = true
	}
	m.resolveLocked(stale)
	graphUpdates.WithLabelValues(outcomeUpdated).Inc()
	return nil
}

// resolveLocked drops resolutions from stale files and matches the
// mapper's remaining unresolved references against the registry.
func (m *Manager) resolveLocked(stale map[string]bool) {
	if m.registry == nil {
		return
	}
	if m.resolutions == nil {
		m.resolutions = make(map[UnresolvedReference]CrossProjectResolution)
	}
	for u := range m.resolutions {
		if stale[u.SourceFile] {
			delete(m.resolutions, u)
		}
	}
	q := NewRelationshipQuery(m.mapper, m.registry,
		WithConfidence(m.cfg.Confidence), WithRelationshipLogger(m.logger))
	resolved := q.ResolveUnresolved()
	for _, r := range resolved {
		m.resolutions[r.Reference] = r
	}
	if len(resolved) > 0 {
		m.logger.Info("resolved cross-project references", "count", len(resolved),
			"remaining", len(m.mapper.Unresolved()))
	}
}

// Registry returns the attached supplementary registry, or nil.
func (m *Manager) Registry() *SupplementaryRegistry {
	return m.registry
}

// Resolutions returns the cross-project resolutions of the current graph,
// ordered by source file and line.
func (m *Manager) Resolutions() []CrossProjectResolution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CrossProjectResolution, 0, len(m.resolutions))
	for _, r := range m.resolutions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Reference, out[j].Reference
		if a.SourceFile != b.SourceFile {
			return a.SourceFile < b.SourceFile
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.TargetName != b.TargetName {
			return a.TargetName < b.TargetName
		}
		return a.SourceFQN < b.SourceFQN
	})
	return out
}

// statAll builds a snapshot of paths. A path that cannot be statted keeps
// its previous entry, if any, so it is neither re-extracted nor purged.
func (m *Manager) statAll(mapper *Mapper, paths []string, prev map[string]FileMetadata) map[string]FileMetadata {
	snap := make(map[string]FileMetadata, len(paths))
	for _, p := range paths {
		rel := mapper.relPath(p)
		info, err := os.Stat(p)
		if err != nil {
			m.logger.Warn("stat failed, skipping", "path", rel, "error", ioError("stat", rel, err))
			if old, ok := prev[rel]; ok {
				snap[rel] = old
			}
			continue
		}
		snap[rel] = metadataFor(rel, info)
	}
	return snap
}

// WithGraph runs fn under the read lock. It returns ErrNotInitialized
// before the first successful build.
func (m *Manager) WithGraph(fn func(*Mapper) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mapper == nil || !m.mapper.Scanned() {
		return ErrNotInitialized
	}
	return fn(m.mapper)
}

// TryWithGraph is WithGraph without waiting: it returns ErrLock when a
// build or update holds the lock.
func (m *Manager) TryWithGraph(fn func(*Mapper) error) error {
	if !m.mu.TryRLock() {
		return ErrLock
	}
	defer m.mu.RUnlock()
	if m.mapper == nil || !m.mapper.Scanned() {
		return ErrNotInitialized
	}
	return fn(m.mapper)
}

// LastChanges reports what the most recent EnsureGraphForPath acted on.
func (m *Manager) LastChanges() Changes {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changes
}

// Snapshot returns a copy of the change-detection snapshot.
func (m *Manager) Snapshot() map[string]FileMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]FileMetadata, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out
}

// Shutdown stops any watcher, releases the graph, and closes the store.
// The Manager cannot be used afterwards.
func (m *Manager) Shutdown() error {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.mapper != nil {
		err = m.mapper.Close()
		m.mapper, m.snapshot = nil, nil
	}
	m.setState(StateShutDown, "")
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
