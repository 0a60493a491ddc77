package xref

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jward/xref/internal/extract"
	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// Mapper indexes one source tree. It owns the symbol table, the reference
// lists, and the CodeReferenceGraph built from them.
//
// When a Tiered store is configured it is the system of record for symbols,
// and the Mapper keeps only the projection needed to build the graph.
//
// A Mapper is not safe for concurrent mutation. The Manager serializes
// access with its read/write lock.
type Mapper struct {
	root         string
	parser       *runtime.Parser
	logger       *slog.Logger
	languages    map[runtime.Language]bool
	excludes     []string
	gitignore    bool
	tolerant     bool
	store        *store.Tiered
	progress     func(done, total int)
	cleanupEvery int
	parallelism  int
	optErr       error

	index       map[string]indexEntry        // fqn -> graph projection
	fileSymbols map[string][]string          // relpath -> FQNs in source order
	byName      map[string][]string          // name -> FQNs
	fileRefs    map[string][]SymbolReference // relpath -> references from extraction
	files       map[string]FileMetadata      // relpath -> metadata at last extraction
	failed      map[string]error             // relpath -> last failure
	consumed    map[UnresolvedReference]bool

	graph      *CodeReferenceGraph
	references []SymbolReference
	unresolved []UnresolvedReference
	scanned    bool
}

type indexEntry struct {
	node   CodeNode
	parent string
}

func (e indexEntry) symbol(fqn string) CodeSymbol {
	return CodeSymbol{
		FQN:       fqn,
		Name:      e.node.Name,
		Type:      SymbolType(e.node.Type),
		FilePath:  e.node.FilePath,
		StartLine: e.node.StartLine,
		EndLine:   e.node.EndLine,
		Parent:    e.parent,
	}
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithLanguages restricts which languages are indexed. An unknown name
// makes NewMapper fail with ErrInvalidArgument; no names means no filter.
func WithLanguages(languages ...string) MapperOption {
	return func(m *Mapper) {
		if len(languages) == 0 {
			m.languages = nil
			return
		}
		m.languages = make(map[runtime.Language]bool, len(languages))
		for _, name := range languages {
			lang, ok := runtime.ParseLanguage(name)
			if !ok {
				m.optErr = errors.Join(m.optErr, fmt.Errorf("%w: unknown language %q", ErrInvalidArgument, name))
				continue
			}
			m.languages[lang] = true
		}
	}
}

// WithExcludes skips files and directories matching any doublestar glob,
// matched against slash-separated paths relative to the root.
func WithExcludes(patterns ...string) MapperOption {
	return func(m *Mapper) {
		m.excludes = append(m.excludes, patterns...)
	}
}

// WithGitignore controls whether .gitignore files are honoured. Default true.
func WithGitignore(enabled bool) MapperOption {
	return func(m *Mapper) {
		m.gitignore = enabled
	}
}

// WithTolerant accepts files whose syntax trees contain errors.
func WithTolerant(tolerant bool) MapperOption {
	return func(m *Mapper) {
		m.tolerant = tolerant
	}
}

// WithStore makes t the system of record for symbols.
func WithStore(t *store.Tiered) MapperOption {
	return func(m *Mapper) {
		m.store = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MapperOption {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// WithProgress registers a callback invoked after every batch with the
// number of files processed so far and the total.
func WithProgress(fn func(done, total int)) MapperOption {
	return func(m *Mapper) {
		m.progress = fn
	}
}

// WithCleanupEvery sets how many batches pass between store cleanups.
// Zero disables periodic cleanup.
func WithCleanupEvery(n int) MapperOption {
	return func(m *Mapper) {
		m.cleanupEvery = n
	}
}

// WithParallelism bounds concurrent extractions within a batch. Values
// below one mean runtime.NumCPU().
func WithParallelism(n int) MapperOption {
	return func(m *Mapper) {
		m.parallelism = n
	}
}

// WithConfig applies the indexing settings of cfg.
func WithConfig(cfg *Config) MapperOption {
	return func(m *Mapper) {
		if len(cfg.Languages) > 0 {
			WithLanguages(cfg.Languages...)(m)
		}
		m.excludes = append(m.excludes, cfg.Exclude...)
		m.gitignore = cfg.RespectGitignore
		m.tolerant = cfg.TolerantParsing
		m.cleanupEvery = cfg.CleanupEvery
	}
}

// NewMapper creates a Mapper for the tree at root.
func NewMapper(root string, opts ...MapperOption) (*Mapper, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ioError("resolve root", root, err)
	}
	m := &Mapper{
		root:         abs,
		logger:       slog.Default(),
		gitignore:    true,
		cleanupEvery: 4,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.optErr != nil {
		return nil, m.optErr
	}
	m.parser = runtime.NewParser(runtime.WithTolerantParsing(m.tolerant))
	m.reset()
	return m, nil
}

func (m *Mapper) reset() {
	m.index = make(map[string]indexEntry)
	m.fileSymbols = make(map[string][]string)
	m.byName = make(map[string][]string)
	m.fileRefs = make(map[string][]SymbolReference)
	m.files = make(map[string]FileMetadata)
	m.failed = make(map[string]error)
	m.consumed = make(map[UnresolvedReference]bool)
	m.graph = NewCodeReferenceGraph()
	m.references = nil
	m.unresolved = nil
}

// Root returns the absolute root directory.
func (m *Mapper) Root() string { return m.root }

// Close releases cached syntax trees and closes the store, if any.
func (m *Mapper) Close() error {
	m.parser.Close()
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// ScanResult summarizes one full or incremental scan.
type ScanResult struct {
	Files     int           `json:"files"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Deleted   int           `json:"deleted,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// FailedFile is a file whose last extraction failed.
type FailedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Stats describes the current index.
type Stats struct {
	Files       int              `json:"files"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Symbols     int              `json:"symbols"`
	References  int              `json:"references"`
	Unresolved  int              `json:"unresolved"`
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	FailedFiles []FailedFile     `json:"failed_files,omitempty"`
	Store       *StoreStatistics `json:"store,omitempty"`
}

// Discover lists the supported files under the root, honouring the skip
// set, .gitignore, excludes, and the language filter.
func (m *Mapper) Discover() ([]string, error) {
	d := &discoverer{
		root:      m.root,
		languages: m.languages,
		excludes:  m.excludes,
		gitignore: m.gitignore,
		logger:    m.logger,
	}
	return d.discover()
}

// MapRepository discards any previous index and scans the whole tree.
// Per-file failures are recorded, not returned.
func (m *Mapper) MapRepository(ctx context.Context) (ScanResult, error) {
	paths, err := m.Discover()
	if err != nil {
		return ScanResult{}, err
	}
	return m.MapFiles(ctx, paths)
}

// MapFiles discards any previous index and indexes paths, as returned by
// Discover.
func (m *Mapper) MapFiles(ctx context.Context, paths []string) (res ScanResult, err error) {
	ctx, span := startSpan(ctx, "Mapper.MapRepository", attribute.String("root", m.root))
	defer func() { endSpan(span, err) }()
	start := time.Now()

	m.reset()
	res, err = m.processFiles(ctx, paths)
	if err != nil {
		return res, err
	}
	m.buildGraph()
	m.scanned = true

	res.Duration = time.Since(start)
	scanDuration.WithLabelValues("full").Observe(res.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("files", res.Files),
		attribute.Int("failed", res.Failed),
	)
	m.logger.Info("repository mapped", "root", m.root, "files", res.Files,
		"succeeded", res.Succeeded, "failed", res.Failed, "duration", res.Duration)
	return res, nil
}

// UpdateRepository rescans the tree and re-extracts only files that are new
// or whose modification time or size changed since their last extraction.
// Files that disappeared are purged.
func (m *Mapper) UpdateRepository(ctx context.Context) (ScanResult, error) {
	paths, err := m.Discover()
	if err != nil {
		return ScanResult{}, err
	}

	present := make(map[string]bool, len(paths))
	var changed []string
	for _, p := range paths {
		rel := m.relPath(p)
		present[rel] = true
		info, err := os.Stat(p)
		if err != nil {
			m.logger.Warn("stat failed, skipping", "path", rel, "error", err)
			continue
		}
		old, known := m.files[rel]
		if !known || old.Changed(metadataFor(rel, info)) {
			changed = append(changed, p)
		}
	}
	var deleted []string
	for rel := range m.files {
		if !present[rel] {
			deleted = append(deleted, rel)
		}
	}
	return m.UpdateFiles(ctx, changed, deleted)
}

// UpdateFiles re-extracts changed (which may include new files) and purges
// deleted, then rebuilds the graph. Paths may be absolute or relative to
// the root. A changed path that no longer exists is treated as deleted.
func (m *Mapper) UpdateFiles(ctx context.Context, changed, deleted []string) (res ScanResult, err error) {
	ctx, span := startSpan(ctx, "Mapper.UpdateFiles",
		attribute.Int("changed", len(changed)), attribute.Int("deleted", len(deleted)))
	defer func() { endSpan(span, err) }()
	start := time.Now()

	gone := make(map[string]bool)
	for _, p := range deleted {
		gone[m.relPath(m.absPath(p))] = true
	}

	var work []string
	for _, p := range changed {
		abs := m.absPath(p)
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			gone[m.relPath(abs)] = true
			continue
		}
		lang, ok := runtime.LanguageForFile(abs)
		if !ok || (m.languages != nil && !m.languages[lang]) {
			continue
		}
		work = append(work, abs)
	}

	for rel := range gone {
		if err := m.removeFile(rel); err != nil {
			return res, err
		}
		delete(m.files, rel)
		delete(m.failed, rel)
		m.parser.Forget(m.absPath(rel))
	}

	res, err = m.processFiles(ctx, work)
	if err != nil {
		return res, err
	}
	res.Deleted = len(gone)
	m.buildGraph()
	m.scanned = true

	res.Duration = time.Since(start)
	scanDuration.WithLabelValues("update").Observe(res.Duration.Seconds())
	m.logger.Info("repository updated", "root", m.root, "changed", res.Files,
		"deleted", res.Deleted, "failed", res.Failed, "duration", res.Duration)
	return res, nil
}

// Scanned reports whether a full scan or update has completed.
func (m *Mapper) Scanned() bool { return m.scanned }

// removeFile drops everything recorded for one file.
func (m *Mapper) removeFile(rel string) error {
	fqns := m.fileSymbols[rel]
	for _, fqn := range fqns {
		entry, ok := m.index[fqn]
		if !ok {
			continue
		}
		m.byName[entry.node.Name] = removeString(m.byName[entry.node.Name], fqn)
		if len(m.byName[entry.node.Name]) == 0 {
			delete(m.byName, entry.node.Name)
		}
		delete(m.index, fqn)
	}
	if m.store != nil && len(fqns) > 0 {
		if err := m.store.RemoveSymbols(fqns); err != nil {
			return fmt.Errorf("xref: remove symbols of %s: %w", rel, err)
		}
	}
	delete(m.fileSymbols, rel)
	delete(m.fileRefs, rel)
	for u := range m.consumed {
		if u.SourceFile == rel {
			delete(m.consumed, u)
		}
	}
	return nil
}

// mergeFile replaces one file's entries with a fresh extraction.
func (m *Mapper) mergeFile(r fileResult) error {
	if err := m.removeFile(r.rel); err != nil {
		return err
	}
	m.files[r.rel] = r.meta
	if r.err != nil {
		m.failed[r.rel] = r.err
		return nil
	}
	delete(m.failed, r.rel)

	fqns := make([]string, 0, len(r.symbols))
	for _, s := range r.symbols {
		m.index[s.FQN] = indexEntry{
			node: CodeNode{
				ID:        SymbolNodeID(s.FQN),
				Name:      s.Name,
				Type:      NodeTypeFor(s.Type),
				FilePath:  s.FilePath,
				StartLine: s.StartLine,
				EndLine:   s.EndLine,
			},
			parent: s.Parent,
		}
		m.byName[s.Name] = append(m.byName[s.Name], s.FQN)
		fqns = append(fqns, s.FQN)
	}
	m.fileSymbols[r.rel] = fqns
	m.fileRefs[r.rel] = r.refs

	if m.store != nil && len(r.symbols) > 0 {
		if err := m.store.StoreSymbols(r.symbols); err != nil {
			return fmt.Errorf("xref: store symbols of %s: %w", r.rel, err)
		}
	}
	return nil
}

// buildGraph derives the graph, the resolved reference list, and the
// unresolved references from the current tables.
func (m *Mapper) buildGraph() {
	g := NewCodeReferenceGraph()

	files := make([]string, 0, len(m.fileSymbols))
	for rel := range m.fileSymbols {
		files = append(files, rel)
	}
	sort.Strings(files)

	stems := make(map[string][]string)
	for _, rel := range files {
		g.AddNode(CodeNode{ID: FileNodeID(rel), Name: rel, Type: NodeFile, FilePath: rel})
		stems[stem(rel)] = append(stems[stem(rel)], rel)
		if dir := filepath.ToSlash(filepath.Dir(rel)); dir != "." {
			base := dir[strings.LastIndexByte(dir, '/')+1:]
			if base != stem(rel) {
				stems[base] = append(stems[base], rel)
			}
		}
		for _, fqn := range m.fileSymbols[rel] {
			g.AddNode(m.index[fqn].node)
		}
	}

	for _, rel := range files {
		for _, fqn := range m.fileSymbols[rel] {
			src := FileNodeID(rel)
			if parent := m.index[fqn].parent; parent != "" {
				src = SymbolNodeID(parent)
			}
			g.AddEdge(CodeEdge{Source: src, Target: SymbolNodeID(fqn), Type: EdgeContains})
		}
	}

	var (
		refs       []SymbolReference
		unresolved []UnresolvedReference
	)
	for _, rel := range files {
		for _, ref := range m.fileRefs[rel] {
			source := FileNodeID(rel)
			if _, ok := m.index[ref.Source]; ok {
				source = SymbolNodeID(ref.Source)
			}

			target := ""
			if ref.SymbolFQN == "" {
				if ref.Type == RefImport {
					target = m.resolveImport(ref, stems)
				} else {
					ref.SymbolFQN = m.resolveName(ref)
				}
			}
			if ref.SymbolFQN != "" {
				target = SymbolNodeID(ref.SymbolFQN)
			}
			refs = append(refs, ref)

			if target == "" {
				u := UnresolvedReference{
					SourceFQN:  ref.Source,
					TargetName: ref.SymbolName,
					Type:       ref.Type,
					SourceFile: rel,
					Line:       ref.Line,
				}
				if u.SourceFQN == "" {
					u.SourceFQN = FileNodeID(rel)
				}
				if !m.consumed[u] {
					unresolved = append(unresolved, u)
				}
				continue
			}
			g.AddEdge(CodeEdge{Source: source, Target: target, Type: EdgeTypeFor(ref.Type)})
		}
	}

	m.graph = g
	m.references = refs
	m.unresolved = unresolved
}

// resolveName picks a target for a reference its own file could not
// resolve: a kind-compatible candidate first, then any candidate. A unique
// candidate wins, then the smallest FQN.
func (m *Mapper) resolveName(ref SymbolReference) string {
	cands := m.byName[ref.SymbolName]
	var fit, all []string
	for _, fqn := range cands {
		t := SymbolType(m.index[fqn].node.Type)
		if t == SymbolImport || (ref.Type == RefInherits && fqn == ref.Source) {
			continue
		}
		all = append(all, fqn)
		if compatible(ref.Type, t) {
			fit = append(fit, fqn)
		}
	}
	if len(fit) == 0 {
		fit = all
	}
	if len(fit) == 0 {
		return ""
	}
	best := fit[0]
	for _, fqn := range fit[1:] {
		if fqn < best {
			best = fqn
		}
	}
	return best
}

func compatible(ref ReferenceType, t SymbolType) bool {
	switch ref {
	case RefCall:
		return t.IsCallable() || t.IsType()
	case RefInherits:
		return t.IsType()
	case RefUsage, RefImport:
		return true
	}
	return true
}

// resolveImport maps an import to a file of the tree whose stem, or whose
// directory name, equals the import's last segment.
func (m *Mapper) resolveImport(ref SymbolReference, stems map[string][]string) string {
	name := extract.LastSegment(ref.SymbolName)
	for _, rel := range stems[name] {
		if rel != ref.File {
			return FileNodeID(rel)
		}
	}
	return ""
}

func (m *Mapper) relPath(abs string) string {
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (m *Mapper) absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.root, filepath.FromSlash(p))
}

func metadataFor(rel string, info fs.FileInfo) FileMetadata {
	return FileMetadata{Path: rel, ModTime: info.ModTime(), Size: info.Size()}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
