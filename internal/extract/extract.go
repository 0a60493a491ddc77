// Package extract turns syntax trees into CodeSymbol and SymbolReference
// records.
//
// An Extractor owns its accumulators. Parallel callers create one
// Extractor per file and merge the results afterward.
package extract

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// Extractor accumulates symbols and references for the files passed to it.
type Extractor struct {
	root   string
	parser *runtime.Parser
	logger *slog.Logger

	symbols     map[string]store.CodeSymbol
	references  []store.SymbolReference
	fileSymbols map[string][]string // relpath -> FQNs in source order
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor. File paths recorded in symbols are relative to
// root; an empty root records paths as given. A nil parser gets a private one.
func New(root string, parser *runtime.Parser, opts ...Option) *Extractor {
	if parser == nil {
		parser = runtime.NewParser()
	}
	e := &Extractor{
		root:        root,
		parser:      parser,
		logger:      slog.Default(),
		symbols:     make(map[string]store.CodeSymbol),
		fileSymbols: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractSymbolsFromFile reads path, parses it, and adds its symbols and
// references to the accumulators. Relative paths are resolved against the
// root. Existing entries for the file are replaced. An unchanged file whose
// tree the parser still holds is not reparsed.
func (e *Extractor) ExtractSymbolsFromFile(ctx context.Context, path string) error {
	abs := e.absPath(path)
	parsed, _, err := e.parser.ParseIfNeeded(ctx, abs)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return fileError(e.RelPath(abs), "read", err)
		}
		return fileError(e.RelPath(abs), "parse", err)
	}
	return e.extract(parsed, e.RelPath(abs))
}

// ExtractSource extracts from src as if it were the contents of path.
func (e *Extractor) ExtractSource(ctx context.Context, path string, src []byte) error {
	abs := e.absPath(path)
	parsed, err := e.parser.Parse(ctx, abs, src)
	if err != nil {
		return fileError(e.RelPath(abs), "parse", err)
	}
	return e.extract(parsed, e.RelPath(abs))
}

func (e *Extractor) extract(parsed *runtime.Parsed, rel string) error {
	syms, defs, err := extractDefinitions(parsed, rel)
	if err != nil {
		return fileError(rel, "extract definitions", err)
	}
	refs, err := extractReferences(parsed, rel, defs)
	if err != nil {
		return fileError(rel, "extract references", err)
	}
	syms = append(syms, importSymbols(refs, rel, syms)...)
	resolveLocal(refs, syms)

	e.RemoveSymbolsForFile(rel)
	fqns := make([]string, 0, len(syms))
	for _, s := range syms {
		e.symbols[s.FQN] = s
		fqns = append(fqns, s.FQN)
	}
	e.fileSymbols[rel] = fqns
	e.references = append(e.references, refs...)

	e.logger.Debug("extracted file", "path", rel, "language", parsed.Language,
		"symbols", len(syms), "references", len(refs))
	return nil
}

// Symbols returns the accumulated symbols keyed by FQN.
func (e *Extractor) Symbols() map[string]store.CodeSymbol {
	return e.symbols
}

// References returns the accumulated references. Within a file they are in
// source order.
func (e *Extractor) References() []store.SymbolReference {
	return e.references
}

// Files returns the relative paths extracted so far, sorted.
func (e *Extractor) Files() []string {
	files := make([]string, 0, len(e.fileSymbols))
	for f := range e.fileSymbols {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// SymbolsInFile returns the symbols of one file in source order.
func (e *Extractor) SymbolsInFile(path string) []store.CodeSymbol {
	fqns := e.fileSymbols[e.RelPath(e.absPath(path))]
	out := make([]store.CodeSymbol, 0, len(fqns))
	for _, fqn := range fqns {
		out = append(out, e.symbols[fqn])
	}
	return out
}

// FindMostSpecificContainingSymbol returns the innermost symbol of path whose
// line range contains line.
func (e *Extractor) FindMostSpecificContainingSymbol(path string, line int) (store.CodeSymbol, bool) {
	return MostSpecific(e.SymbolsInFile(path), line)
}

// RemoveSymbolsForFile drops every symbol and reference recorded for path.
func (e *Extractor) RemoveSymbolsForFile(path string) {
	rel := e.RelPath(e.absPath(path))
	for _, fqn := range e.fileSymbols[rel] {
		delete(e.symbols, fqn)
	}
	delete(e.fileSymbols, rel)

	kept := e.references[:0]
	for _, r := range e.references {
		if r.File != rel {
			kept = append(kept, r)
		}
	}
	e.references = kept
}

// RelPath converts a path to the slash-separated form recorded in symbols.
func (e *Extractor) RelPath(path string) string {
	if e.root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(e.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (e *Extractor) absPath(path string) string {
	if e.root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.root, filepath.FromSlash(path))
}

// MostSpecific returns the symbol with the smallest line range containing
// line. Ties go to the later start line, then the smaller FQN. Import
// symbols never contain anything.
func MostSpecific(symbols []store.CodeSymbol, line int) (store.CodeSymbol, bool) {
	var best store.CodeSymbol
	found := false
	for _, s := range symbols {
		if s.Type == store.SymbolImport || !s.Contains(line) {
			continue
		}
		if !found || better(s, best) {
			best, found = s, true
		}
	}
	return best, found
}

func better(a, b store.CodeSymbol) bool {
	if a.Span() != b.Span() {
		return a.Span() < b.Span()
	}
	if a.StartLine != b.StartLine {
		return a.StartLine > b.StartLine
	}
	return a.FQN < b.FQN
}
