package xref

import (
	"fmt"
	"sort"
	"strings"
)

// Symbol returns the symbol with the given FQN. With a store configured the
// store is consulted, so cold entries are promoted.
func (m *Mapper) Symbol(fqn string) (CodeSymbol, bool, error) {
	entry, ok := m.index[fqn]
	if !ok {
		return CodeSymbol{}, false, nil
	}
	if m.store == nil {
		return entry.symbol(fqn), true, nil
	}
	sym, ok, err := m.store.GetSymbol(fqn)
	if err != nil {
		return CodeSymbol{}, false, fmt.Errorf("xref: load symbol %s: %w", fqn, err)
	}
	if !ok {
		return entry.symbol(fqn), true, nil
	}
	return sym, true, nil
}

// FindDefinitions returns the symbols named name, optionally restricted to
// one type, ordered by file, line, and FQN. Import symbols are only
// returned when typ is SymbolImport.
func (m *Mapper) FindDefinitions(name string, typ SymbolType) []CodeSymbol {
	var out []CodeSymbol
	for _, fqn := range m.byName[name] {
		entry := m.index[fqn]
		t := SymbolType(entry.node.Type)
		if typ != "" && t != typ {
			continue
		}
		if typ == "" && t == SymbolImport {
			continue
		}
		out = append(out, entry.symbol(fqn))
	}
	sortSymbols(out)
	return out
}

// FindReferences returns the references to name. When typ is set only
// references resolved to a symbol of that type are returned.
func (m *Mapper) FindReferences(name string, typ SymbolType) []SymbolReference {
	var out []SymbolReference
	for _, r := range m.references {
		if r.SymbolName != name {
			continue
		}
		if typ != "" {
			entry, ok := m.index[r.SymbolFQN]
			if !ok || SymbolType(entry.node.Type) != typ {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// ReferencesMatching returns the references whose name contains substr.
func (m *Mapper) ReferencesMatching(substr string) []SymbolReference {
	var out []SymbolReference
	for _, r := range m.references {
		if strings.Contains(r.SymbolName, substr) {
			out = append(out, r)
		}
	}
	return out
}

// References returns every reference ordered by file, line, and column,
// with cross-file targets filled in.
func (m *Mapper) References() []SymbolReference {
	return m.references
}

// SymbolsInFile returns one file's symbols in source order.
func (m *Mapper) SymbolsInFile(path string) []CodeSymbol {
	rel := m.relPath(m.absPath(path))
	fqns := m.fileSymbols[rel]
	out := make([]CodeSymbol, 0, len(fqns))
	for _, fqn := range fqns {
		out = append(out, m.index[fqn].symbol(fqn))
	}
	return out
}

// Symbols returns every indexed symbol ordered by file, line, and FQN.
func (m *Mapper) Symbols() []CodeSymbol {
	out := make([]CodeSymbol, 0, len(m.index))
	for fqn, entry := range m.index {
		out = append(out, entry.symbol(fqn))
	}
	sortSymbols(out)
	return out
}

// Files returns the successfully extracted files, sorted.
func (m *Mapper) Files() []string {
	files := make([]string, 0, len(m.fileSymbols))
	for rel := range m.fileSymbols {
		files = append(files, rel)
	}
	sort.Strings(files)
	return files
}

// FileMetadata returns the metadata recorded for every processed file,
// including files that failed.
func (m *Mapper) FileMetadata() map[string]FileMetadata {
	out := make(map[string]FileMetadata, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

// Unresolved returns references with no target in this tree that have not
// been consumed by ConsumeUnresolved.
func (m *Mapper) Unresolved() []UnresolvedReference {
	return m.unresolved
}

// ConsumeUnresolved removes us from the unresolved list. They stay removed
// until their source file is re-extracted.
func (m *Mapper) ConsumeUnresolved(us []UnresolvedReference) {
	if len(us) == 0 {
		return
	}
	drop := make(map[UnresolvedReference]bool, len(us))
	for _, u := range us {
		drop[u] = true
		m.consumed[u] = true
	}
	kept := make([]UnresolvedReference, 0, len(m.unresolved))
	for _, u := range m.unresolved {
		if !drop[u] {
			kept = append(kept, u)
		}
	}
	m.unresolved = kept
}

// FailedFiles returns the files whose last extraction failed, sorted.
func (m *Mapper) FailedFiles() []FailedFile {
	out := make([]FailedFile, 0, len(m.failed))
	for rel, err := range m.failed {
		out = append(out, FailedFile{Path: rel, Error: err.Error()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Stats describes the current index.
func (m *Mapper) Stats() Stats {
	st := Stats{
		Files:       len(m.files),
		Succeeded:   len(m.fileSymbols),
		Failed:      len(m.failed),
		Symbols:     len(m.index),
		References:  len(m.references),
		Unresolved:  len(m.unresolved),
		Nodes:       len(m.graph.Nodes),
		Edges:       len(m.graph.Edges),
		FailedFiles: m.FailedFiles(),
	}
	if m.store != nil {
		s := m.store.GetStatistics()
		st.Store = &s
	}
	return st
}

func sortSymbols(syms []CodeSymbol) {
	sort.Slice(syms, func(i, j int) bool {
		a, b := syms[i], syms[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.FQN < b.FQN
	})
}
