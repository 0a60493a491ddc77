package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
)

// DefaultMaxTrees bounds how many syntax trees a Parser keeps for reuse.
const DefaultMaxTrees = 256

// Parsed is the result of parsing one file.
type Parsed struct {
	Path     string
	Language Language
	Tree     *sitter.Tree
	Source   []byte
}

// Root returns the tree's root node.
func (p *Parsed) Root() *sitter.Node {
	return p.Tree.RootNode()
}

type parseEntry struct {
	lang    Language
	modTime time.Time
	size    int64
	tree    *sitter.Tree // nil once evicted from the tree cache
	src     []byte
}

// Parser parses files and remembers, per path, the last parse time and
// (for a bounded number of paths) the last syntax tree. A remembered tree
// is handed to tree-sitter as an edit base on the next parse of the same
// path. Output is identical with or without a base tree.
//
// Parser is safe for concurrent use. Each parse gets its own tree-sitter
// parser, and cached trees are copied before being edited so callers
// holding an earlier tree never observe mutation.
type Parser struct {
	mu        sync.Mutex
	entries   map[string]*parseEntry
	treeOrder []string // paths with a cached tree, oldest first
	maxTrees  int
	tolerant  bool
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithMaxTrees sets how many trees are kept for incremental reparse.
// Zero disables tree reuse.
func WithMaxTrees(n int) ParserOption {
	return func(p *Parser) {
		p.maxTrees = n
	}
}

// WithTolerantParsing accepts trees that contain syntax errors instead of
// reporting ErrParseFailure.
func WithTolerantParsing(tolerant bool) ParserOption {
	return func(p *Parser) {
		p.tolerant = tolerant
	}
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		entries:  make(map[string]*parseEntry),
		maxTrees: DefaultMaxTrees,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses src as the contents of path. Any previous tree for path is
// used as an incremental base.
func (p *Parser) Parse(ctx context.Context, path string, src []byte) (*Parsed, error) {
	return p.parse(ctx, path, src, time.Time{}, int64(len(src)))
}

// ParseFile reads and parses path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Parsed, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.parse(ctx, path, src, info.ModTime(), info.Size())
}

// ParseIfNeeded returns the cached parse for path when the file's
// modification time and size match the last parse, and reparses otherwise.
// reparsed reports which happened.
func (p *Parser) ParseIfNeeded(ctx context.Context, path string) (parsed *Parsed, reparsed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	e, ok := p.entries[path]
	if ok && e.tree != nil && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		parsed = &Parsed{Path: path, Language: e.lang, Tree: e.tree, Source: e.src}
		p.mu.Unlock()
		return parsed, false, nil
	}
	p.mu.Unlock()

	parsed, err = p.ParseFile(ctx, path)
	return parsed, true, err
}

// NeedsReparse reports whether path changed on disk since its last parse.
// Paths never parsed need a parse.
func (p *Parser) NeedsReparse(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[path]
	if !ok {
		return true, nil
	}
	return !e.modTime.Equal(info.ModTime()) || e.size != info.Size(), nil
}

// Forget drops everything remembered about path.
func (p *Parser) Forget(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[path]; ok && e.tree != nil {
		p.dropTreeOrderLocked(path)
	}
	delete(p.entries, path)
}

// Close releases all cached trees.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*parseEntry)
	p.treeOrder = nil
}

func (p *Parser) parse(ctx context.Context, path string, src []byte, modTime time.Time, size int64) (*Parsed, error) {
	lang, ok := LanguageForFile(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}
	grammar, ok := Grammar(lang)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	base := p.editBase(path, lang, src)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, base, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailure, path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: %s: no tree produced", ErrParseFailure, path)
	}
	if !p.tolerant && tree.RootNode().HasError() {
		return nil, fmt.Errorf("%w: %s: %s", ErrParseFailure, path, firstErrorLocation(tree.RootNode()))
	}

	p.remember(path, &parseEntry{lang: lang, modTime: modTime, size: size, tree: tree, src: src})
	return &Parsed{Path: path, Language: lang, Tree: tree, Source: src}, nil
}

// editBase returns a copy of the cached tree for path, edited to describe
// the change from its source to src. Returns nil when there is nothing
// usable to diff against.
func (p *Parser) editBase(path string, lang Language, src []byte) *sitter.Tree {
	p.mu.Lock()
	e, ok := p.entries[path]
	if !ok || e.tree == nil || e.lang != lang {
		p.mu.Unlock()
		return nil
	}
	old, oldSrc := e.tree.Copy(), e.src
	p.mu.Unlock()

	if edit, changed := diffEdit(oldSrc, src); changed {
		old.Edit(edit)
	}
	return old
}

func (p *Parser) remember(path string, e *parseEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.entries[path]; ok && prev.tree != nil {
		p.dropTreeOrderLocked(path)
	}
	if p.maxTrees <= 0 {
		e.tree, e.src = nil, nil
		p.entries[path] = e
		return
	}
	for len(p.treeOrder) >= p.maxTrees {
		oldest := p.treeOrder[0]
		p.treeOrder = p.treeOrder[1:]
		if old, ok := p.entries[oldest]; ok {
			old.tree, old.src = nil, nil
		}
	}
	p.entries[path] = e
	p.treeOrder = append(p.treeOrder, path)
}

func (p *Parser) dropTreeOrderLocked(path string) {
	for i, q := range p.treeOrder {
		if q == path {
			p.treeOrder = append(p.treeOrder[:i], p.treeOrder[i+1:]...)
			return
		}
	}
}

// diffEdit computes the single edit that turns oldSrc into newSrc, using
// the longest common prefix and suffix.
func diffEdit(oldSrc, newSrc []byte) (sitter.EditInput, bool) {
	start := 0
	for start < len(oldSrc) && start < len(newSrc) && oldSrc[start] == newSrc[start] {
		start++
	}
	if start == len(oldSrc) && start == len(newSrc) {
		return sitter.EditInput{}, false
	}
	oldEnd, newEnd := len(oldSrc), len(newSrc)
	for oldEnd > start && newEnd > start && oldSrc[oldEnd-1] == newSrc[newEnd-1] {
		oldEnd--
		newEnd--
	}
	return sitter.EditInput{
		StartIndex:  uint32(start),
		OldEndIndex: uint32(oldEnd),
		NewEndIndex: uint32(newEnd),
		StartPoint:  pointAt(oldSrc, start),
		OldEndPoint: pointAt(oldSrc, oldEnd),
		NewEndPoint: pointAt(newSrc, newEnd),
	}, true
}

// pointAt converts a byte offset to a row/column point.
func pointAt(src []byte, off int) sitter.Point {
	prefix := src[:off]
	row := bytes.Count(prefix, []byte{'\n'})
	col := off - (bytes.LastIndexByte(prefix, '\n') + 1)
	return sitter.Point{Row: uint32(row), Column: uint32(col)}
}

// firstErrorLocation describes the first ERROR or MISSING node in a tree.
func firstErrorLocation(root *sitter.Node) string {
	var walk func(n *sitter.Node) *sitter.Node
	walk = func(n *sitter.Node) *sitter.Node {
		if n.IsError() || n.IsMissing() {
			return n
		}
		if !n.HasError() {
			return nil
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if found := walk(n.Child(i)); found != nil {
				return found
			}
		}
		return nil
	}
	if n := walk(root); n != nil {
		return fmt.Sprintf("syntax error at line %d column %d", n.StartPoint().Row+1, n.StartPoint().Column)
	}
	return "syntax error"
}
