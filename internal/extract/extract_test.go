package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// extractSource runs a fresh Extractor rooted at a temp dir over src.
func extractSource(t *testing.T, name, src string) *Extractor {
	t.Helper()
	e := New(t.TempDir(), nil)
	require.NoError(t, e.ExtractSource(context.Background(), name, []byte(src)))
	return e
}

func symbolByFQN(t *testing.T, e *Extractor, fqn string) store.CodeSymbol {
	t.Helper()
	s, ok := e.Symbols()[fqn]
	require.True(t, ok, "missing symbol %s; have %v", fqn, fqns(e))
	return s
}

func fqns(e *Extractor) []string {
	var out []string
	for fqn := range e.Symbols() {
		out = append(out, fqn)
	}
	return out
}

func refsNamed(e *Extractor, name string) []store.SymbolReference {
	var out []store.SymbolReference
	for _, r := range e.References() {
		if r.SymbolName == name {
			out = append(out, r)
		}
	}
	return out
}

// assertLaminar checks that every parent's range contains its child's.
func assertLaminar(t *testing.T, e *Extractor) {
	t.Helper()
	for _, s := range e.Symbols() {
		assert.LessOrEqual(t, s.StartLine, s.EndLine, s.FQN)
		if s.Parent == "" {
			continue
		}
		p, ok := e.Symbols()[s.Parent]
		if assert.True(t, ok, "parent %s of %s", s.Parent, s.FQN) {
			assert.LessOrEqual(t, p.StartLine, s.StartLine, s.FQN)
			assert.GreaterOrEqual(t, p.EndLine, s.EndLine, s.FQN)
		}
	}
}

const goSource = `package main

import "fmt"

func g() int {
	return 1
}

func f() int {
	return g() + 1
}

type Server struct {
	Host string
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s", s.Host)
}
`

func TestGoExtract_Symbols(t *testing.T) {
	e := extractSource(t, "main.go", goSource)

	g := symbolByFQN(t, e, "main.go::g")
	assert.Equal(t, store.SymbolFunction, g.Type)
	assert.Equal(t, 5, g.StartLine)
	assert.Equal(t, 7, g.EndLine)
	assert.Equal(t, "main.go", g.FilePath)

	srv := symbolByFQN(t, e, "main.go::Server")
	assert.Equal(t, store.SymbolStruct, srv.Type)

	addr := symbolByFQN(t, e, "main.go::Server.Address")
	assert.Equal(t, store.SymbolMethod, addr.Type)
	assert.Equal(t, "Address", addr.Name)
	assert.Empty(t, addr.Parent, "Go methods have no lexical parent")

	imp := symbolByFQN(t, e, "main.go::import.fmt")
	assert.Equal(t, store.SymbolImport, imp.Type)
	assert.Equal(t, 3, imp.StartLine)

	assert.Len(t, e.Symbols(), 5)
	assertLaminar(t, e)
}

func TestGoExtract_LocalCallResolves(t *testing.T) {
	e := extractSource(t, "main.go", goSource)

	calls := refsNamed(e, "g")
	require.Len(t, calls, 1)
	assert.Equal(t, store.RefCall, calls[0].Type)
	assert.Equal(t, "main.go::g", calls[0].SymbolFQN)
	assert.Equal(t, "main.go::f", calls[0].Source)
	assert.Equal(t, 10, calls[0].Line)
	assert.Equal(t, 8, calls[0].Col)
}

func TestGoExtract_ExternalCallStaysUnresolved(t *testing.T) {
	e := extractSource(t, "main.go", goSource)

	calls := refsNamed(e, "Sprintf")
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].SymbolFQN)
	assert.Equal(t, "main.go::Server.Address", calls[0].Source)

	imports := refsNamed(e, "fmt")
	require.Len(t, imports, 1)
	assert.Equal(t, store.RefImport, imports[0].Type)
	assert.Empty(t, imports[0].Source)
}

func TestGoExtract_DefinitionNameIsNotUsage(t *testing.T) {
	e := extractSource(t, "main.go", goSource)

	for _, r := range refsNamed(e, "Server") {
		assert.NotEqual(t, 13, r.Line, "type_spec name must not be recorded as a usage")
	}
}

func TestGoExtract_EmbeddingIsInherits(t *testing.T) {
	e := extractSource(t, "embed.go", `package p

type Base struct{}

type Derived struct {
	Base
	Name string
}
`)
	refs := refsNamed(e, "Base")
	require.Len(t, refs, 1)
	assert.Equal(t, store.RefInherits, refs[0].Type)
	assert.Equal(t, "embed.go::Base", refs[0].SymbolFQN)
	assert.Equal(t, "embed.go::Derived", refs[0].Source)
}

func TestGoExtract_DuplicateFQN(t *testing.T) {
	e := extractSource(t, "init.go", `package p

func init() {}

func init() {}
`)
	symbolByFQN(t, e, "init.go::init")
	dup := symbolByFQN(t, e, "init.go::init@5")
	assert.Equal(t, 5, dup.StartLine)
}

func TestGoExtract_ReferencesInSourceOrder(t *testing.T) {
	e := extractSource(t, "main.go", goSource)

	refs := e.References()
	for i := 1; i < len(refs); i++ {
		prev, cur := refs[i-1], refs[i]
		assert.True(t, prev.Line < cur.Line || (prev.Line == cur.Line && prev.Col <= cur.Col),
			"reference %d out of order", i)
	}
}

func TestGoExtract_AnonymousFunctionsIgnored(t *testing.T) {
	e := extractSource(t, "closure.go", `package p

func outer() func() int {
	return func() int { return 1 }
}
`)
	assert.Len(t, e.Symbols(), 1)
	symbolByFQN(t, e, "closure.go::outer")
}

const pythonSource = `import os

class Base:
    pass

class Service(Base):
    def run(self):
        return helper()

    class Config:
        def load(self):
            pass

def helper():
    return os.getcwd()
`

func TestPythonExtract_ClassesAndMethods(t *testing.T) {
	e := extractSource(t, "svc.py", pythonSource)

	svc := symbolByFQN(t, e, "svc.py::Service")
	assert.Equal(t, store.SymbolClass, svc.Type)
	assert.Equal(t, 6, svc.StartLine)
	assert.Equal(t, 12, svc.EndLine)

	run := symbolByFQN(t, e, "svc.py::Service.run")
	assert.Equal(t, store.SymbolMethod, run.Type)
	assert.Equal(t, "svc.py::Service", run.Parent)

	load := symbolByFQN(t, e, "svc.py::Service.Config.load")
	assert.Equal(t, store.SymbolMethod, load.Type)
	assert.Equal(t, "svc.py::Service.Config", load.Parent)

	helper := symbolByFQN(t, e, "svc.py::helper")
	assert.Equal(t, store.SymbolFunction, helper.Type)
	assert.Empty(t, helper.Parent)

	symbolByFQN(t, e, "svc.py::import.os")
	assertLaminar(t, e)
}

func TestPythonExtract_InheritsAndCalls(t *testing.T) {
	e := extractSource(t, "svc.py", pythonSource)

	inherits := refsNamed(e, "Base")
	require.Len(t, inherits, 1)
	assert.Equal(t, store.RefInherits, inherits[0].Type)
	assert.Equal(t, "svc.py::Base", inherits[0].SymbolFQN)
	assert.Equal(t, "svc.py::Service", inherits[0].Source)

	calls := refsNamed(e, "helper")
	require.Len(t, calls, 1)
	assert.Equal(t, store.RefCall, calls[0].Type)
	assert.Equal(t, "svc.py::helper", calls[0].SymbolFQN)
	assert.Equal(t, "svc.py::Service.run", calls[0].Source)
}

func TestPythonExtract_PrefersNestedCandidate(t *testing.T) {
	e := extractSource(t, "scope.py", `def work():
    pass

class Box:
    def work(self):
        pass

    def go(self):
        work()
`)
	calls := refsNamed(e, "work")
	require.Len(t, calls, 1)
	assert.Equal(t, "scope.py::Box.work", calls[0].SymbolFQN)
}

func TestPythonExtract_SameNamedBaseIsNotSelf(t *testing.T) {
	e := extractSource(t, "models.py", `import lib

class User(lib.User):
    pass
`)
	inherits := refsNamed(e, "User")
	require.Len(t, inherits, 1)
	assert.Equal(t, store.RefInherits, inherits[0].Type)
	assert.Equal(t, "models.py::User", inherits[0].Source)
	assert.Empty(t, inherits[0].SymbolFQN)
}

func TestRustExtract_ImplQualifiesMethods(t *testing.T) {
	e := extractSource(t, "lib.rs", `use std::fmt::Display;

struct Point {
    x: i32,
}

impl Point {
    fn new() -> Point {
        Point { x: 0 }
    }
}

impl Display for Point {
    fn fmt(&self) {}
}
`)
	newFn := symbolByFQN(t, e, "lib.rs::Point.new")
	assert.Equal(t, store.SymbolMethod, newFn.Type)
	assert.Empty(t, newFn.Parent)

	symbolByFQN(t, e, "lib.rs::Point.fmt")
	symbolByFQN(t, e, "lib.rs::import.Display")

	var inherits []store.SymbolReference
	for _, r := range refsNamed(e, "Display") {
		if r.Type == store.RefInherits {
			inherits = append(inherits, r)
		}
	}
	require.Len(t, inherits, 1)
	assert.Equal(t, "lib.rs::Point", inherits[0].Source)
	assertLaminar(t, e)
}

func TestJavaScriptExtract_ClassMethodsAndArrows(t *testing.T) {
	e := extractSource(t, "app.js", `import { x } from './util.js';

class Widget extends Base {
  render() {
    return draw();
  }
}

const draw = () => 1;
`)
	render := symbolByFQN(t, e, "app.js::Widget.render")
	assert.Equal(t, store.SymbolMethod, render.Type)
	assert.Equal(t, "app.js::Widget", render.Parent)

	draw := symbolByFQN(t, e, "app.js::draw")
	assert.Equal(t, store.SymbolFunction, draw.Type)

	symbolByFQN(t, e, "app.js::import.util")

	calls := refsNamed(e, "draw")
	require.Len(t, calls, 1)
	assert.Equal(t, "app.js::draw", calls[0].SymbolFQN)

	inherits := refsNamed(e, "Base")
	require.Len(t, inherits, 1)
	assert.Equal(t, store.RefInherits, inherits[0].Type)
	assert.Empty(t, inherits[0].SymbolFQN)
}

func TestFindMostSpecificContainingSymbol(t *testing.T) {
	e := extractSource(t, "svc.py", pythonSource)

	s, ok := e.FindMostSpecificContainingSymbol("svc.py", 8)
	require.True(t, ok)
	assert.Equal(t, "svc.py::Service.run", s.FQN)

	s, ok = e.FindMostSpecificContainingSymbol("svc.py", 11)
	require.True(t, ok)
	assert.Equal(t, "svc.py::Service.Config.load", s.FQN)

	s, ok = e.FindMostSpecificContainingSymbol("svc.py", 6)
	require.True(t, ok)
	assert.Equal(t, "svc.py::Service", s.FQN)

	_, ok = e.FindMostSpecificContainingSymbol("svc.py", 1)
	assert.False(t, ok, "import lines are not inside any symbol")
}

func TestMostSpecific_TieBreaks(t *testing.T) {
	syms := []store.CodeSymbol{
		{FQN: "a::x", StartLine: 1, EndLine: 3},
		{FQN: "a::y", StartLine: 2, EndLine: 4},
		{FQN: "a::b", StartLine: 2, EndLine: 4},
	}
	s, ok := MostSpecific(syms, 3)
	require.True(t, ok)
	assert.Equal(t, "a::b", s.FQN)

	_, ok = MostSpecific(syms, 9)
	assert.False(t, ok)
}

func TestExtractSymbolsFromFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte(goSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"), []byte(pythonSource), 0o644))

	e := New(root, runtime.NewParser())
	ctx := context.Background()
	require.NoError(t, e.ExtractSymbolsFromFile(ctx, filepath.Join(root, "pkg", "a.go")))
	require.NoError(t, e.ExtractSymbolsFromFile(ctx, "b.py"))

	assert.Equal(t, []string{"b.py", "pkg/a.go"}, e.Files())
	symbolByFQN(t, e, "pkg/a.go::Server.Address")
	symbolByFQN(t, e, "b.py::Service.run")

	for _, r := range e.References() {
		assert.Contains(t, []string{"b.py", "pkg/a.go"}, r.File)
	}
}

func TestExtractReplacesPreviousEntries(t *testing.T) {
	e := extractSource(t, "main.go", goSource)
	before := len(e.References())

	require.NoError(t, e.ExtractSource(context.Background(), "main.go", []byte(goSource)))
	assert.Len(t, e.Symbols(), 5)
	assert.Len(t, e.References(), before)
}

func TestRemoveSymbolsForFile(t *testing.T) {
	e := New(t.TempDir(), nil)
	ctx := context.Background()
	require.NoError(t, e.ExtractSource(ctx, "main.go", []byte(goSource)))
	require.NoError(t, e.ExtractSource(ctx, "svc.py", []byte(pythonSource)))

	e.RemoveSymbolsForFile("main.go")

	assert.Equal(t, []string{"svc.py"}, e.Files())
	for fqn, s := range e.Symbols() {
		assert.Equal(t, "svc.py", s.FilePath, fqn)
	}
	for _, r := range e.References() {
		assert.Equal(t, "svc.py", r.File)
	}
	assert.Empty(t, e.SymbolsInFile("main.go"))
}

func TestExtractErrors(t *testing.T) {
	ctx := context.Background()
	e := New(t.TempDir(), nil)

	err := e.ExtractSource(ctx, "notes.txt", []byte("hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedLanguage)

	err = e.ExtractSource(ctx, "bad.go", []byte("package p\nfunc {{{"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, runtime.ErrParseFailure)

	var fe *FileError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bad.go", fe.Path)
	assert.Equal(t, "parse", fe.Op)

	err = e.ExtractSymbolsFromFile(ctx, "missing.go")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Empty(t, e.Symbols())
}

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		`"fmt"`:                "fmt",
		`"github.com/x/store"`: "store",
		"os.path":              "path",
		"'./utils.js'":         "utils",
		"<stdio.h>":            "stdio",
		"std::fmt":             "fmt",
		"System.Collections":   "Collections",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, LastSegment(in), in)
	}
}
