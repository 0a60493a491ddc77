package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goTestSource = `package main

import "fmt"

func Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}

func Add(a, b int) int {
	return a + b
}

type Server struct {
	Host string
	Port int
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
`

const pythonTestSource = `import os

class Base:
    pass

class Service(Base):
    def run(self):
        return helper()

def helper():
    return os.getcwd()
`

func TestLanguageForFile(t *testing.T) {
	cases := map[string]Language{
		"main.go":    Go,
		"pkg/x.py":   Python,
		"stubs.pyi":  Python,
		"a.js":       JavaScript,
		"a.jsx":      JavaScript,
		"a.ts":       TypeScript,
		"App.tsx":    TSX,
		"lib.rs":     Rust,
		"Main.java":  Java,
		"x.cpp":      CPP,
		"x.h":        CPP,
		"x.c":        CPP,
		"x.c++":      CPP,
		"x.hxx":      CPP,
		"x.h++":      CPP,
		"gui.pyw":    Python,
		"Program.cs": CSharp,
		"UPPER.GO":   Go,
		"Weird.Py":   Python,
	}
	for path, want := range cases {
		got, ok := LanguageForFile(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}

	for _, path := range []string{"README.md", "Makefile", "x.rb", "noext"} {
		_, ok := LanguageForFile(path)
		assert.False(t, ok, path)
	}
}

func TestParseLanguage(t *testing.T) {
	lang, ok := ParseLanguage("Python")
	require.True(t, ok)
	assert.Equal(t, Python, lang)

	_, ok = ParseLanguage("cobol")
	assert.False(t, ok)
}

func TestGrammarForEveryLanguage(t *testing.T) {
	for _, lang := range Languages {
		g, ok := Grammar(lang)
		assert.True(t, ok, lang)
		assert.NotNil(t, g, lang)
	}
	_, ok := Grammar("cobol")
	assert.False(t, ok)
}

func TestQueriesCompile(t *testing.T) {
	for _, lang := range Languages {
		for _, kind := range []QueryKind{Definitions, References} {
			q, err := Query(lang, kind)
			require.NoError(t, err, "%s %s", lang, kind)
			assert.NotNil(t, q)

			again, err := Query(lang, kind)
			require.NoError(t, err)
			assert.Same(t, q, again, "query should be compiled once")
		}
	}
}

func TestQueryUnsupportedLanguage(t *testing.T) {
	_, err := Query("cobol", Definitions)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestRunQuery_GoDefinitions(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(context.Background(), "main.go", []byte(goTestSource))
	require.NoError(t, err)

	q, err := Query(Go, Definitions)
	require.NoError(t, err)

	names := map[string]string{}
	var receiver string
	for _, m := range RunQuery(q, parsed.Root(), parsed.Source) {
		name, ok := m.Get(CaptureName)
		require.True(t, ok)
		for _, c := range m.Captures {
			if len(c.Name) > len(CaptureDefinition) && c.Name[:len(CaptureDefinition)] == CaptureDefinition {
				names[name.Text] = c.Name[len(CaptureDefinition):]
			}
		}
		if r, ok := m.Get(CaptureReceiver); ok {
			receiver = r.Text
		}
	}

	assert.Equal(t, map[string]string{
		"Greet":   "function",
		"Add":     "function",
		"Server":  "struct",
		"Address": "method",
	}, names)
	assert.Equal(t, "Server", receiver)
}

func TestRunQuery_PredicatesFilter(t *testing.T) {
	src := []byte("const a = require('./a');\nfoo('./b');\n")
	p := NewParser()
	parsed, err := p.Parse(context.Background(), "x.js", src)
	require.NoError(t, err)

	q, err := Query(JavaScript, References)
	require.NoError(t, err)

	var imports []string
	for _, m := range RunQuery(q, parsed.Root(), parsed.Source) {
		if _, ok := m.Get("reference.import"); ok {
			name, _ := m.Get(CaptureName)
			imports = append(imports, name.Text)
		}
	}
	assert.Equal(t, []string{"'./a'"}, imports)
}

func TestCapturePositions(t *testing.T) {
	p := NewParser()
	parsed, err := p.Parse(context.Background(), "x.py", []byte(pythonTestSource))
	require.NoError(t, err)

	q, err := Query(Python, Definitions)
	require.NoError(t, err)

	lines := map[string][2]int{}
	for _, m := range RunQuery(q, parsed.Root(), parsed.Source) {
		name, _ := m.Get(CaptureName)
		for _, c := range m.Captures {
			if c.Name != CaptureName {
				lines[name.Text] = [2]int{c.StartLine, c.EndLine}
			}
		}
	}
	assert.Equal(t, [2]int{3, 4}, lines["Base"])
	assert.Equal(t, [2]int{6, 8}, lines["Service"])
	assert.Equal(t, [2]int{7, 8}, lines["run"])
	assert.Equal(t, [2]int{10, 11}, lines["helper"])
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "notes.txt", []byte("hi"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestParse_SyntaxErrorStrict(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), "bad.go", []byte("package main\nfunc {{{"))
	require.ErrorIs(t, err, ErrParseFailure)
	assert.Contains(t, err.Error(), "bad.go")
}

func TestParse_SyntaxErrorTolerant(t *testing.T) {
	p := NewParser(WithTolerantParsing(true))
	parsed, err := p.Parse(context.Background(), "bad.go", []byte("package main\nfunc {{{"))
	require.NoError(t, err)
	assert.True(t, parsed.Root().HasError())
}

func TestParse_IncrementalMatchesFresh(t *testing.T) {
	ctx := context.Background()
	edited := []byte(goTestSource + "\nfunc Extra() {}\n")

	incremental := NewParser()
	_, err := incremental.Parse(ctx, "main.go", []byte(goTestSource))
	require.NoError(t, err)
	got, err := incremental.Parse(ctx, "main.go", edited)
	require.NoError(t, err)

	want, err := NewParser().Parse(ctx, "main.go", edited)
	require.NoError(t, err)

	assert.Equal(t, want.Root().String(), got.Root().String())
}

func TestParse_IncrementalDoesNotMutatePriorTree(t *testing.T) {
	ctx := context.Background()
	p := NewParser()
	first, err := p.Parse(ctx, "main.go", []byte(goTestSource))
	require.NoError(t, err)
	before := first.Root().String()

	_, err = p.Parse(ctx, "main.go", []byte("package main\n\nfunc Only() {}\n"))
	require.NoError(t, err)

	assert.Equal(t, before, first.Root().String())
}

func TestParse_MaxTreesEvicts(t *testing.T) {
	ctx := context.Background()
	p := NewParser(WithMaxTrees(1))
	_, err := p.Parse(ctx, "a.go", []byte("package a\n"))
	require.NoError(t, err)
	_, err = p.Parse(ctx, "b.go", []byte("package b\n"))
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Nil(t, p.entries["a.go"].tree)
	assert.NotNil(t, p.entries["b.go"].tree)
	assert.Equal(t, []string{"b.go"}, p.treeOrder)
}

func TestParseIfNeeded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte(goTestSource), 0o644))

	p := NewParser()
	needs, err := p.NeedsReparse(path)
	require.NoError(t, err)
	assert.True(t, needs)

	first, reparsed, err := p.ParseIfNeeded(ctx, path)
	require.NoError(t, err)
	assert.True(t, reparsed)

	second, reparsed, err := p.ParseIfNeeded(ctx, path)
	require.NoError(t, err)
	assert.False(t, reparsed)
	assert.Same(t, first.Tree, second.Tree)

	require.NoError(t, os.WriteFile(path, []byte(goTestSource+"\nfunc More() {}\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err = p.NeedsReparse(path)
	require.NoError(t, err)
	assert.True(t, needs)

	third, reparsed, err := p.ParseIfNeeded(ctx, path)
	require.NoError(t, err)
	assert.True(t, reparsed)
	assert.Contains(t, string(third.Source), "More")

	p.Forget(path)
	needs, err = p.NeedsReparse(path)
	require.NoError(t, err)
	assert.True(t, needs)
}

func TestParseIfNeeded_MissingFile(t *testing.T) {
	_, _, err := NewParser().ParseIfNeeded(context.Background(), filepath.Join(t.TempDir(), "gone.go"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiffEdit(t *testing.T) {
	_, changed := diffEdit([]byte("same"), []byte("same"))
	assert.False(t, changed)

	edit, changed := diffEdit([]byte("ab\ncd\nef"), []byte("ab\ncXd\nef"))
	require.True(t, changed)
	assert.Equal(t, uint32(4), edit.StartIndex)
	assert.Equal(t, uint32(4), edit.OldEndIndex)
	assert.Equal(t, uint32(5), edit.NewEndIndex)
	assert.Equal(t, sitter.Point{Row: 1, Column: 1}, edit.StartPoint)
	assert.Equal(t, sitter.Point{Row: 1, Column: 2}, edit.NewEndPoint)

	edit, changed = diffEdit([]byte("abc"), []byte("a"))
	require.True(t, changed)
	assert.Equal(t, uint32(1), edit.StartIndex)
	assert.Equal(t, uint32(3), edit.OldEndIndex)
	assert.Equal(t, uint32(1), edit.NewEndIndex)
}

func TestScorer(t *testing.T) {
	ctx := context.Background()

	s := NewScorer(`default_confidence`)
	v, err := s.Score(ctx, "wrapper", []string{"delegates_call"}, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v, 1e-9)

	s = NewScorer(`
func score() {
	if category == "wrapper" && pattern_count > 1 {
		return 0.95
	}
	return default_confidence
}
score()`)
	v, err = s.Score(ctx, "wrapper", []string{"delegates_call", "forwards_args"}, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, v, 1e-9)

	v, err = s.Score(ctx, "implementation", nil, 0.9)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, v, 1e-9)
}

func TestScorer_Clamps(t *testing.T) {
	v, err := NewScorer(`7`).Score(context.Background(), "x", nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = NewScorer(`-0.5`).Score(context.Background(), "x", nil, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestScorer_Errors(t *testing.T) {
	_, err := NewScorer(`"high"`).Score(context.Background(), "x", nil, 0.5)
	assert.Error(t, err)

	_, err = NewScorer(`this is not risor (`).Score(context.Background(), "x", nil, 0.5)
	assert.Error(t, err)
}

func TestScorer_ImportFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"weights.risor": &fstest.MapFile{Data: []byte("boost := 0.05\n")},
	}
	s := NewScorer(`
import weights
default_confidence + weights.boost`, WithScorerFS(fsys))
	v, err := s.Score(context.Background(), "wrapper", nil, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, v, 1e-9)
}

func TestLoadScorer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confidence.risor")
	require.NoError(t, os.WriteFile(path, []byte(`len(patterns) * 0.25`), 0o644))

	s, err := LoadScorer(path)
	require.NoError(t, err)
	v, err := s.Score(context.Background(), "wrapper", []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-9)

	_, err = LoadScorer(filepath.Join(dir, "missing.risor"))
	assert.Error(t, err)
}

func TestScorer_EmptyScriptReturnsDefault(t *testing.T) {
	v, err := NewScorer("  \n").Score(context.Background(), "wrapper", nil, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)
}
