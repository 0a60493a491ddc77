package xref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toolsMain = "package main\n\nfunc f() {\n\tg()\n}\n\nfunc g() {}\n"

func newTestTools(t *testing.T, opts ...ToolsOption) (*Tools, *Manager) {
	t.Helper()
	return newTestToolsWith(t, nil, opts...)
}

func newTestToolsWith(t *testing.T, mopts []ManagerOption, opts ...ToolsOption) (*Tools, *Manager) {
	t.Helper()
	m := newTestManager(t, mopts...)
	tools, err := NewTools(m, opts...)
	require.NoError(t, err)
	t.Cleanup(tools.Close)
	return tools, m
}

func call(t *testing.T, tools *Tools, name string, args any) ToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return tools.Call(context.Background(), name, raw)
}

func requireKind(t *testing.T, res ToolResult, kind ToolErrorKind) {
	t.Helper()
	require.False(t, res.OK(), "expected %s", kind)
	assert.Equal(t, kind, res.Error.Kind)
}

func intp(v int) *int { return &v }

// ===== Dispatch =====

func TestTools_Names(t *testing.T) {
	t.Parallel()
	tools, _ := newTestTools(t)
	assert.Equal(t, []string{
		"analyze_code",
		"find_symbol_references",
		"find_symbol_definitions",
		"get_symbol_subgraph",
		"update_code_graph",
	}, tools.Names())
}

func TestTools_CallRejectsBadInput(t *testing.T) {
	t.Parallel()
	tools, _ := newTestTools(t)

	requireKind(t, tools.Call(context.Background(), "rename_symbol", nil), KindInvalidArguments)
	requireKind(t, tools.Call(context.Background(), ToolFindDefinitions, json.RawMessage(`{"symbol_name": 3}`)), KindInvalidArguments)
	requireKind(t, call(t, tools, ToolFindDefinitions, SymbolArgs{}), KindInvalidArguments)
	requireKind(t, call(t, tools, ToolGetSymbolSubgraph, SubgraphArgs{}), KindInvalidArguments)
}

func TestTools_NotInitialized(t *testing.T) {
	t.Parallel()
	tools, _ := newTestTools(t)

	requireKind(t, call(t, tools, ToolFindDefinitions, SymbolArgs{SymbolName: "g"}), KindNotInitialized)
	requireKind(t, call(t, tools, ToolFindSymbolReferences, SymbolArgs{SymbolName: "g"}), KindNotInitialized)
	requireKind(t, call(t, tools, ToolGetSymbolSubgraph, SubgraphArgs{SymbolName: "g"}), KindNotInitialized)

	res := call(t, tools, ToolUpdateCodeGraph, UpdateArgs{})
	requireKind(t, res, KindNotInitialized)
	payload, ok := res.Payload.(UpdateResult)
	require.True(t, ok)
	assert.Equal(t, "error", payload.Status)
	assert.Equal(t, KindNotInitialized, payload.Error.Kind)
}

// ===== update_code_graph =====

func TestTools_UpdateCodeGraph(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"main.go": toolsMain})
	tools, _ := newTestTools(t)

	res := call(t, tools, ToolUpdateCodeGraph, UpdateArgs{RootPath: root})
	require.True(t, res.OK())
	payload := res.Payload.(UpdateResult)
	assert.Equal(t, "success", payload.Status)
	assert.Contains(t, payload.Message, "Graph built for")
	assert.True(t, payload.Changes.Rebuilt)

	res = call(t, tools, ToolUpdateCodeGraph, UpdateArgs{})
	require.True(t, res.OK())
	assert.Contains(t, res.Payload.(UpdateResult).Message, "is up to date")

	writeFile(t, root, "util.go", "package main\n\nfunc h() {}\n")
	touch(t, root, "main.go", toolsMain+"\nfunc k() {}\n", time.Minute)
	res = call(t, tools, ToolUpdateCodeGraph, UpdateArgs{})
	require.True(t, res.OK())
	payload = res.Payload.(UpdateResult)
	assert.Contains(t, payload.Message, "1 added, 1 modified, 0 deleted")
	assert.Equal(t, []string{"util.go"}, payload.Changes.Added)
}

func TestTools_UpdateCodeGraphMissingRoot(t *testing.T) {
	t.Parallel()
	tools, _ := newTestTools(t)

	res := call(t, tools, ToolUpdateCodeGraph, UpdateArgs{RootPath: filepath.Join(t.TempDir(), "nope")})
	requireKind(t, res, KindIO)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "error", decoded["status"])
	assert.Contains(t, decoded, "error")
}

// ===== Queries =====

func TestTools_FindSymbolDefinitions(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"main.go": toolsMain})
	tools, _ := newTestTools(t)

	res := call(t, tools, ToolFindDefinitions, SymbolArgs{SymbolName: "g", Directory: root})
	require.True(t, res.OK())
	defs := res.Payload.(DefinitionsResult)
	require.Len(t, defs.Definitions, 1)
	require.NotNil(t, defs.Definition)
	assert.Equal(t, "main.go::g", defs.Definition.FQN)
	assert.Equal(t, 7, defs.Definition.StartLine)
	assert.Equal(t, ProjectMain, defs.Definition.ProjectType)

	res = call(t, tools, ToolFindDefinitions, SymbolArgs{SymbolName: "g", SymbolType: "class"})
	require.True(t, res.OK())
	defs = res.Payload.(DefinitionsResult)
	assert.Empty(t, defs.Definitions)
	assert.Nil(t, defs.Definition)

	requireKind(t, call(t, tools, ToolFindDefinitions, SymbolArgs{SymbolName: "g", SymbolType: "widget"}), KindInvalidArguments)
}

func TestTools_FindSymbolReferences(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"main.go": toolsMain})
	tools, _ := newTestTools(t)

	res := call(t, tools, ToolFindSymbolReferences, SymbolArgs{SymbolName: "g", Directory: root})
	require.True(t, res.OK())
	refs := res.Payload.(ReferencesResult)
	require.Len(t, refs.References, 1)
	assert.Equal(t, ReferenceEntry{
		FilePath:      "main.go",
		Line:          4,
		Column:        1,
		ReferenceType: "call",
		ProjectType:   ProjectMain,
		SymbolFQN:     "main.go::g",
	}, refs.References[0])
	assert.Equal(t, 1, refs.Summary.TotalReferences)
	assert.Equal(t, 1, refs.Summary.MainProjectReferences)
	assert.False(t, refs.Summary.CrossProjectBoundariesDetected)
}

func TestTools_CrossProject(t *testing.T) {
	t.Parallel()
	reg, _ := loadedRegistry(t)
	root := writeTree(t, map[string]string{"app.py": extendedApp})
	tools, _ := newTestToolsWith(t, []ManagerOption{WithRegistry(reg)})

	res := call(t, tools, ToolFindSymbolReferences, SymbolArgs{SymbolName: "save", Directory: root})
	require.True(t, res.OK())
	refs := res.Payload.(ReferencesResult)

	var ast *ReferenceEntry
	for i, r := range refs.References {
		if r.DetectionMethod == DetectAST {
			ast = &refs.References[i]
		}
	}
	require.NotNil(t, ast)
	assert.Equal(t, ProjectCross, ast.ProjectType)
	assert.Equal(t, "lib", ast.ProjectName)
	assert.Equal(t, "implementation", ast.ReferenceType)
	assert.Equal(t, "app.py", ast.FilePath)
	assert.Equal(t, 5, ast.Line)
	assert.True(t, refs.Summary.CrossProjectBoundariesDetected)
	assert.Equal(t, 2, refs.Summary.CrossProjectReferences)

	res = call(t, tools, ToolFindDefinitions, SymbolArgs{SymbolName: "User"})
	require.True(t, res.OK())
	defs := res.Payload.(DefinitionsResult)
	require.Len(t, defs.Definitions, 1)
	assert.Equal(t, ProjectCross, defs.Definitions[0].ProjectType)
	assert.Equal(t, "lib::User", defs.Definitions[0].FQN)
}

func TestTools_GetSymbolSubgraphDepth(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"main.go": toolsMain})
	tools, _ := newTestTools(t)
	require.True(t, call(t, tools, ToolUpdateCodeGraph, UpdateArgs{RootPath: root}).OK())

	tests := []struct {
		name string
		args SubgraphArgs
		want int
	}{
		{name: "default", args: SubgraphArgs{}, want: DefaultSubgraphDepth},
		{name: "max_depth", args: SubgraphArgs{MaxDepth: intp(3)}, want: 3},
		{name: "depth alias", args: SubgraphArgs{Depth: intp(1)}, want: 1},
		{name: "max_depth wins", args: SubgraphArgs{MaxDepth: intp(4), Depth: intp(1)}, want: 4},
		{name: "clamped high", args: SubgraphArgs{MaxDepth: intp(9)}, want: MaxSubgraphDepth},
		{name: "clamped low", args: SubgraphArgs{MaxDepth: intp(0)}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.args.SymbolName = "f"
			res := call(t, tools, ToolGetSymbolSubgraph, tt.args)
			require.True(t, res.OK())
			sub := res.Payload.(SubgraphResult)
			assert.Equal(t, tt.want, sub.MaxDepth)
			assert.Contains(t, nodeNames(sub.Graph.Nodes), "g")
		})
	}

	res := call(t, tools, ToolGetSymbolSubgraph, SubgraphArgs{SymbolName: "nothing"})
	require.True(t, res.OK())
	assert.Empty(t, res.Payload.(SubgraphResult).Graph.Nodes)
}

func TestTools_NoWaitReportsLock(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"main.go": toolsMain})
	tools, m := newTestTools(t, WithNoWait())
	require.True(t, call(t, tools, ToolUpdateCodeGraph, UpdateArgs{RootPath: root}).OK())

	m.mu.Lock()
	res := call(t, tools, ToolGetSymbolSubgraph, SubgraphArgs{SymbolName: "f"})
	m.mu.Unlock()
	requireKind(t, res, KindLock)

	assert.True(t, call(t, tools, ToolGetSymbolSubgraph, SubgraphArgs{SymbolName: "f"}).OK())
}

// ===== analyze_code =====

func TestTools_AnalyzeCode(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"svc.py": "class Service:\n    def run(self):\n        pass\n",
	})
	tools, _ := newTestTools(t)
	path := filepath.Join(root, "svc.py")

	res := call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{FilePath: path})
	require.True(t, res.OK())
	out := res.Payload.(AnalyzeCodeResult)
	assert.Equal(t, path, out.FilePath)
	require.Len(t, out.Symbols, 2)
	assert.Equal(t, AnalyzedSymbol{
		Name:       "Service",
		SymbolType: SymbolClass,
		FilePath:   path,
		StartLine:  1,
		EndLine:    3,
	}, out.Symbols[0])
	assert.Equal(t, "run", out.Symbols[1].Name)
	assert.Equal(t, SymbolMethod, out.Symbols[1].SymbolType)
	assert.Equal(t, "Service", out.Symbols[1].Parent)
}

func TestTools_AnalyzeCodeErrors(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{
		"notes.txt": "hello\n",
		"bad.go":    "package bad\n\nfunc {{{\n",
	})
	tools, _ := newTestTools(t)

	requireKind(t, call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{}), KindInvalidArguments)
	requireKind(t, call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{FilePath: filepath.Join(root, "notes.txt")}), KindUnsupportedLanguage)
	requireKind(t, call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{FilePath: filepath.Join(root, "missing.go")}), KindIO)
	requireKind(t, call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{FilePath: filepath.Join(root, "bad.go")}), KindExtraction)
}

// ===== Error taxonomy =====

func TestToolError_Classification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want ToolErrorKind
	}{
		{err: ErrNotInitialized, want: KindNotInitialized},
		{err: fmt.Errorf("wrapped: %w", ErrInvalidArgument), want: KindInvalidArguments},
		{err: ErrLock, want: KindLock},
		{err: ErrUnsupportedLanguage, want: KindUnsupportedLanguage},
		{err: ioError("stat", "a.go", errors.New("boom")), want: KindIO},
		{err: ErrParseFailure, want: KindExtraction},
		{err: &FileError{Path: "a.go", Op: "extract", Err: errors.New("bad")}, want: KindExtraction},
		{err: errors.New("surprise"), want: KindInternal},
		{err: &ToolError{Kind: KindLock, Message: "busy"}, want: KindLock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toolError(tt.err).Kind, tt.err.Error())
	}
}

func TestToolResult_MarshalJSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(failed(ErrLock))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"kind":"lock_error","message":"xref: graph is locked"}}`, string(data))

	data, err = json.Marshal(ToolResult{Payload: SubgraphResult{SymbolName: "f", MaxDepth: 2, Graph: Subgraph{Nodes: []CodeNode{}, Edges: []CodeEdge{}}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol_name":"f","max_depth":2,"graph":{"nodes":[],"edges":[]}}`, string(data))
}

func TestTools_AnalyzeCodeUnsavedContent(t *testing.T) {
	t.Parallel()
	tools, _ := newTestTools(t)
	path := filepath.Join(t.TempDir(), "draft.go")

	res := call(t, tools, ToolAnalyzeCode, AnalyzeCodeArgs{
		FilePath: path,
		Content:  "package draft\n\nfunc Draft() {}\n",
	})
	require.True(t, res.OK())
	out := res.Payload.(AnalyzeCodeResult)
	require.Len(t, out.Symbols, 1)
	assert.Equal(t, "Draft", out.Symbols[0].Name)
	assert.Equal(t, 3, out.Symbols[0].StartLine)
}
