package xref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jward/xref/internal/extract"
	"github.com/jward/xref/internal/runtime"
	"github.com/jward/xref/internal/store"
)

// Tool names.
const (
	ToolAnalyzeCode          = "analyze_code"
	ToolFindSymbolReferences = "find_symbol_references"
	ToolFindDefinitions      = "find_symbol_definitions"
	ToolGetSymbolSubgraph    = "get_symbol_subgraph"
	ToolUpdateCodeGraph      = "update_code_graph"
)

// DefaultSubgraphDepth is used when get_symbol_subgraph gets no depth.
const DefaultSubgraphDepth = 2

// Project types reported on references and definitions.
const (
	ProjectMain  = "main"
	ProjectCross = "cross-project"
)

// ToolErrorKind classifies a failed tool call.
type ToolErrorKind string

const (
	KindNotInitialized      ToolErrorKind = "not_initialized"
	KindInvalidArguments    ToolErrorKind = "invalid_arguments"
	KindExtraction          ToolErrorKind = "extraction_error"
	KindUnsupportedLanguage ToolErrorKind = "unsupported_language"
	KindIO                  ToolErrorKind = "io_error"
	KindLock                ToolErrorKind = "lock_error"
	KindInternal            ToolErrorKind = "internal"
)

// ToolError is the structured failure of a tool call.
type ToolError struct {
	Kind    ToolErrorKind `json:"kind"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// ToolResult is either a success payload or a ToolError. It marshals as
// the payload, or as {"error": {...}} when there is no payload.
type ToolResult struct {
	Payload any
	Error   *ToolError
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool { return r.Error == nil }

func (r ToolResult) MarshalJSON() ([]byte, error) {
	if r.Payload != nil {
		return json.Marshal(r.Payload)
	}
	return json.Marshal(struct {
		Error *ToolError `json:"error"`
	}{r.Error})
}

func failed(err error) ToolResult {
	return ToolResult{Error: toolError(err)}
}

// toolError maps an error onto the taxonomy.
func toolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	kind := KindInternal
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, ErrNotInitialized):
		kind = KindNotInitialized
	case errors.Is(err, ErrInvalidArgument):
		kind = KindInvalidArguments
	case errors.Is(err, ErrLock):
		kind = KindLock
	case errors.Is(err, ErrUnsupportedLanguage):
		kind = KindUnsupportedLanguage
	case errors.Is(err, ErrIO), errors.Is(err, fs.ErrNotExist), errors.As(err, &pathErr):
		kind = KindIO
	case errors.Is(err, ErrParseFailure), errors.Is(err, ErrExtraction):
		kind = KindExtraction
	}
	return &ToolError{Kind: kind, Message: err.Error()}
}

func invalidArgs(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

// Arguments.

type AnalyzeCodeArgs struct {
	FilePath string `json:"file_path" jsonschema:"absolute or working-directory relative path of the file to analyze"`
	Content  string `json:"content,omitempty" jsonschema:"optional unsaved file contents; analyzed instead of the file on disk"`
}

type SymbolArgs struct {
	SymbolName string `json:"symbol_name" jsonschema:"name of the symbol"`
	SymbolType string `json:"symbol_type,omitempty" jsonschema:"optional symbol type filter: function, method, class, struct, enum, interface, module, import"`
	Directory  string `json:"directory,omitempty" jsonschema:"optional project root; the graph is built or refreshed for it first"`
}

type SubgraphArgs struct {
	SymbolName string `json:"symbol_name" jsonschema:"name of the symbol at the center of the subgraph"`
	MaxDepth   *int   `json:"max_depth,omitempty" jsonschema:"traversal depth, 1 to 5, default 2"`
	Depth      *int   `json:"depth,omitempty" jsonschema:"alias for max_depth"`
	Directory  string `json:"directory,omitempty" jsonschema:"optional project root; the graph is built or refreshed for it first"`
}

type UpdateArgs struct {
	RootPath string `json:"root_path,omitempty" jsonschema:"project root; defaults to the current root"`
}

// Results.

type AnalyzedSymbol struct {
	Name       string     `json:"name"`
	SymbolType SymbolType `json:"symbol_type"`
	FilePath   string     `json:"file_path"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	Parent     string     `json:"parent,omitempty"`
}

type AnalyzeCodeResult struct {
	FilePath string           `json:"file_path"`
	Symbols  []AnalyzedSymbol `json:"symbols"`
}

// ReferenceEntry is one find_symbol_references result. Main-project
// references carry a position; cross-project entries carry the
// supplementary symbol and the evidence for the link.
type ReferenceEntry struct {
	FilePath        string   `json:"file_path"`
	Line            int      `json:"line"`
	Column          int      `json:"column"`
	ReferenceType   string   `json:"reference_type"`
	ProjectType     string   `json:"project_type"`
	ProjectName     string   `json:"project_name,omitempty"`
	SymbolFQN       string   `json:"symbol_fqn,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	DetectionMethod string   `json:"detection_method,omitempty"`
	ASTPatterns     []string `json:"ast_patterns,omitempty"`
}

type ReferencesSummary struct {
	TotalReferences                int  `json:"total_references"`
	MainProjectReferences          int  `json:"main_project_references"`
	CrossProjectReferences         int  `json:"cross_project_references"`
	StrongRelationships            int  `json:"strong_relationships"`
	CrossProjectBoundariesDetected bool `json:"cross_project_boundaries_detected"`
}

type ReferencesResult struct {
	SymbolName string            `json:"symbol_name"`
	References []ReferenceEntry  `json:"references"`
	Summary    ReferencesSummary `json:"summary"`
}

type DefinitionEntry struct {
	FilePath    string     `json:"file_path"`
	StartLine   int        `json:"start_line"`
	EndLine     int        `json:"end_line"`
	SymbolType  SymbolType `json:"symbol_type"`
	FQN         string     `json:"fqn"`
	ProjectType string     `json:"project_type"`
	ProjectName string     `json:"project_name,omitempty"`
}

// DefinitionsResult lists every definition. Definition repeats the first
// one for callers that expect a single answer.
type DefinitionsResult struct {
	SymbolName  string            `json:"symbol_name"`
	Definitions []DefinitionEntry `json:"definitions"`
	Definition  *DefinitionEntry  `json:"definition,omitempty"`
}

type SubgraphResult struct {
	SymbolName string   `json:"symbol_name"`
	MaxDepth   int      `json:"max_depth"`
	Graph      Subgraph `json:"graph"`
}

type UpdateResult struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Changes *Changes   `json:"changes,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// Tools exposes the five operations over a Manager.
type Tools struct {
	manager *Manager
	parser  *runtime.Parser
	scorer  *runtime.Scorer
	nowait  bool
	logger  *slog.Logger
}

// ToolsOption configures Tools.
type ToolsOption func(*Tools)

// WithToolsLogger sets the logger.
func WithToolsLogger(logger *slog.Logger) ToolsOption {
	return func(t *Tools) {
		t.logger = logger
	}
}

// WithNoWait makes graph queries fail with lock_error instead of waiting
// while a build or update is running.
func WithNoWait() ToolsOption {
	return func(t *Tools) {
		t.nowait = true
	}
}

// NewTools creates the tool facade. The manager's configuration supplies
// parsing options and the optional confidence script.
func NewTools(manager *Manager, opts ...ToolsOption) (*Tools, error) {
	t := &Tools{
		manager: manager,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	cfg := manager.Config()
	t.parser = runtime.NewParser(cfg.parserOptions()...)
	if cfg.ConfidenceScript != "" {
		s, err := runtime.LoadScorer(cfg.ConfidenceScript, runtime.WithScorerLogger(t.logger))
		if err != nil {
			return nil, fmt.Errorf("xref: %w", err)
		}
		t.scorer = s
	}
	return t, nil
}

// Close releases the parser used by analyze_code.
func (t *Tools) Close() {
	t.parser.Close()
}

// Names returns the tool names in a stable order.
func (t *Tools) Names() []string {
	return []string{
		ToolAnalyzeCode,
		ToolFindSymbolReferences,
		ToolFindDefinitions,
		ToolGetSymbolSubgraph,
		ToolUpdateCodeGraph,
	}
}

// Call dispatches a tool by name with JSON arguments.
func (t *Tools) Call(ctx context.Context, name string, args json.RawMessage) ToolResult {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	decode := func(v any) error {
		if err := json.Unmarshal(args, v); err != nil {
			return invalidArgs("decoding %s arguments: %v", name, err)
		}
		return nil
	}

	switch name {
	case ToolAnalyzeCode:
		var a AnalyzeCodeArgs
		if err := decode(&a); err != nil {
			return t.finish(name, failed(err))
		}
		return t.AnalyzeCode(ctx, a)
	case ToolFindSymbolReferences:
		var a SymbolArgs
		if err := decode(&a); err != nil {
			return t.finish(name, failed(err))
		}
		return t.FindSymbolReferences(ctx, a)
	case ToolFindDefinitions:
		var a SymbolArgs
		if err := decode(&a); err != nil {
			return t.finish(name, failed(err))
		}
		return t.FindSymbolDefinitions(ctx, a)
	case ToolGetSymbolSubgraph:
		var a SubgraphArgs
		if err := decode(&a); err != nil {
			return t.finish(name, failed(err))
		}
		return t.GetSymbolSubgraph(ctx, a)
	case ToolUpdateCodeGraph:
		var a UpdateArgs
		if err := decode(&a); err != nil {
			return t.finish(name, failed(err))
		}
		return t.UpdateCodeGraph(ctx, a)
	}
	return t.finish(name, failed(invalidArgs("unknown tool %q", name)))
}

func (t *Tools) finish(name string, res ToolResult) ToolResult {
	result := "ok"
	if res.Error != nil {
		result = string(res.Error.Kind)
		t.logger.Debug("tool failed", "tool", name, "kind", res.Error.Kind, "error", res.Error.Message)
	}
	toolCalls.WithLabelValues(name, result).Inc()
	return res
}

// AnalyzeCode parses one file, or the unsaved content given for it, and
// lists its symbols. It does not need a graph.
func (t *Tools) AnalyzeCode(ctx context.Context, args AnalyzeCodeArgs) (res ToolResult) {
	defer func() { res = t.finish(ToolAnalyzeCode, res) }()
	if args.FilePath == "" {
		return failed(invalidArgs("file_path is required"))
	}
	abs, err := filepath.Abs(args.FilePath)
	if err != nil {
		return failed(ioError("resolve", args.FilePath, err))
	}
	if _, ok := runtime.LanguageForFile(abs); !ok {
		return failed(fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filepath.Ext(abs)))
	}

	ctx, span := startSpan(ctx, "Tools.analyze_code", attribute.String("path", abs))
	ex := extract.New(filepath.Dir(abs), t.parser, extract.WithLogger(t.logger))
	if args.Content != "" {
		err = ex.ExtractSource(ctx, abs, []byte(args.Content))
	} else {
		err = ex.ExtractSymbolsFromFile(ctx, abs)
	}
	endSpan(span, err)
	if err != nil {
		return failed(err)
	}

	syms := ex.SymbolsInFile(filepath.Base(abs))
	out := AnalyzeCodeResult{FilePath: args.FilePath, Symbols: make([]AnalyzedSymbol, 0, len(syms))}
	for _, s := range syms {
		out.Symbols = append(out.Symbols, AnalyzedSymbol{
			Name:       s.Name,
			SymbolType: s.Type,
			FilePath:   args.FilePath,
			StartLine:  s.StartLine,
			EndLine:    s.EndLine,
			Parent:     localName(s.Parent),
		})
	}
	return ToolResult{Payload: out}
}

// localName strips the file prefix from an FQN.
func localName(fqn string) string {
	if i := strings.Index(fqn, "::"); i >= 0 {
		return fqn[i+2:]
	}
	return fqn
}

// FindSymbolReferences reports exact-name references in the main project,
// followed by cross-project relationships from the registry.
func (t *Tools) FindSymbolReferences(ctx context.Context, args SymbolArgs) (res ToolResult) {
	defer func() { res = t.finish(ToolFindSymbolReferences, res) }()
	typ, err := t.prepare(ctx, args)
	if err != nil {
		return failed(err)
	}

	out := ReferencesResult{SymbolName: args.SymbolName, References: []ReferenceEntry{}}
	err = t.withGraph(func(m *Mapper) error {
		for _, r := range m.FindReferences(args.SymbolName, typ) {
			out.References = append(out.References, ReferenceEntry{
				FilePath:      r.File,
				Line:          r.Line,
				Column:        r.Col,
				ReferenceType: string(r.Type),
				ProjectType:   ProjectMain,
				SymbolFQN:     r.SymbolFQN,
			})
		}
		out.Summary.MainProjectReferences = len(out.References)

		reg := t.manager.Registry()
		if reg == nil {
			return nil
		}
		rel := t.relationships(m, reg).Query(ctx, args.SymbolName)
		for _, c := range rel.CrossProjectRelationships {
			out.References = append(out.References, ReferenceEntry{
				FilePath:        c.FilePath,
				Line:            c.StartLine,
				ReferenceType:   c.RelationshipType,
				ProjectType:     ProjectCross,
				ProjectName:     c.ProjectName,
				SymbolFQN:       c.SymbolFQN,
				Confidence:      c.Confidence,
				DetectionMethod: c.DetectionMethod,
			})
		}
		for _, a := range rel.ASTRelationships {
			line := 0
			if sym, ok, _ := m.Symbol(a.MainSymbolFQN); ok {
				line = sym.StartLine
			}
			out.References = append(out.References, ReferenceEntry{
				FilePath:        a.MainFilePath,
				Line:            line,
				ReferenceType:   string(a.RelationshipType),
				ProjectType:     ProjectCross,
				ProjectName:     a.ProjectName,
				SymbolFQN:       a.CrossSymbolFQN,
				Confidence:      a.Confidence,
				DetectionMethod: a.DetectionMethod,
				ASTPatterns:     a.ASTPatterns,
			})
		}
		out.Summary.CrossProjectReferences = len(rel.CrossProjectRelationships) + len(rel.ASTRelationships)
		out.Summary.StrongRelationships = rel.Summary.StrongRelationships
		out.Summary.CrossProjectBoundariesDetected = rel.Summary.CrossProjectBoundariesDetected
		return nil
	})
	if err != nil {
		return failed(err)
	}
	out.Summary.TotalReferences = len(out.References)
	return ToolResult{Payload: out}
}

// FindSymbolDefinitions reports main-project definitions, then exact-name
// definitions from the registry.
func (t *Tools) FindSymbolDefinitions(ctx context.Context, args SymbolArgs) (res ToolResult) {
	defer func() { res = t.finish(ToolFindDefinitions, res) }()
	typ, err := t.prepare(ctx, args)
	if err != nil {
		return failed(err)
	}

	out := DefinitionsResult{SymbolName: args.SymbolName, Definitions: []DefinitionEntry{}}
	err = t.withGraph(func(m *Mapper) error {
		for _, s := range m.FindDefinitions(args.SymbolName, typ) {
			out.Definitions = append(out.Definitions, DefinitionEntry{
				FilePath:    s.FilePath,
				StartLine:   s.StartLine,
				EndLine:     s.EndLine,
				SymbolType:  s.Type,
				FQN:         s.FQN,
				ProjectType: ProjectMain,
			})
		}
		reg := t.manager.Registry()
		if reg == nil {
			return nil
		}
		for _, s := range reg.SymbolsNamed(args.SymbolName) {
			if typ != "" && s.Type != typ {
				continue
			}
			out.Definitions = append(out.Definitions, DefinitionEntry{
				FilePath:    s.FilePath,
				StartLine:   s.StartLine,
				EndLine:     s.EndLine,
				SymbolType:  s.Type,
				FQN:         s.FQN,
				ProjectType: ProjectCross,
				ProjectName: s.ProjectName,
			})
		}
		return nil
	})
	if err != nil {
		return failed(err)
	}
	if len(out.Definitions) > 0 {
		first := out.Definitions[0]
		out.Definition = &first
	}
	return ToolResult{Payload: out}
}

// GetSymbolSubgraph returns the neighbourhood of every symbol with the
// given name. An unknown name yields an empty graph.
func (t *Tools) GetSymbolSubgraph(ctx context.Context, args SubgraphArgs) (res ToolResult) {
	defer func() { res = t.finish(ToolGetSymbolSubgraph, res) }()
	if args.SymbolName == "" {
		return failed(invalidArgs("symbol_name is required"))
	}
	depth := DefaultSubgraphDepth
	switch {
	case args.MaxDepth != nil:
		depth = *args.MaxDepth
	case args.Depth != nil:
		depth = *args.Depth
	}
	depth = min(max(depth, 1), MaxSubgraphDepth)

	if err := t.ensure(ctx, args.Directory); err != nil {
		return failed(err)
	}
	out := SubgraphResult{SymbolName: args.SymbolName, MaxDepth: depth}
	err := t.withGraph(func(m *Mapper) error {
		out.Graph = m.SubgraphBFS(args.SymbolName, depth)
		return nil
	})
	if err != nil {
		return failed(err)
	}
	return ToolResult{Payload: out}
}

// UpdateCodeGraph builds or refreshes the graph for root_path, or for the
// current root when none is given.
func (t *Tools) UpdateCodeGraph(ctx context.Context, args UpdateArgs) (res ToolResult) {
	defer func() { res = t.finish(ToolUpdateCodeGraph, res) }()
	root := args.RootPath
	if root == "" {
		root = t.manager.Root()
	}
	if root == "" {
		return updateFailed(fmt.Errorf("%w: no root_path given and no graph has been built", ErrNotInitialized))
	}
	if err := t.manager.EnsureGraphForPath(ctx, root); err != nil {
		return updateFailed(err)
	}

	changes := t.manager.LastChanges()
	var msg string
	err := t.withGraph(func(m *Mapper) error {
		st := m.Stats()
		switch {
		case changes.Rebuilt:
			msg = fmt.Sprintf("Graph built for %s: %d files (%d failed), %d symbols, %d nodes, %d edges",
				m.Root(), st.Files, st.Failed, st.Symbols, st.Nodes, st.Edges)
		case changes.Empty():
			msg = fmt.Sprintf("Graph for %s is up to date: %d files, %d symbols", m.Root(), st.Files, st.Symbols)
		default:
			msg = fmt.Sprintf("Graph updated for %s: %d added, %d modified, %d deleted; %d files, %d symbols",
				m.Root(), len(changes.Added), len(changes.Modified), len(changes.Deleted), st.Files, st.Symbols)
		}
		return nil
	})
	if err != nil {
		return updateFailed(err)
	}
	return ToolResult{Payload: UpdateResult{Status: "success", Message: msg, Changes: &changes}}
}

func updateFailed(err error) ToolResult {
	te := toolError(err)
	return ToolResult{
		Payload: UpdateResult{Status: "error", Message: te.Message, Error: te},
		Error:   te,
	}
}

// prepare validates symbol arguments and makes sure a graph exists.
func (t *Tools) prepare(ctx context.Context, args SymbolArgs) (SymbolType, error) {
	if args.SymbolName == "" {
		return "", invalidArgs("symbol_name is required")
	}
	var typ SymbolType
	if args.SymbolType != "" {
		parsed, err := store.ParseSymbolType(args.SymbolType)
		if err != nil {
			return "", invalidArgs("%v", err)
		}
		typ = parsed
	}
	return typ, t.ensure(ctx, args.Directory)
}

// ensure builds or refreshes the graph for dir. Without dir the current
// graph is used as is.
func (t *Tools) ensure(ctx context.Context, dir string) error {
	if dir != "" {
		return t.manager.EnsureGraphForPath(ctx, dir)
	}
	if t.manager.Root() == "" {
		return fmt.Errorf("%w: call update_code_graph or pass directory first", ErrNotInitialized)
	}
	return nil
}

func (t *Tools) withGraph(fn func(*Mapper) error) error {
	if t.nowait {
		return t.manager.TryWithGraph(fn)
	}
	return t.manager.WithGraph(fn)
}

func (t *Tools) relationships(m *Mapper, reg *SupplementaryRegistry) *RelationshipQuery {
	opts := []RelationshipOption{
		WithConfidence(t.manager.Config().Confidence),
		WithRelationshipLogger(t.logger),
	}
	if t.scorer != nil {
		opts = append(opts, withScorer(t.scorer))
	}
	return NewRelationshipQuery(m, reg, opts...)
}
