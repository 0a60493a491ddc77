package xref

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/jward/xref/internal/extract"
	"github.com/jward/xref/internal/runtime"
)

// Detection methods reported on relationships.
const (
	DetectExactName   = "exact_name_match"
	DetectPartialName = "partial_name_match"
	DetectAST         = "ast_analysis"
	DetectFQNExact    = "fqn_exact"
	DetectFQNSuffix   = "fqn_suffix"
	DetectImport      = "project_import"
)

// MainReference is a Layer 1 result: a reference inside the main project.
type MainReference struct {
	FilePath      string        `json:"file_path"`
	Line          int           `json:"line"`
	Column        int           `json:"column"`
	ReferenceType ReferenceType `json:"reference_type"`
	SourceSymbol  string        `json:"source_symbol"`
	TargetSymbol  string        `json:"target_symbol,omitempty"`
}

// CrossProjectRelationship is a Layer 2 result: a supplementary symbol
// whose name matches the query.
type CrossProjectRelationship struct {
	SymbolFQN        string     `json:"cross_project_symbol_fqn"`
	FilePath         string     `json:"cross_project_file_path"`
	Name             string     `json:"cross_project_name"`
	ProjectName      string     `json:"project_name"`
	SymbolType       SymbolType `json:"symbol_type"`
	StartLine        int        `json:"start_line"`
	EndLine          int        `json:"end_line"`
	RelationshipType string     `json:"relationship_type"`
	Confidence       float64    `json:"confidence"`
	DetectionMethod  string     `json:"detection_method"`
}

// ASTRelationship is a Layer 3 result: a classified pair of same-named
// symbols, one from each side.
type ASTRelationship struct {
	MainSymbolFQN    string           `json:"main_symbol_fqn"`
	MainFilePath     string           `json:"main_file_path"`
	CrossSymbolFQN   string           `json:"cross_symbol_fqn"`
	ProjectName      string           `json:"project_name"`
	RelationshipType RelationshipKind `json:"relationship_type"`
	Confidence       float64          `json:"confidence"`
	DetectionMethod  string           `json:"detection_method"`
	ASTPatterns      []string         `json:"ast_patterns"`
}

// RelationshipSummary counts a RelationshipResult.
type RelationshipSummary struct {
	TotalMainReferences            int  `json:"total_main_references"`
	TotalCrossProjectRelationships int  `json:"total_cross_project_relationships"`
	TotalASTRelationships          int  `json:"total_ast_relationships"`
	StrongRelationships            int  `json:"strong_relationships"`
	CrossProjectBoundariesDetected bool `json:"cross_project_boundaries_detected"`
}

// RelationshipResult concatenates the three layers. No layer suppresses
// another.
type RelationshipResult struct {
	MainReferences            []MainReference            `json:"main_references"`
	CrossProjectRelationships []CrossProjectRelationship `json:"cross_project_relationships"`
	ASTRelationships          []ASTRelationship          `json:"ast_relationships"`
	Summary                   RelationshipSummary        `json:"summary"`
}

// RelationshipQuery answers "what relates to this name" across the main
// project and the supplementary registry. Results are evidence with
// heuristic confidences, not a verified resolution.
type RelationshipQuery struct {
	mapper     *Mapper
	registry   *SupplementaryRegistry
	confidence ConfidenceConfig
	scorer     *runtime.Scorer
	script     string
	logger     *slog.Logger

	lines map[string][]string
}

// RelationshipOption configures a RelationshipQuery.
type RelationshipOption func(*RelationshipQuery)

// WithConfidence replaces the default confidence constants.
func WithConfidence(c ConfidenceConfig) RelationshipOption {
	return func(q *RelationshipQuery) {
		q.confidence = c
	}
}

// WithConfidenceScript sets a risor script that adjusts Layer 3
// confidences. The script sees category, patterns, pattern_count, and
// default_confidence and must evaluate to a number.
func WithConfidenceScript(source string) RelationshipOption {
	return func(q *RelationshipQuery) {
		q.script = source
	}
}

func withScorer(s *runtime.Scorer) RelationshipOption {
	return func(q *RelationshipQuery) {
		q.scorer = s
	}
}

// WithRelationshipLogger sets the logger.
func WithRelationshipLogger(logger *slog.Logger) RelationshipOption {
	return func(q *RelationshipQuery) {
		q.logger = logger
	}
}

// NewRelationshipQuery creates a query over mapper and registry. A nil
// registry yields Layer 1 results only.
func NewRelationshipQuery(mapper *Mapper, registry *SupplementaryRegistry, opts ...RelationshipOption) *RelationshipQuery {
	q := &RelationshipQuery{
		mapper:     mapper,
		registry:   registry,
		confidence: DefaultConfidence(),
		logger:     slog.Default(),
		lines:      make(map[string][]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.scorer == nil && q.script != "" {
		q.scorer = runtime.NewScorer(q.script, runtime.WithScorerLogger(q.logger))
	}
	return q
}

// Query runs the three layers for name.
func (q *RelationshipQuery) Query(ctx context.Context, name string) RelationshipResult {
	res := RelationshipResult{
		MainReferences:            q.mainReferences(name),
		CrossProjectRelationships: q.crossProject(name),
		ASTRelationships:          q.astRelationships(ctx, name),
	}

	strong := 0
	for _, r := range res.CrossProjectRelationships {
		if r.Confidence > q.confidence.StrongThreshold {
			strong++
		}
	}
	for _, r := range res.ASTRelationships {
		if r.Confidence > q.confidence.StrongThreshold {
			strong++
		}
	}
	res.Summary = RelationshipSummary{
		TotalMainReferences:            len(res.MainReferences),
		TotalCrossProjectRelationships: len(res.CrossProjectRelationships),
		TotalASTRelationships:          len(res.ASTRelationships),
		StrongRelationships:            strong,
		CrossProjectBoundariesDetected: len(res.CrossProjectRelationships) > 0 || len(res.ASTRelationships) > 0,
	}
	q.logger.Debug("relationship query", "symbol", name,
		"main", res.Summary.TotalMainReferences,
		"cross_project", res.Summary.TotalCrossProjectRelationships,
		"ast", res.Summary.TotalASTRelationships)
	return res
}

func (q *RelationshipQuery) mainReferences(name string) []MainReference {
	refs := q.mapper.ReferencesMatching(name)
	out := make([]MainReference, 0, len(refs))
	for _, r := range refs {
		out = append(out, MainReference{
			FilePath:      r.File,
			Line:          r.Line,
			Column:        r.Col,
			ReferenceType: r.Type,
			SourceSymbol:  r.SymbolName,
			TargetSymbol:  r.SymbolFQN,
		})
	}
	return out
}

func (q *RelationshipQuery) crossProject(name string) []CrossProjectRelationship {
	out := []CrossProjectRelationship{}
	if q.registry == nil {
		return out
	}
	for _, s := range q.registry.Symbols() {
		if !strings.Contains(s.Name, name) {
			continue
		}
		rel := CrossProjectRelationship{
			SymbolFQN:        s.FQN,
			FilePath:         s.FilePath,
			Name:             s.Name,
			ProjectName:      s.ProjectName,
			SymbolType:       s.Type,
			StartLine:        s.StartLine,
			EndLine:          s.EndLine,
			RelationshipType: "definition",
			Confidence:       q.confidence.PartialMatch,
			DetectionMethod:  DetectPartialName,
		}
		if s.Name == name {
			rel.Confidence = q.confidence.ExactMatch
			rel.DetectionMethod = DetectExactName
		}
		out = append(out, rel)
	}
	return out
}

func (q *RelationshipQuery) astRelationships(ctx context.Context, name string) []ASTRelationship {
	out := []ASTRelationship{}
	if q.registry == nil {
		return out
	}
	sups := q.registry.SymbolsNamed(name)
	if len(sups) == 0 {
		return out
	}
	for _, main := range q.mapper.FindDefinitions(name, "") {
		subject := q.subject(main)
		for _, sup := range sups {
			kind, patterns := ClassifyRelationship(subject, sup)
			if kind == RelUnrelated {
				continue
			}
			out = append(out, ASTRelationship{
				MainSymbolFQN:    main.FQN,
				MainFilePath:     main.FilePath,
				CrossSymbolFQN:   sup.FQN,
				ProjectName:      sup.ProjectName,
				RelationshipType: kind,
				Confidence:       q.score(ctx, kind, patterns),
				DetectionMethod:  DetectAST,
				ASTPatterns:      patterns,
			})
		}
	}
	return out
}

// subject gathers the syntax evidence around a main-project symbol.
func (q *RelationshipQuery) subject(sym CodeSymbol) RelationshipSubject {
	subject := RelationshipSubject{Symbol: sym, Lines: q.fileLines(sym.FilePath)}
	owner := q.ownerFQN(sym)
	for _, r := range q.mapper.References() {
		if r.File != sym.FilePath {
			continue
		}
		if sym.Contains(r.Line) {
			subject.Refs = append(subject.Refs, r)
		}
		if owner != "" && r.Type == RefInherits && r.Source == owner {
			subject.ParentBases = append(subject.ParentBases, r.SymbolName)
		}
	}
	return subject
}

// ownerFQN returns the type a method belongs to: its lexical parent, or
// for receiver-qualified methods the type named before the last dot.
func (q *RelationshipQuery) ownerFQN(sym CodeSymbol) string {
	if sym.Parent != "" {
		return sym.Parent
	}
	i := strings.LastIndexByte(sym.FQN, '.')
	if i < 0 || i < strings.Index(sym.FQN, "::") {
		return ""
	}
	if _, ok := q.mapper.index[sym.FQN[:i]]; ok {
		return sym.FQN[:i]
	}
	return ""
}

func (q *RelationshipQuery) fileLines(rel string) []string {
	if lines, ok := q.lines[rel]; ok {
		return lines
	}
	var lines []string
	data, err := os.ReadFile(q.mapper.absPath(rel))
	if err != nil {
		q.logger.Debug("reading source for relationship analysis", "path", rel, "error", err)
	} else {
		lines = strings.Split(string(data), "\n")
	}
	q.lines[rel] = lines
	return lines
}

func (q *RelationshipQuery) score(ctx context.Context, kind RelationshipKind, patterns []string) float64 {
	def := q.confidence.Confidence(kind)
	if q.scorer == nil {
		return def
	}
	c, err := q.scorer.Score(ctx, string(kind), patterns, def)
	if err != nil {
		q.logger.Warn("confidence script failed, using default", "category", kind, "error", err)
		return def
	}
	return c
}

// CrossProjectResolution pairs an unresolved reference with the
// supplementary symbol, or project, that satisfies it.
type CrossProjectResolution struct {
	Reference       UnresolvedReference `json:"reference"`
	TargetFQN       string              `json:"target_fqn,omitempty"`
	ProjectName     string              `json:"project_name"`
	Confidence      float64             `json:"confidence"`
	DetectionMethod string              `json:"detection_method"`
}

// ResolveUnresolved matches the mapper's unresolved references against the
// registry and consumes the ones it resolves. Imports resolve to a project
// whose name is the import's last segment. Other references resolve by
// exact FQN, then exact name, then FQN suffix. The caller must hold
// exclusive access to the mapper.
func (q *RelationshipQuery) ResolveUnresolved() []CrossProjectResolution {
	if q.registry == nil || q.registry.Len() == 0 {
		return nil
	}
	projects := make(map[string]bool)
	for _, p := range q.registry.Projects() {
		projects[p] = true
	}

	var (
		out      []CrossProjectResolution
		consumed []UnresolvedReference
	)
	for _, u := range q.mapper.Unresolved() {
		res, ok := q.resolveOne(u, projects)
		if !ok {
			continue
		}
		out = append(out, res)
		consumed = append(consumed, u)
	}
	q.mapper.ConsumeUnresolved(consumed)
	return out
}

func (q *RelationshipQuery) resolveOne(u UnresolvedReference, projects map[string]bool) (CrossProjectResolution, bool) {
	res := CrossProjectResolution{Reference: u}
	if u.Type == RefImport {
		name := extract.LastSegment(u.TargetName)
		if !projects[name] {
			return res, false
		}
		res.ProjectName = name
		res.Confidence = q.confidence.PartialMatch
		res.DetectionMethod = DetectImport
		return res, true
	}

	if info, ok := q.registry.LookupByFQN(u.TargetName); ok {
		return q.resolved(res, info, q.confidence.ExactMatch, DetectFQNExact), true
	}
	if cands := q.registry.SymbolsNamed(u.TargetName); len(cands) > 0 {
		best := cands[0]
		for _, c := range cands {
			if compatible(u.Type, c.Type) {
				best = c
				break
			}
		}
		return q.resolved(res, best, q.confidence.ExactMatch, DetectExactName), true
	}
	name := extract.LastSegment(u.TargetName)
	if name == "" || name == u.TargetName {
		return res, false
	}
	for _, c := range q.registry.SymbolsNamed(name) {
		if strings.HasSuffix(c.FQN, "::"+u.TargetName) || strings.HasSuffix(c.FQN, "."+u.TargetName) {
			return q.resolved(res, c, q.confidence.PartialMatch, DetectFQNSuffix), true
		}
	}
	return res, false
}

func (q *RelationshipQuery) resolved(res CrossProjectResolution, info SupplementarySymbolInfo, confidence float64, method string) CrossProjectResolution {
	res.TargetFQN = info.FQN
	res.ProjectName = info.ProjectName
	res.Confidence = confidence
	res.DetectionMethod = method
	return res
}
