package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Scorer evaluates a Risor confidence script. The script sees these globals:
//
//	category            relationship category ("wrapper", "implementation", ...)
//	patterns            list of matched pattern names
//	pattern_count       len(patterns)
//	default_confidence  the built-in confidence for category
//	log                 log("msg") writes a debug record
//
// The value of the script's last expression is the confidence. Results are
// clamped to [0, 1].
type Scorer struct {
	source     string
	label      string
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithScorerFS resolves Risor import statements against fsys.
func WithScorerFS(fsys fs.FS) ScorerOption {
	return func(s *Scorer) {
		s.fsys = fsys
	}
}

// WithScorerLogger sets the logger used by the script's log builtin.
func WithScorerLogger(logger *slog.Logger) ScorerOption {
	return func(s *Scorer) {
		s.logger = logger
	}
}

// NewScorer creates a Scorer from inline Risor source.
func NewScorer(source string, opts ...ScorerOption) *Scorer {
	s := &Scorer{source: source, label: "<inline>", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadScorer reads a .risor file from disk. Imports inside the script are
// resolved relative to the file's directory.
func LoadScorer(path string, opts ...ScorerOption) (*Scorer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading script %s: %w", path, err)
	}
	s := NewScorer(string(data), opts...)
	s.label = path
	if s.fsys == nil {
		s.scriptsDir = filepath.Dir(path)
	}
	return s, nil
}

// Score runs the script for one classification.
func (s *Scorer) Score(ctx context.Context, category string, patterns []string, defaultConfidence float64) (float64, error) {
	if strings.TrimSpace(s.source) == "" {
		return defaultConfidence, nil
	}
	items := make([]object.Object, len(patterns))
	for i, p := range patterns {
		items[i] = object.NewString(p)
	}
	globals := map[string]any{
		"category":           object.NewString(category),
		"patterns":           object.NewList(items),
		"pattern_count":      object.NewInt(int64(len(patterns))),
		"default_confidence": object.NewFloat(defaultConfidence),
		"log":                s.logBuiltin(),
	}

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := s.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, s.source, opts...)
	if err != nil {
		return 0, fmt.Errorf("runtime: script %s: %w", s.label, err)
	}

	var v float64
	switch r := result.(type) {
	case *object.Float:
		v = r.Value()
	case *object.Int:
		v = float64(r.Value())
	default:
		return 0, fmt.Errorf("runtime: script %s: result must be a number, got %s", s.label, result.Type())
	}
	return min(max(v, 0), 1), nil
}

func (s *Scorer) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if s.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    s.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if s.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   s.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

func (s *Scorer) logBuiltin() *object.Builtin {
	return object.NewBuiltin("log", func(ctx context.Context, args ...object.Object) object.Object {
		parts := make([]string, len(args))
		for i, a := range args {
			if str, ok := a.(*object.String); ok {
				parts[i] = str.Value()
			} else {
				parts[i] = a.Inspect()
			}
		}
		s.logger.Debug(strings.Join(parts, " "), "script", s.label)
		return object.Nil
	})
}
