package xref

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jward/xref/internal/extract"
)

// MaxBatchSize caps the number of files extracted per batch.
const MaxBatchSize = 500

// BatchSize returns the batch size for n files on a machine with cpus
// CPUs: min(500, max(cpus*8, n/4)).
func BatchSize(n, cpus int) int {
	return min(MaxBatchSize, max(cpus*8, n/4))
}

// fileResult is the outcome of extracting one file.
type fileResult struct {
	rel     string
	meta    FileMetadata
	symbols []CodeSymbol
	refs    []SymbolReference
	err     error
}

// processFiles extracts paths in adaptively sized batches and merges each
// batch before starting the next. Only context cancellation and store
// failures abort; per-file errors are recorded.
func (m *Mapper) processFiles(ctx context.Context, paths []string) (ScanResult, error) {
	res := ScanResult{Files: len(paths)}
	if len(paths) == 0 {
		return res, nil
	}

	size := BatchSize(len(paths), goruntime.NumCPU())
	done := 0
	for batch := 0; done < len(paths); batch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(done+size, len(paths))

		results := m.processBatch(ctx, paths[done:end])
		for _, r := range results {
			if err := m.mergeFile(r); err != nil {
				return res, err
			}
			recordFileResult(r.err)
			if r.err != nil {
				res.Failed++
				m.logger.Warn("extraction failed", "path", r.rel, "error", r.err)
				continue
			}
			res.Succeeded++
		}
		done = end

		if m.store != nil && m.cleanupEvery > 0 && (batch+1)%m.cleanupEvery == 0 {
			if err := m.store.CleanupMemory(); err != nil {
				return res, fmt.Errorf("xref: store cleanup: %w", err)
			}
		}
		if m.progress != nil {
			m.progress(done, len(paths))
		}
	}
	return res, nil
}

// processBatch extracts each path with its own Extractor. Results are
// returned in input order.
func (m *Mapper) processBatch(ctx context.Context, paths []string) []fileResult {
	_, span := startSpan(ctx, "Mapper.processBatch", attribute.Int("files", len(paths)))
	defer span.End()

	limit := m.parallelism
	if limit < 1 {
		limit = goruntime.NumCPU()
	}

	results := make([]fileResult, len(paths))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = m.extractFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Mapper) extractFile(ctx context.Context, path string) fileResult {
	rel := m.relPath(path)
	r := fileResult{rel: rel, meta: FileMetadata{Path: rel}}

	info, err := os.Stat(path)
	if err != nil {
		r.err = ioError("stat", rel, err)
		return r
	}
	r.meta = metadataFor(rel, info)

	ex := extract.New(m.root, m.parser, extract.WithLogger(m.logger))
	if err := ex.ExtractSymbolsFromFile(ctx, path); err != nil {
		r.err = err
		return r
	}
	r.symbols = ex.SymbolsInFile(rel)
	r.refs = ex.References()
	return r
}
