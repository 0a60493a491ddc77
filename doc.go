// Package xref builds a cross-reference index of a source tree using
// tree-sitter. It extracts symbols and references from Go, Python,
// JavaScript, TypeScript, Rust, Java, C++, and C# files, links them into a
// CodeReferenceGraph, and answers name-based queries against it.
//
// # Pipeline
//
//  1. Discover: walk the root, skipping hidden and vendored directories,
//     .gitignore matches, exclude globs, and files no grammar handles.
//
//  2. Extract: parse each file in adaptively sized batches and run the
//     language's definitions and references queries. A file that fails is
//     recorded and the scan continues.
//
//  3. Link: resolve references by name across files and build the graph of
//     contains, calls, imports, inherits, and references edges. Whatever
//     stays unresolved can be matched against a [SupplementaryRegistry].
//
// # Usage
//
// A [Manager] owns the graph for one root and keeps it current:
//
//	m := xref.NewManager()
//	defer m.Shutdown()
//
//	if err := m.EnsureGraphForPath(ctx, "path/to/project"); err != nil { ... }
//	err = m.WithGraph(func(mp *xref.Mapper) error {
//		defs := mp.FindDefinitions("Handler", "")
//		sub := mp.SubgraphBFS("Handler", 2)
//		...
//	})
//
// Later calls to EnsureGraphForPath for the same root compare file sizes
// and modification times against the previous snapshot and re-extract only
// what changed.
//
// # Tools
//
// [Tools] exposes the five JSON operations served over MCP by cmd/xref:
// analyze_code, find_symbol_references, find_symbol_definitions,
// get_symbol_subgraph, and update_code_graph. Failures are reported as a
// [ToolError] whose Kind is one of the error taxonomy values.
//
// # Relationships
//
// A [RelationshipQuery] answers in three layers: references inside the main
// project, same-named symbols of supplementary projects, and pairs of
// same-named symbols classified by the syntax around the main one (wrapper,
// implementation, inheritance). Confidences come from [ConfidenceConfig]
// and may be adjusted by a Risor script.
package xref
