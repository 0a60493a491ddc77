package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jward/xref"
)

// formatStatsText formats index statistics as readable text.
func formatStatsText(w io.Writer, st xref.Stats) {
	fmt.Fprintf(w, "Files: %d (%d ok, %d failed)\n", st.Files, st.Succeeded, st.Failed)
	fmt.Fprintf(w, "Symbols: %d\n", st.Symbols)
	fmt.Fprintf(w, "References: %d (%d unresolved)\n", st.References, st.Unresolved)
	fmt.Fprintf(w, "Graph: %d nodes, %d edges\n", st.Nodes, st.Edges)
	if st.Store != nil {
		fmt.Fprintf(w, "Store: %d hot / %d cold, hit rate %.2f, %.1f of %d MB\n",
			st.Store.CacheSize, st.Store.ColdStorageItems, st.Store.CacheHitRate,
			st.Store.MemoryUsageMB, st.Store.MemoryLimitMB)
	}
	if len(st.FailedFiles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Failed files:")
		for _, f := range st.FailedFiles {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Error)
		}
	}
}

func formatCLIStatsText(w io.Writer, st CLIStats) {
	fmt.Fprintf(w, "Root: %s\n", st.Root)
	formatStatsText(w, st.Index)
	if st.Registry != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Supplementary: %d projects, %d files, %d symbols\n",
			st.Registry.Projects, st.Registry.Files, st.Registry.Symbols)
		fmt.Fprintf(w, "Cross-project resolutions: %d\n", st.Resolutions)
	}
}

// formatAnalyzeText formats analyze_code symbols as aligned columns.
func formatAnalyzeText(w io.Writer, res xref.AnalyzeCodeResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tLINES\tPARENT")
	for _, s := range res.Symbols {
		fmt.Fprintf(tw, "%s\t%s\t%d-%d\t%s\n", s.Name, s.SymbolType, s.StartLine, s.EndLine, s.Parent)
	}
	tw.Flush()
}

// formatReferencesText formats references as "file:line:col" lines, with
// cross-project entries annotated.
func formatReferencesText(w io.Writer, res xref.ReferencesResult) {
	for _, r := range res.References {
		if r.ProjectType == xref.ProjectMain {
			fmt.Fprintf(w, "%s:%d:%d\t%s\n", r.FilePath, r.Line, r.Column, r.ReferenceType)
			continue
		}
		fmt.Fprintf(w, "%s:%d\t%s\t[%s %s %.2f %s]\n", r.FilePath, r.Line, r.ReferenceType,
			r.ProjectName, r.SymbolFQN, r.Confidence, r.DetectionMethod)
	}
	s := res.Summary
	fmt.Fprintf(w, "\n%d references (%d main, %d cross-project, %d strong)\n",
		s.TotalReferences, s.MainProjectReferences, s.CrossProjectReferences, s.StrongRelationships)
}

// formatDefinitionsText formats definitions as aligned columns.
func formatDefinitionsText(w io.Writer, res xref.DefinitionsResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FQN\tTYPE\tFILE\tLINES\tPROJECT")
	for _, d := range res.Definitions {
		project := d.ProjectType
		if d.ProjectName != "" {
			project = d.ProjectName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d-%d\t%s\n", d.FQN, d.SymbolType, d.FilePath, d.StartLine, d.EndLine, project)
	}
	tw.Flush()
}

// formatSubgraphText lists nodes, then edges.
func formatSubgraphText(w io.Writer, res xref.SubgraphResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tTYPE\tFILE")
	for _, n := range res.Graph.Nodes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ID, n.Type, n.FilePath)
	}
	tw.Flush()
	if len(res.Graph.Edges) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tEDGE\tTARGET")
	for _, e := range res.Graph.Edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Source, e.Type, e.Target)
	}
	tw.Flush()
}

func formatUpdateText(w io.Writer, res xref.UpdateResult) {
	fmt.Fprintf(w, "%s: %s\n", res.Status, res.Message)
	if res.Changes == nil {
		return
	}
	for _, group := range []struct {
		label string
		paths []string
	}{
		{"added", res.Changes.Added},
		{"modified", res.Changes.Modified},
		{"deleted", res.Changes.Deleted},
	} {
		if len(group.paths) > 0 && !res.Changes.Rebuilt {
			fmt.Fprintf(w, "  %s: %s\n", group.label, strings.Join(group.paths, ", "))
		}
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	return writeResultText(os.Stdout, result)
}

func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case xref.Stats:
		formatStatsText(w, v)
	case CLIStats:
		formatCLIStatsText(w, v)
	case xref.AnalyzeCodeResult:
		formatAnalyzeText(w, v)
	case xref.ReferencesResult:
		formatReferencesText(w, v)
	case xref.DefinitionsResult:
		formatDefinitionsText(w, v)
	case xref.SubgraphResult:
		formatSubgraphText(w, v)
	case xref.UpdateResult:
		formatUpdateText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
