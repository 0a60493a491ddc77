package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/xref"
)

var (
	flagDir        string
	flagSymbolType string
	flagDepth      int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the code graph",
	Long:  "Run one of the graph operations against a freshly built index. Line numbers are 1-based and columns 0-based.",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "project root (default: repository root of the working directory)")
	queryCmd.PersistentFlags().StringVar(&flagSymbolType, "type", "", "symbol type filter: function|method|class|struct|enum|interface|module|import")

	subgraphCmd.Flags().IntVar(&flagDepth, "depth", xref.DefaultSubgraphDepth, "traversal depth (1-5)")

	queryCmd.AddCommand(definitionsCmd)
	queryCmd.AddCommand(referencesCmd)
	queryCmd.AddCommand(subgraphCmd)
	queryCmd.AddCommand(analyzeCmd)
}

var definitionsCmd = &cobra.Command{
	Use:   "definitions <name>",
	Short: "Find where a symbol is defined",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd.Context(), "definitions", func(t *xref.Tools, root string) xref.ToolResult {
			return t.FindSymbolDefinitions(cmd.Context(), xref.SymbolArgs{
				SymbolName: args[0],
				SymbolType: flagSymbolType,
				Directory:  root,
			})
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <name>",
	Short: "Find references to a symbol, including cross-project relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd.Context(), "references", func(t *xref.Tools, root string) xref.ToolResult {
			return t.FindSymbolReferences(cmd.Context(), xref.SymbolArgs{
				SymbolName: args[0],
				SymbolType: flagSymbolType,
				Directory:  root,
			})
		})
	},
}

var subgraphCmd = &cobra.Command{
	Use:   "subgraph <name>",
	Short: "Print the graph neighbourhood of a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd.Context(), "subgraph", func(t *xref.Tools, root string) xref.ToolResult {
			depth := flagDepth
			return t.GetSymbolSubgraph(cmd.Context(), xref.SubgraphArgs{
				SymbolName: args[0],
				MaxDepth:   &depth,
				Directory:  root,
			})
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "List the symbols of one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd.Context(), "analyze", func(t *xref.Tools, _ string) xref.ToolResult {
			return t.AnalyzeCode(cmd.Context(), xref.AnalyzeCodeArgs{FilePath: args[0]})
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [path]",
	Short: "Build or refresh the code graph and report what changed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveTargetDir(args)
		if err != nil {
			return outputError("update", err)
		}
		flagDir = root
		return runTool(cmd.Context(), "update", func(t *xref.Tools, root string) xref.ToolResult {
			return t.UpdateCodeGraph(cmd.Context(), xref.UpdateArgs{RootPath: root})
		})
	},
}

// queryRoot returns --dir, or the repository root of the working directory.
func queryRoot() (string, error) {
	if flagDir != "" {
		return resolveTargetDir([]string{flagDir})
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findRepoRoot(cwd), nil
}

// runTool builds a Manager and Tools for the query root, runs fn, and
// prints the result.
func runTool(ctx context.Context, command string, fn func(*xref.Tools, string) xref.ToolResult) error {
	root, err := queryRoot()
	if err != nil {
		return outputError(command, err)
	}
	manager, err := newManager(ctx, root)
	if err != nil {
		return outputError(command, err)
	}
	defer manager.Shutdown()
	tools, err := xref.NewTools(manager, xref.WithToolsLogger(logger))
	if err != nil {
		return outputError(command, err)
	}
	defer tools.Close()

	res := fn(tools, root)
	if res.Error != nil {
		return outputError(command, res.Error)
	}
	return outputResult(CLIResult{Command: command, Results: res.Payload})
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	var te *xref.ToolError
	if errors.As(err, &te) {
		result.Error = te.Message
		result.ErrorKind = string(te.Kind)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}
