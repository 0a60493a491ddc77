package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jward/xref"
)

var (
	flagServeRoot   string
	flagMetricsAddr string
	flagWatch       bool
	flagNoWait      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph operations as MCP tools over stdio",
	Long:  "Builds the graph for --root in the background and exposes analyze_code, find_symbol_references, find_symbol_definitions, get_symbol_subgraph, and update_code_graph as MCP tools on stdin/stdout.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeRoot, "root", "", "project root (default: repository root of the working directory)")
	serveCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. :9090)")
	serveCmd.Flags().BoolVar(&flagWatch, "watch", false, "update the graph when files change")
	serveCmd.Flags().BoolVar(&flagNoWait, "nowait", false, "fail queries with lock_error while the graph is being rebuilt")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := flagServeRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = findRepoRoot(cwd)
	}
	root, err := resolveTargetDir([]string{root})
	if err != nil {
		return err
	}

	manager, err := newManager(ctx, root)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	toolOpts := []xref.ToolsOption{xref.WithToolsLogger(logger)}
	if flagNoWait {
		toolOpts = append(toolOpts, xref.WithNoWait())
	}
	tools, err := xref.NewTools(manager, toolOpts...)
	if err != nil {
		return err
	}
	defer tools.Close()

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "addr", flagMetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		if err := manager.EnsureGraphForPath(ctx, root); err != nil {
			logger.Error("initial graph build failed", "root", root, "error", err)
			return
		}
		if !flagWatch {
			return
		}
		if err := manager.Watch(ctx, xref.DefaultDebounce); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watcher stopped", "root", root, "error", err)
		}
	}()

	server := mcp.NewServer(&mcp.Implementation{Name: "xref", Version: xref.Version}, nil)
	registerTools(server, tools)
	logger.Info("serving MCP over stdio", "root", root)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func registerTools(server *mcp.Server, tools *xref.Tools) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        xref.ToolAnalyzeCode,
		Description: "Parses one source file and lists its symbols with types, line ranges, and parents",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args xref.AnalyzeCodeArgs) (*mcp.CallToolResult, any, error) {
		return callResult(tools.AnalyzeCode(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        xref.ToolFindSymbolReferences,
		Description: "Finds references to a symbol in the main project, plus related symbols in supplementary projects with confidences",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args xref.SymbolArgs) (*mcp.CallToolResult, any, error) {
		return callResult(tools.FindSymbolReferences(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        xref.ToolFindDefinitions,
		Description: "Finds where a symbol is defined in the main and supplementary projects",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args xref.SymbolArgs) (*mcp.CallToolResult, any, error) {
		return callResult(tools.FindSymbolDefinitions(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        xref.ToolGetSymbolSubgraph,
		Description: "Returns the nodes and edges within max_depth hops of a symbol",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args xref.SubgraphArgs) (*mcp.CallToolResult, any, error) {
		return callResult(tools.GetSymbolSubgraph(ctx, args)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        xref.ToolUpdateCodeGraph,
		Description: "Builds the graph for root_path, or re-extracts only the files that changed since the last build",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args xref.UpdateArgs) (*mcp.CallToolResult, any, error) {
		return callResult(tools.UpdateCodeGraph(ctx, args)), nil, nil
	})
}

// callResult renders a ToolResult as JSON text content. Failures set
// IsError so the client sees them as tool errors, not protocol errors.
func callResult(res xref.ToolResult) *mcp.CallToolResult {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: !res.OK(),
	}
}
