package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/xref"
)

var (
	flagConfig  string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

var logger = slog.Default()

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "xref",
	Short:         "Multi-language code intelligence index",
	Long:          "xref parses source trees with tree-sitter into a symbol table and a reference graph, and answers definition, reference, and subgraph queries over it.",
	Version:       xref.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: <root>/"+xref.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// loadConfig reads --config, or the config file at root.
func loadConfig(root string) (*xref.Config, error) {
	if flagConfig != "" {
		return xref.LoadConfig(flagConfig)
	}
	return xref.LoadConfigForRoot(root)
}

// newManager builds a Manager for root and loads the configured
// supplementary projects into its registry. Projects that fail to load are
// logged and skipped.
func newManager(ctx context.Context, root string, mapperOpts ...xref.MapperOption) (*xref.Manager, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	opts := []xref.ManagerOption{
		xref.WithManagerConfig(cfg),
		xref.WithManagerLogger(logger),
		xref.WithMapperOptions(mapperOpts...),
	}
	if len(cfg.Supplementary) > 0 {
		reg := xref.NewSupplementaryRegistry(
			xref.WithRegistryLogger(logger),
			xref.WithRegistryMapperOptions(xref.WithConfig(cfg), xref.WithLogger(logger)),
		)
		if err := reg.LoadProjects(ctx, cfg.Supplementary); err != nil {
			logger.Warn("loading supplementary projects", "error", err)
		}
		opts = append(opts, xref.WithRegistry(reg))
	}
	return xref.NewManager(opts...), nil
}
