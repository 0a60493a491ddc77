package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jward/xref"
)

var (
	flagLanguages  []string
	flagNoProgress bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository and print statistics",
	Long:  "Discovers source files, extracts symbols and references in parallel batches, builds the reference graph, and prints index statistics.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().StringSliceVar(&flagLanguages, "languages", nil, "language filter (e.g. go,python)")
	indexCmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "do not draw a progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	root, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}

	var opts []xref.MapperOption
	if len(flagLanguages) > 0 {
		opts = append(opts, xref.WithLanguages(flagLanguages...))
	}
	if !flagNoProgress {
		opts = append(opts, xref.WithProgress(progressReporter()))
	}

	ctx := cmd.Context()
	manager, err := newManager(ctx, root, opts...)
	if err != nil {
		return outputError("index", err)
	}
	defer manager.Shutdown()

	start := time.Now()
	if err := manager.EnsureGraphForPath(ctx, root); err != nil {
		return outputError("index", err)
	}
	fmt.Fprintf(os.Stderr, "Indexed %s in %s\n", root, time.Since(start).Round(time.Millisecond))

	var stats xref.Stats
	if err := manager.WithGraph(func(m *xref.Mapper) error {
		stats = m.Stats()
		return nil
	}); err != nil {
		return outputError("index", err)
	}
	return outputResult(CLIResult{Command: "index", Results: stats})
}

// progressReporter draws a progress bar on stderr once the total is known.
func progressReporter() func(done, total int) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		_ = bar.Set(done)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats [path]",
	Short: "Print index, store, and registry statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveTargetDir(args)
		if err != nil {
			return outputError("stats", err)
		}
		ctx := cmd.Context()
		manager, err := newManager(ctx, root)
		if err != nil {
			return outputError("stats", err)
		}
		defer manager.Shutdown()
		if err := manager.EnsureGraphForPath(ctx, root); err != nil {
			return outputError("stats", err)
		}

		out := CLIStats{Root: root}
		if reg := manager.Registry(); reg != nil {
			rs := reg.Stats()
			out.Registry = &rs
		}
		out.Resolutions = len(manager.Resolutions())
		if err := manager.WithGraph(func(m *xref.Mapper) error {
			out.Index = m.Stats()
			return nil
		}); err != nil {
			return outputError("stats", err)
		}
		return outputResult(CLIResult{Command: "stats", Results: out})
	},
}
