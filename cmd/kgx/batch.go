package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/biomedkg/kgx/internal/metrics"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/graph"
	"github.com/biomedkg/kgx/pkg/loader"

	"github.com/spf13/cobra"
)

const defaultPattern = "pubmed_results_batch_*.json"

type batchOptions struct {
	output   string
	format   string
	pattern  string
	parallel bool
	workers  int
	verbose  bool
}

func newBatchCmd(a *app) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch <dir|glob>",
		Short: "Process every matching PubMed JSON file into a batch run directory",
		Long: `Process every file matching --pattern inside a directory, or every file
matching a glob. Results go to a fresh batch_run_YYYYMMDD_HHMMSS directory
together with batch_summary.json and metrics.prom. A failing file is
recorded in the summary and does not stop the batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, a, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "data/batch_output", "output directory for batch results")
	f.StringVarP(&opts.format, "format", "f", export.FormatJSON, "output format: json, csv or rdf")
	f.StringVarP(&opts.pattern, "pattern", "p", defaultPattern, "file pattern used when the input is a directory")
	f.BoolVar(&opts.parallel, "parallel", false, "process files in parallel")
	f.IntVarP(&opts.workers, "workers", "w", 4, "maximum number of parallel workers")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "write raw model answers next to the results")
	return cmd
}

// resolveInputs expands a directory with pattern, or input itself as a glob.
func resolveInputs(input, pattern string) ([]string, error) {
	glob := input
	if info, err := os.Stat(input); err == nil && info.IsDir() {
		glob = filepath.Join(input, pattern)
	}
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", glob, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing matches %q", ErrNoInputFiles, glob)
	}
	sort.Strings(files)
	return files, nil
}

func runBatch(cmd *cobra.Command, a *app, opts *batchOptions, input string) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	if opts.workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", opts.workers)
	}
	paths, err := resolveInputs(input, opts.pattern)
	if err != nil {
		return err
	}

	client, err := a.newGraphClient(opts.verbose, metrics.New())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d files to process\n", len(paths))

	files := make([]loader.GraphFile, len(paths))
	for i, p := range paths {
		files[i] = client.File(p)
	}

	res, err := client.ProcessBatch(cmd.Context(), files, graph.BatchOptions{
		OutputDir: opts.output,
		Format:    opts.format,
		Parallel:  opts.parallel,
		Workers:   opts.workers,
	})
	if err != nil {
		return err
	}

	s := res.Report.Summary
	fmt.Fprintln(out, "Batch processing summary:")
	fmt.Fprintf(out, "  Total files processed: %d\n", s.TotalFiles)
	fmt.Fprintf(out, "  Successful: %d, Failed: %d\n", s.SuccessfulFiles, s.FailedFiles)
	fmt.Fprintf(out, "  Total entities extracted: %d\n", s.TotalEntities)
	fmt.Fprintf(out, "  Total relations extracted: %d\n", s.TotalRelations)
	fmt.Fprintf(out, "  Total processing time: %.2f seconds\n", s.ProcessingTime)
	fmt.Fprintf(out, "  Results saved to: %s\n", res.OutputDir)
	return nil
}
