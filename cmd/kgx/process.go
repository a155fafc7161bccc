package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/biomedkg/kgx/internal/metrics"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/graph"

	"github.com/spf13/cobra"
)

type processOptions struct {
	output  string
	format  string
	verbose bool
}

func newProcessCmd(a *app) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Extract a knowledge graph from one PubMed JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, a, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "data/output", "output directory")
	f.StringVarP(&opts.format, "format", "f", export.FormatJSON, "output format: json, csv or rdf")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "write raw model answers next to the results")
	return cmd
}

func runProcess(cmd *cobra.Command, a *app, opts *processOptions, path string) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	client, err := a.newGraphClient(opts.verbose, metrics.New())
	if err != nil {
		return err
	}

	res, err := client.ProcessDocument(cmd.Context(), client.File(path), graph.DocumentOutputDir(opts.output, path), opts.format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	md := res.Fragment.Metadata
	fmt.Fprintf(out, "Processed %s\n", path)
	fmt.Fprintf(out, "  documents: %d, chunks: %d\n", md.SourceCount, res.Chunks)
	fmt.Fprintf(out, "  entities: %d, relations: %d\n", md.EntityCount, md.RelationCount)
	if res.EntityFailures > 0 || res.RelationFailures > 0 {
		fmt.Fprintf(out, "  failed extraction calls: %d entity, %d relation\n", res.EntityFailures, res.RelationFailures)
	}
	printFiles(cmd, res.Manifest.Files)
	return nil
}

func printFiles(cmd *cobra.Command, files map[string]string) {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", k, files[k])
	}
}
