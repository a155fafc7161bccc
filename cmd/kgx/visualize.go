package main

import (
	"fmt"
	"path/filepath"

	"github.com/biomedkg/kgx/pkg/kgraph"

	"github.com/spf13/cobra"
)

type visualizeOptions struct {
	csv     bool
	graphml bool
	html    bool
	stats   bool
	all     bool
}

func (o *visualizeOptions) selected() bool {
	return o.csv || o.graphml || o.html || o.stats || o.all
}

func newVisualizeCmd(a *app) *cobra.Command {
	opts := &visualizeOptions{}

	cmd := &cobra.Command{
		Use:   "visualize <kg.json>",
		Short: "Export a knowledge graph as CSV, GraphML, HTML and statistics",
		Long: `Build a directed graph from a knowledge graph JSON file and write the
selected outputs next to it: kg_nodes.csv and kg_edges.csv,
knowledge_graph.graphml, knowledge_graph.html and kg_statistics.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVisualize(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.csv, "csv", false, "export nodes and edges as CSV")
	f.BoolVar(&opts.graphml, "graphml", false, "export GraphML")
	f.BoolVar(&opts.html, "html", false, "render an interactive HTML page")
	f.BoolVar(&opts.stats, "stats", false, "write graph statistics")
	f.BoolVar(&opts.all, "all", false, "write every output")
	return cmd
}

func runVisualize(cmd *cobra.Command, opts *visualizeOptions, path string) error {
	out := cmd.OutOrStdout()
	if !opts.selected() {
		fmt.Fprintln(out, "No output selected. See --help for the available options.")
		return nil
	}

	kg, err := kgraph.Load(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	fmt.Fprintf(out, "Graph: %d nodes, %d edges\n", kg.NodeCount(), kg.EdgeCount())

	if opts.all || opts.csv {
		nodes, edges, err := kg.ExportCSV(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  csv: %s, %s\n", nodes, edges)
	}
	if opts.all || opts.graphml {
		p := filepath.Join(dir, kgraph.GraphMLFileName)
		if err := kg.ExportGraphML(p); err != nil {
			return err
		}
		fmt.Fprintf(out, "  graphml: %s\n", p)
	}
	if opts.all || opts.html {
		p := filepath.Join(dir, kgraph.HTMLFileName)
		if err := kg.RenderHTML(p); err != nil {
			return err
		}
		fmt.Fprintf(out, "  html: %s\n", p)
	}
	if opts.all || opts.stats {
		p := filepath.Join(dir, kgraph.StatisticsFileName)
		stats, err := kg.WriteStatistics(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  statistics: %s (%d node types, %d relation types)\n", p, len(stats.NodeTypes), len(stats.RelationTypes))
	}
	return nil
}
