package main

import (
	"errors"
	"fmt"

	"github.com/biomedkg/kgx/internal/config"
	"github.com/biomedkg/kgx/internal/metrics"
	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/graph"
	csvloader "github.com/biomedkg/kgx/pkg/loader/csv"
	fileio "github.com/biomedkg/kgx/pkg/loader/io"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/logger/console"

	"github.com/spf13/cobra"
)

// ErrNoInputFiles is returned when an input path or pattern matches nothing.
var ErrNoInputFiles = errors.New("no input files found")

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	debug      bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "kgx",
		Short: "Build biomedical knowledge graphs from literature with an LLM",
		Long: `kgx extracts entities and relations from PubMed style JSON exports,
merges per-document fragments into one knowledge graph and exports the
result as CSV, GraphML, an interactive HTML page and statistics.

Examples:
  kgx process data/pubmed_results_batch_1.json -o data/output
  kgx batch data/ --parallel -w 4
  kgx merge data/batch_output -o merged_knowledge_graph.json --min-confidence 0.6
  kgx visualize merged_knowledge_graph.json --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML configuration file")
	f.BoolVar(&a.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newProcessCmd(a),
		newBatchCmd(a),
		newMergeCmd(a),
		newVisualizeCmd(a),
		newEnqueueCmd(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	util.LoadEnv()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Debug = true
	}
	a.cfg = cfg

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	}))
	return nil
}

// newGraphClient validates the configuration and builds the pipeline.
func (a *app) newGraphClient(verbose bool, m *metrics.Metrics) (*graph.GraphClient, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	params := a.cfg.GraphClientParams()
	params.NewCompleter = a.cfg.CompleterFactory(m)
	params.Loader = csvloader.WithCSV(fileio.NewIOGraphFileLoader())
	params.Recorder = m
	params.Verbose = verbose
	return graph.NewGraphClient(params)
}

func checkFormat(format string) error {
	if !export.ValidFormat(format) {
		return fmt.Errorf("invalid format %q, want one of %v", format, export.Formats)
	}
	return nil
}
