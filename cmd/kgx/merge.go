package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/graph"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/store"
	"github.com/biomedkg/kgx/pkg/store/neo4j"

	"github.com/spf13/cobra"
)

type mergeOptions struct {
	output        string
	minConfidence float64
	maxEntities   int
	entityTypes   []string
	sumDuplicates bool
	exportCSV     bool

	neo4jURI      string
	neo4jUser     string
	neo4jPassword string
	neo4jDatabase string
}

func newMergeCmd(a *app) *cobra.Command {
	opts := &mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge <file|dir>",
		Short: "Merge knowledge graph fragments into one deduplicated graph",
		Long: `Merge every knowledge_graph.json, *_graph.json and entities.json /
relations.json pair found below the input into one graph. Entities are
deduplicated by normalized text and type, relations by their normalized
endpoints and canonical label. A fragment whose content was already merged
is skipped unless --sum-duplicates is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, a, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "merged_knowledge_graph.json", "output file")
	f.Float64Var(&opts.minConfidence, "min-confidence", 0, "drop relations below this confidence (0.0-1.0)")
	f.IntVar(&opts.maxEntities, "max-entities", 0, "keep at most this many entities per type (0 keeps all)")
	f.StringSliceVar(&opts.entityTypes, "entity-types", nil, "entity types to keep (default all)")
	f.BoolVar(&opts.sumDuplicates, "sum-duplicates", false, "sum occurrences even for identical fragments")
	f.BoolVar(&opts.exportCSV, "export-csv", true, "also write <output>_entities.csv and <output>_relations.csv")
	f.StringVar(&opts.neo4jURI, "neo4j-uri", "", "also write the merged graph to this Neo4j instance")
	f.StringVar(&opts.neo4jUser, "neo4j-user", "", "Neo4j user")
	f.StringVar(&opts.neo4jPassword, "neo4j-password", "", "Neo4j password")
	f.StringVar(&opts.neo4jDatabase, "neo4j-database", "", "Neo4j database")
	return cmd
}

func runMerge(cmd *cobra.Command, a *app, opts *mergeOptions, input string) error {
	if opts.minConfidence < 0 || opts.minConfidence > 1 {
		return fmt.Errorf("min-confidence must be within [0, 1], got %v", opts.minConfidence)
	}
	if opts.maxEntities < 0 {
		return fmt.Errorf("max-entities must not be negative, got %d", opts.maxEntities)
	}

	paths, err := store.FindFragmentFiles(input)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w in %s", ErrNoInputFiles, input)
	}

	ctx := cmd.Context()
	fragments, err := store.LoadFragments(ctx, paths)
	if err != nil {
		return err
	}

	merger := graph.Merger{
		MinConfidence:      opts.minConfidence,
		MaxEntitiesPerType: opts.maxEntities,
		AllowedTypes:       opts.entityTypes,
		DedupeSources:      !opts.sumDuplicates,
	}
	merged := merger.Merge(fragments)

	storages, err := a.mergeStorages(cmd, opts)
	if err != nil {
		return err
	}
	graphID := strings.TrimSuffix(filepath.Base(opts.output), filepath.Ext(opts.output))
	for _, s := range storages {
		if err := s.SaveGraph(ctx, graphID, merged); err != nil {
			closeStorages(cmd, storages)
			return err
		}
	}
	closeStorages(cmd, storages)

	out := cmd.OutOrStdout()
	md := merged.Metadata
	fmt.Fprintf(out, "Merged %d files (%d fragments)\n", len(paths), len(fragments))
	fmt.Fprintf(out, "  sources: %d, entities: %d, relations: %d\n", md.SourceCount, md.EntityCount, md.RelationCount)
	fmt.Fprintf(out, "  saved to: %s\n", mergedPath(opts.output))

	if opts.exportCSV {
		entitiesPath, relationsPath, err := writeMergedCSV(opts.output, merged)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  csv: %s, %s\n", entitiesPath, relationsPath)
	}
	return nil
}

// mergeStorages lists where the merged graph is written: always the local
// file, plus Neo4j when a URI is given on the command line or in the config.
func (a *app) mergeStorages(cmd *cobra.Command, opts *mergeOptions) ([]store.GraphStorage, error) {
	storages := []store.GraphStorage{store.NewFileStorage(filepath.Dir(opts.output))}

	params := neo4j.NewNeo4jGraphStorageParams{
		URI:       firstNonEmpty(opts.neo4jURI, a.cfg.Neo4j.URI),
		User:      firstNonEmpty(opts.neo4jUser, a.cfg.Neo4j.User),
		Password:  firstNonEmpty(opts.neo4jPassword, a.cfg.Neo4j.Password),
		Database:  firstNonEmpty(opts.neo4jDatabase, a.cfg.Neo4j.Database),
		BatchSize: a.cfg.Neo4j.BatchSize,
	}
	if params.URI == "" {
		return storages, nil
	}
	s, err := neo4j.NewNeo4jGraphStorage(cmd.Context(), params)
	if err != nil {
		return nil, err
	}
	logger.Info("[Merge] Writing to Neo4j", "uri", params.URI, "database", params.Database)
	return append(storages, s), nil
}

func closeStorages(cmd *cobra.Command, storages []store.GraphStorage) {
	for _, s := range storages {
		if err := s.Close(cmd.Context()); err != nil {
			logger.Warn("[Merge] Failed to close storage", "err", err)
		}
	}
}

// mergedPath is where FileStorage puts the graph for output.
func mergedPath(output string) string {
	stem := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	return filepath.Join(filepath.Dir(output), stem+".json")
}

// writeMergedCSV writes <output>_entities.csv (text,type,occurrences) and
// <output>_relations.csv (source,target,relation,weight).
func writeMergedCSV(output string, merged common.Fragment) (string, string, error) {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	entitiesPath := base + "_entities.csv"
	relationsPath := base + "_relations.csv"

	var entityRows [][]string
	for _, t := range merged.Entities.Types() {
		for _, e := range merged.Entities[t] {
			entityRows = append(entityRows, []string{e.Text, t, strconv.Itoa(e.Occurrences)})
		}
	}
	if err := export.WriteCSV(entitiesPath, []string{"text", "type", "occurrences"}, entityRows); err != nil {
		return "", "", err
	}

	relationRows := make([][]string, 0, len(merged.Relations))
	for _, r := range merged.Relations {
		relationRows = append(relationRows, []string{
			r.Source.Text,
			r.Target.Text,
			r.Relation,
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		})
	}
	if err := export.WriteCSV(relationsPath, []string{"source", "target", "relation", "weight"}, relationRows); err != nil {
		return "", "", err
	}
	return entitiesPath, relationsPath, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
