package graph

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/loader"
	"github.com/biomedkg/kgx/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ErrNoText is returned when an input file yields no text to extract from.
var ErrNoText = errors.New("could not extract text content")

// maxHints caps the chemical names offered to the entity extractor.
const maxHints = 50

// FileResult describes one processed input file.
type FileResult struct {
	File      string
	OutputDir string
	Chunks    int
	Fragment  common.Fragment
	Manifest  export.Manifest
	// Failed extraction calls. They leave gaps but never fail the file.
	EntityFailures   int
	RelationFailures int
}

// ProcessDocument runs the pipeline on one input file and writes the
// result to outputDir in the given format.
func (g *GraphClient) ProcessDocument(ctx context.Context, file loader.GraphFile, outputDir string, format string) (*FileResult, error) {
	c, err := g.completer()
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	return g.processDocument(ctx, c, file, outputDir, format)
}

// DocumentOutputDir is the directory a single file is written to:
// outputDir joined with the file name without its extension.
func DocumentOutputDir(outputDir, path string) string {
	base := filepath.Base(path)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base)))
}

func (g *GraphClient) processDocument(
	ctx context.Context,
	c ai.Completer,
	file loader.GraphFile,
	outputDir string,
	format string,
) (*FileResult, error) {
	start := time.Now()
	res, err := g.runPipeline(ctx, c, file, outputDir, format)
	if err != nil {
		g.observeFile("error", time.Since(start))
		return nil, err
	}
	g.observeFile("success", time.Since(start))
	g.observeExtraction(res.Fragment.Metadata.EntityCount, res.Fragment.Metadata.RelationCount)
	return res, nil
}

func (g *GraphClient) runPipeline(
	ctx context.Context,
	c ai.Completer,
	file loader.GraphFile,
	outputDir string,
	format string,
) (*FileResult, error) {
	raw, err := file.GetText(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.FilePath, err)
	}
	docs, err := loader.ReadDocuments(file.FilePath, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file.FilePath, err)
	}

	text := loader.DocumentText(docs)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", file.FilePath, ErrNoText)
	}

	chunks, err := SplitText(text, g.maxChunkSize, g.overlapSize)
	if err != nil {
		return nil, err
	}
	logger.Info("[Graph] Processing document", "file", file.FilePath, "documents", len(docs), "chunks", len(chunks))

	entityExtractor, relationExtractor := g.extractors(c)
	hints := chemicalHints(docs)

	entityResults := make([]EntityResult, len(chunks))
	err = g.forEachChunk(ctx, chunks, func(ctx context.Context, i int, chunk string) {
		entityResults[i] = entityExtractor.Extract(ctx, chunk, hints...)
	})
	if err != nil {
		return nil, err
	}

	result := &FileResult{File: file.FilePath, OutputDir: outputDir, Chunks: len(chunks)}

	var entities common.Entities
	for i, r := range entityResults {
		if r.Err != nil {
			result.EntityFailures++
			logger.Warn("[Graph] Entity extraction failed", "file", file.FilePath, "chunk", i+1, "err", r.Err)
		}
		entities = mergeEntities(entities, r.Entities)
	}
	logger.Info("[Graph] Entities extracted", "file", file.FilePath, "count", entities.Count())

	relationResults := make([]RelationResult, len(chunks))
	err = g.forEachChunk(ctx, chunks, func(ctx context.Context, i int, chunk string) {
		relationResults[i] = relationExtractor.Extract(ctx, chunk, entities)
	})
	if err != nil {
		return nil, err
	}

	var relations []common.Relation
	for i, r := range relationResults {
		if r.Err != nil {
			result.RelationFailures++
			logger.Warn("[Graph] Relation extraction failed", "file", file.FilePath, "chunk", i+1, "err", r.Err)
		}
		relations = mergeRelations(relations, r.Relations)
	}
	logger.Info("[Graph] Relations extracted", "file", file.FilePath, "count", len(relations))

	if g.verbose {
		if err := export.WriteJSON(filepath.Join(outputDir, "raw_entities.json"), entities); err != nil {
			return nil, err
		}
		if err := export.WriteJSON(filepath.Join(outputDir, "raw_relations.json"), relations); err != nil {
			return nil, err
		}
	}

	result.Fragment = common.NewFragment(entities, relations, loader.DocumentMetadata(docs))
	result.Manifest, err = export.Format(result.Fragment, format, outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	return result, nil
}

// forEachChunk calls fn for every chunk with at most g.parallelChunks in
// flight. Results are written by index so merge order stays stable.
func (g *GraphClient) forEachChunk(ctx context.Context, chunks []string, fn func(ctx context.Context, i int, chunk string)) error {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelChunks)

	for i, chunk := range chunks {
		if err := gCtx.Err(); err != nil {
			break
		}
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			logger.Debug("[Graph] Extracting chunk", "chunk", i+1, "total", len(chunks))
			fn(gCtx, i, chunk)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func chemicalHints(docs []common.Document) []string {
	seen := make(map[string]struct{})
	var hints []string
	for _, d := range docs {
		for _, term := range loader.ChemicalTerms(d) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			hints = append(hints, term)
			if len(hints) == maxHints {
				return hints
			}
		}
	}
	return hints
}
