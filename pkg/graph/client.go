package graph

import (
	"errors"
	"sync"
	"time"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/loader"
)

// Recorder receives pipeline observations. internal/metrics provides the
// Prometheus backed implementation.
type Recorder interface {
	ObserveFile(status string, duration time.Duration)
	ObserveExtraction(entities, relations int)
	WriteTextfile(path string) error
}

// CompleterFactory builds a fresh completer. Every batch worker gets its
// own, so rate limits apply per worker.
type CompleterFactory func() (ai.Completer, error)

// GraphClient runs the extraction pipeline over documents and batches.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	newCompleter CompleterFactory
	loader       loader.GraphFileLoader

	entityTypes         []string
	relationTypes       []string
	entityTemperature   float64
	relationTemperature float64
	maxTokens           int
	maxTextLength       int
	maxChunkSize        int
	overlapSize         int
	parallelChunks      int
	verbose             bool
	recorder            Recorder

	defaultOnce      sync.Once
	defaultCompleter ai.Completer
	defaultErr       error
}

// NewGraphClientParams defines the configuration for NewGraphClient.
//
// NewCompleter is required. Loader resolves file paths that are handed
// over as plain strings. ParallelChunks bounds concurrent extraction
// requests within one document; 1 keeps chunks sequential. Zero values
// elsewhere fall back to the package defaults.
type NewGraphClientParams struct {
	NewCompleter        CompleterFactory
	Loader              loader.GraphFileLoader
	EntityTypes         []string
	RelationTypes       []string
	EntityTemperature   float64
	RelationTemperature float64
	MaxTokens           int
	MaxTextLength       int
	MaxChunkSize        int
	OverlapSize         int
	ParallelChunks      int
	Verbose             bool
	Recorder            Recorder
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		NewCompleter: func() (ai.Completer, error) { return newAIClient(cfg) },
//		Loader:       io.NewIOGraphFileLoader(),
//		MaxChunkSize: 8000,
//		OverlapSize:  500,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.NewCompleter == nil {
		return nil, errors.New("completer factory is required")
	}

	maxChunkSize := params.MaxChunkSize
	if maxChunkSize == 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	overlapSize := params.OverlapSize
	if params.MaxChunkSize == 0 && overlapSize == 0 {
		overlapSize = DefaultOverlapSize
	}
	if err := ValidateChunkConfig(maxChunkSize, overlapSize); err != nil {
		return nil, err
	}

	parallelChunks := params.ParallelChunks
	if parallelChunks <= 0 {
		parallelChunks = 1
	}
	entityTypes := params.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	relationTypes := params.RelationTypes
	if len(relationTypes) == 0 {
		relationTypes = DefaultRelationTypes
	}

	return &GraphClient{
		newCompleter:        params.NewCompleter,
		loader:              params.Loader,
		entityTypes:         entityTypes,
		relationTypes:       relationTypes,
		entityTemperature:   params.EntityTemperature,
		relationTemperature: params.RelationTemperature,
		maxTokens:           params.MaxTokens,
		maxTextLength:       params.MaxTextLength,
		maxChunkSize:        maxChunkSize,
		overlapSize:         overlapSize,
		parallelChunks:      parallelChunks,
		verbose:             params.Verbose,
		recorder:            params.Recorder,
	}, nil
}

// File wraps path into a GraphFile served by the client's loader.
func (g *GraphClient) File(path string) loader.GraphFile {
	return loader.NewGraphFile(loader.NewGraphFileParams{FilePath: path, Loader: g.loader})
}

func (g *GraphClient) completer() (ai.Completer, error) {
	g.defaultOnce.Do(func() {
		g.defaultCompleter, g.defaultErr = g.newCompleter()
	})
	return g.defaultCompleter, g.defaultErr
}

func (g *GraphClient) extractors(c ai.Completer) (*EntityExtractor, *RelationExtractor) {
	entities := NewEntityExtractor(NewEntityExtractorParams{
		Client:        c,
		Types:         g.entityTypes,
		Temperature:   g.entityTemperature,
		MaxTokens:     g.maxTokens,
		MaxTextLength: g.maxTextLength,
	})
	relations := NewRelationExtractor(NewRelationExtractorParams{
		Client:        c,
		Types:         g.relationTypes,
		Temperature:   g.relationTemperature,
		MaxTokens:     g.maxTokens,
		MaxTextLength: g.maxTextLength,
	})
	return entities, relations
}

func (g *GraphClient) observeFile(status string, d time.Duration) {
	if g.recorder != nil {
		g.recorder.ObserveFile(status, d)
	}
}

func (g *GraphClient) observeExtraction(entities, relations int) {
	if g.recorder != nil {
		g.recorder.ObserveExtraction(entities, relations)
	}
}
