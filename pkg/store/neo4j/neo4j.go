// Package neo4j pushes merged knowledge graphs into a Neo4j database.
//
// Entities become (:Entity {graph_id, text, type}) nodes and relations
// become [:RELATES {graph_id, relation}] edges, so several graphs can
// share one database.
package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/store"

	driver "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultBatchSize = 500

const (
	indexQuery = `CREATE INDEX entity_lookup IF NOT EXISTS FOR (e:Entity) ON (e.graph_id, e.text, e.type)`

	graphQuery = `
MERGE (g:KnowledgeGraph {id: $graph_id})
SET g.source_count = $source_count,
    g.entity_count = $entity_count,
    g.relation_count = $relation_count,
    g.updated_at = datetime()`

	entityQuery = `
UNWIND $rows AS row
MERGE (e:Entity {graph_id: $graph_id, text: row.text, type: row.type})
SET e.occurrences = row.occurrences`

	relationQuery = `
UNWIND $rows AS row
MATCH (s:Entity {graph_id: $graph_id, text: row.source, type: row.source_type})
MATCH (t:Entity {graph_id: $graph_id, text: row.target, type: row.target_type})
MERGE (s)-[r:RELATES {graph_id: $graph_id, relation: row.relation}]->(t)
SET r.confidence = row.confidence`

	deleteEntitiesQuery = `MATCH (e:Entity {graph_id: $graph_id}) DETACH DELETE e`
	deleteGraphQuery    = `MATCH (g:KnowledgeGraph {id: $graph_id}) DELETE g`
)

// Runner executes one Cypher statement and buffers its result.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*driver.EagerResult, error)
}

// Executor is the driver backed Runner.
type Executor struct {
	Driver driver.DriverWithContext
	DBName string
}

// NewExecutor creates a driver for uri with basic auth.
func NewExecutor(uri, username, password, dbName string) (*Executor, error) {
	d, err := driver.NewDriverWithContext(uri, driver.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}
	return &Executor{Driver: d, DBName: dbName}, nil
}

func (e *Executor) Run(ctx context.Context, query string, params map[string]any) (*driver.EagerResult, error) {
	result, err := driver.ExecuteQuery(
		ctx,
		e.Driver,
		query,
		params,
		driver.EagerResultTransformer,
		driver.ExecuteQueryWithDatabase(e.DBName),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing neo4j query: %w", err)
	}
	return result, nil
}

// Neo4jGraphStorage implements store.GraphStorage on Neo4j.
type Neo4jGraphStorage struct {
	runner    Runner
	batchSize int
	close     func(ctx context.Context) error
}

var _ store.GraphStorage = (*Neo4jGraphStorage)(nil)

// NewNeo4jGraphStorageParams defines the configuration for
// NewNeo4jGraphStorage. BatchSize bounds the rows sent per statement.
type NewNeo4jGraphStorageParams struct {
	URI       string
	User      string
	Password  string
	Database  string
	BatchSize int
}

// NewNeo4jGraphStorage connects to Neo4j and checks connectivity.
func NewNeo4jGraphStorage(ctx context.Context, params NewNeo4jGraphStorageParams) (*Neo4jGraphStorage, error) {
	if params.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	exec, err := NewExecutor(params.URI, params.User, params.Password, params.Database)
	if err != nil {
		return nil, err
	}
	if err := exec.Driver.VerifyConnectivity(ctx); err != nil {
		_ = exec.Driver.Close(ctx)
		return nil, fmt.Errorf("could not reach neo4j at %s: %w", params.URI, err)
	}

	s := NewNeo4jGraphStorageWithRunner(exec, params.BatchSize)
	s.close = exec.Driver.Close
	return s, nil
}

// NewNeo4jGraphStorageWithRunner creates a storage on top of runner.
func NewNeo4jGraphStorageWithRunner(runner Runner, batchSize int) *Neo4jGraphStorage {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Neo4jGraphStorage{runner: runner, batchSize: batchSize}
}

// SaveGraph upserts the fragment's entities and relations. Relations
// whose endpoints are not entities of the fragment are not written.
func (s *Neo4jGraphStorage) SaveGraph(ctx context.Context, graphID string, fragment common.Fragment) error {
	if _, err := s.runner.Run(ctx, indexQuery, nil); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	md := fragment.Metadata
	_, err := s.runner.Run(ctx, graphQuery, map[string]any{
		"graph_id":       graphID,
		"source_count":   md.SourceCount,
		"entity_count":   md.EntityCount,
		"relation_count": md.RelationCount,
	})
	if err != nil {
		return fmt.Errorf("failed to save graph node: %w", err)
	}

	entities := EntityRows(fragment.Entities)
	err = store.ChunkRange(len(entities), s.batchSize, func(start, end int) error {
		_, err := s.runner.Run(ctx, entityQuery, map[string]any{
			"graph_id": graphID,
			"rows":     entities[start:end],
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save entities: %w", err)
	}

	relations := RelationRows(fragment.Relations)
	err = store.ChunkRange(len(relations), s.batchSize, func(start, end int) error {
		_, err := s.runner.Run(ctx, relationQuery, map[string]any{
			"graph_id": graphID,
			"rows":     relations[start:end],
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save relations: %w", err)
	}

	logger.Info("[Neo4j] Graph saved", "graph", graphID, "entities", len(entities), "relations", len(relations))
	return nil
}

// DeleteGraph removes the graph's entities, their relations and the graph node.
func (s *Neo4jGraphStorage) DeleteGraph(ctx context.Context, graphID string) error {
	params := map[string]any{"graph_id": graphID}
	if _, err := s.runner.Run(ctx, deleteEntitiesQuery, params); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}
	if _, err := s.runner.Run(ctx, deleteGraphQuery, params); err != nil {
		return fmt.Errorf("failed to delete graph node: %w", err)
	}
	return nil
}

func (s *Neo4jGraphStorage) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// EntityRows flattens entities into statement parameters, types in
// sorted order.
func EntityRows(entities common.Entities) []map[string]any {
	rows := make([]map[string]any, 0, entities.Count())
	for _, t := range entities.Types() {
		for _, e := range entities[t] {
			rows = append(rows, map[string]any{
				"text":        e.Text,
				"type":        t,
				"occurrences": int64(e.Occurrences),
			})
		}
	}
	return rows
}

// RelationRows flattens relations into statement parameters.
func RelationRows(relations []common.Relation) []map[string]any {
	rows := make([]map[string]any, 0, len(relations))
	for _, r := range relations {
		rows = append(rows, map[string]any{
			"source":      r.Source.Text,
			"source_type": r.Source.Type,
			"target":      r.Target.Text,
			"target_type": r.Target.Type,
			"relation":    r.Relation,
			"confidence":  r.Confidence,
		})
	}
	return rows
}
