// Package kgraph turns a merged knowledge graph fragment into a directed
// multigraph and derives exports, a browser visualization and statistics
// from it.
package kgraph

import (
	"fmt"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/store"

	"gonum.org/v1/gonum/graph/multi"
)

// Node is one entity of the graph, keyed by its text.
type Node struct {
	ID          string
	Type        string
	Occurrences int

	gid int64
}

// Edge is one relation between two nodes. Parallel edges are kept.
type Edge struct {
	Source string
	Target string
	Label  string
	Weight float64
}

// Graph is a directed multigraph built from a fragment. Nodes and edges
// keep their insertion order.
type Graph struct {
	g     *multi.DirectedGraph
	nodes []Node
	index map[string]int
	edges []Edge
}

// Load reads a fragment file and builds its graph.
func Load(path string) (*Graph, error) {
	raw, err := store.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fragment, err := store.DecodeFragment(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return Build(fragment), nil
}

// Build creates one node per entity text, the first type seen winning, and
// one edge per relation whose endpoints are both nodes. Relations pointing
// at unknown entities are skipped.
func Build(fragment common.Fragment) *Graph {
	kg := &Graph{
		g:     multi.NewDirectedGraph(),
		index: make(map[string]int),
	}

	for _, t := range fragment.Entities.Types() {
		for _, e := range fragment.Entities[t] {
			if e.Text == "" {
				continue
			}
			if _, ok := kg.index[e.Text]; ok {
				continue
			}
			n := kg.g.NewNode()
			kg.g.AddNode(n)
			kg.index[e.Text] = len(kg.nodes)
			kg.nodes = append(kg.nodes, Node{ID: e.Text, Type: t, Occurrences: max(e.Occurrences, 1), gid: n.ID()})
		}
	}

	skipped := 0
	for _, r := range fragment.Relations {
		if r.Source.Text == "" || r.Target.Text == "" || r.Relation == "" {
			skipped++
			continue
		}
		from, ok := kg.index[r.Source.Text]
		if !ok {
			skipped++
			continue
		}
		to, ok := kg.index[r.Target.Text]
		if !ok {
			skipped++
			continue
		}
		kg.g.SetLine(kg.g.NewLine(kg.g.Node(kg.nodes[from].gid), kg.g.Node(kg.nodes[to].gid)))
		kg.edges = append(kg.edges, Edge{
			Source: r.Source.Text,
			Target: r.Target.Text,
			Label:  r.Relation,
			Weight: r.Confidence,
		})
	}

	logger.Info("[KGraph] Built graph", "nodes", len(kg.nodes), "edges", len(kg.edges), "skipped_relations", skipped)
	return kg
}

// Nodes returns the nodes in insertion order.
func (kg *Graph) Nodes() []Node {
	return append([]Node(nil), kg.nodes...)
}

// Edges returns the edges in insertion order.
func (kg *Graph) Edges() []Edge {
	return append([]Edge(nil), kg.edges...)
}

// Node looks a node up by its text.
func (kg *Graph) Node(id string) (Node, bool) {
	i, ok := kg.index[id]
	if !ok {
		return Node{}, false
	}
	return kg.nodes[i], true
}

func (kg *Graph) NodeCount() int { return len(kg.nodes) }

func (kg *Graph) EdgeCount() int { return len(kg.edges) }
