package kgraph

import (
	"cmp"
	"math"
	"slices"

	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/logger"

	"gonum.org/v1/gonum/graph/network"
)

const (
	StatisticsFileName = "kg_statistics.json"

	// BetweennessUnavailable replaces the betweenness ranking when the
	// graph is too small for a normalized value.
	BetweennessUnavailable = "图结构不支持计算中介中心性"

	topN        = 10
	unknownType = "未知"
)

// DegreeScore is one entry of the degree ranking.
type DegreeScore struct {
	Node   string  `json:"节点"`
	Degree float64 `json:"度数中心性"`
}

// BetweennessScore is one entry of the betweenness ranking.
type BetweennessScore struct {
	Node        string  `json:"节点"`
	Betweenness float64 `json:"中介中心性"`
}

// Stats summarizes a graph. TopBetweenness holds a []BetweennessScore or
// the BetweennessUnavailable sentinel.
type Stats struct {
	NodeCount      int            `json:"节点总数"`
	EdgeCount      int            `json:"边总数"`
	NodeTypes      map[string]int `json:"节点类型统计"`
	RelationTypes  map[string]int `json:"关系类型统计"`
	TopDegree      []DegreeScore  `json:"度数最高的节点"`
	TopBetweenness any            `json:"中心性最高的节点"`
}

// Statistics counts nodes, edges, types and labels and ranks the top ten
// nodes by degree and betweenness centrality.
func (kg *Graph) Statistics() Stats {
	stats := Stats{
		NodeCount:     len(kg.nodes),
		EdgeCount:     len(kg.edges),
		NodeTypes:     make(map[string]int),
		RelationTypes: make(map[string]int),
		TopDegree:     []DegreeScore{},
	}
	for _, n := range kg.nodes {
		t := n.Type
		if t == "" {
			t = unknownType
		}
		stats.NodeTypes[t]++
	}
	for _, e := range kg.edges {
		label := e.Label
		if label == "" {
			label = unknownType
		}
		stats.RelationTypes[label]++
	}

	for id, score := range kg.DegreeCentrality() {
		stats.TopDegree = append(stats.TopDegree, DegreeScore{Node: id, Degree: round3(score)})
	}
	slices.SortFunc(stats.TopDegree, func(a, b DegreeScore) int {
		return cmp.Or(cmp.Compare(b.Degree, a.Degree), cmp.Compare(a.Node, b.Node))
	})
	stats.TopDegree = stats.TopDegree[:min(topN, len(stats.TopDegree))]

	betweenness, ok := kg.BetweennessCentrality()
	if !ok {
		stats.TopBetweenness = BetweennessUnavailable
		return stats
	}
	ranked := make([]BetweennessScore, 0, len(betweenness))
	for id, score := range betweenness {
		ranked = append(ranked, BetweennessScore{Node: id, Betweenness: round3(score)})
	}
	slices.SortFunc(ranked, func(a, b BetweennessScore) int {
		return cmp.Or(cmp.Compare(b.Betweenness, a.Betweenness), cmp.Compare(a.Node, b.Node))
	})
	stats.TopBetweenness = ranked[:min(topN, len(ranked))]
	return stats
}

// DegreeCentrality is in plus out degree over n-1, parallel edges counted
// separately. A single node scores 1.
func (kg *Graph) DegreeCentrality() map[string]float64 {
	n := len(kg.nodes)
	scores := make(map[string]float64, n)
	if n == 1 {
		scores[kg.nodes[0].ID] = 1
		return scores
	}

	degree := make(map[string]int, n)
	for _, e := range kg.edges {
		degree[e.Source]++
		degree[e.Target]++
	}
	for _, node := range kg.nodes {
		scores[node.ID] = float64(degree[node.ID]) / float64(n-1)
	}
	return scores
}

// BetweennessCentrality is the shortest path betweenness of every node,
// normalized by (n-1)(n-2) for directed graphs. Parallel edges do not add
// paths. It reports false for graphs with fewer than three nodes.
func (kg *Graph) BetweennessCentrality() (map[string]float64, bool) {
	n := len(kg.nodes)
	if n < 3 {
		return nil, false
	}

	raw := network.Betweenness(kg.g)
	scale := 1 / float64((n-1)*(n-2))
	scores := make(map[string]float64, n)
	for _, node := range kg.nodes {
		scores[node.ID] = raw[node.gid] * scale
	}
	return scores, true
}

// WriteStatistics computes Statistics and writes them to path.
func (kg *Graph) WriteStatistics(path string) (Stats, error) {
	stats := kg.Statistics()
	if err := export.WriteJSON(path, stats); err != nil {
		return stats, err
	}
	logger.Info("[KGraph] Statistics written", "path", path, "nodes", stats.NodeCount, "edges", stats.EdgeCount)
	return stats, nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
