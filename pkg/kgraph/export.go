package kgraph

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/biomedkg/kgx/pkg/export"
	"github.com/biomedkg/kgx/pkg/logger"
)

const (
	NodesFileName   = "kg_nodes.csv"
	EdgesFileName   = "kg_edges.csv"
	GraphMLFileName = "knowledge_graph.graphml"

	graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"
)

// ExportCSV writes kg_nodes.csv and kg_edges.csv into dir.
func (kg *Graph) ExportCSV(dir string) (string, string, error) {
	nodeRows := make([][]string, 0, len(kg.nodes))
	for _, n := range kg.nodes {
		nodeRows = append(nodeRows, []string{n.ID, n.ID, n.Type, strconv.Itoa(n.Occurrences)})
	}
	edgeRows := make([][]string, 0, len(kg.edges))
	for _, e := range kg.edges {
		edgeRows = append(edgeRows, []string{e.Source, e.Target, e.Label, formatWeight(e.Weight)})
	}

	nodesPath := filepath.Join(dir, NodesFileName)
	if err := export.WriteCSV(nodesPath, []string{"id", "label", "type", "occurrences"}, nodeRows); err != nil {
		return "", "", err
	}
	edgesPath := filepath.Join(dir, EdgesFileName)
	if err := export.WriteCSV(edgesPath, []string{"source", "target", "relation", "weight"}, edgeRows); err != nil {
		return "", "", err
	}

	logger.Info("[KGraph] CSV written", "nodes", nodesPath, "edges", edgesPath)
	return nodesPath, edgesPath, nil
}

type graphML struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var graphMLKeys = []graphMLKey{
	{ID: "d0", For: "node", AttrName: "label", AttrType: "string"},
	{ID: "d1", For: "node", AttrName: "type", AttrType: "string"},
	{ID: "d2", For: "node", AttrName: "occurrences", AttrType: "long"},
	{ID: "d3", For: "edge", AttrName: "label", AttrType: "string"},
	{ID: "d4", For: "edge", AttrName: "weight", AttrType: "double"},
}

// ExportGraphML writes the graph as a directed GraphML document.
func (kg *Graph) ExportGraphML(path string) error {
	doc := graphML{
		XMLNS: graphMLNamespace,
		Keys:  graphMLKeys,
		Graph: graphMLGraph{EdgeDefault: "directed"},
	}
	for _, n := range kg.nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{
			ID: n.ID,
			Data: []graphMLData{
				{Key: "d0", Value: n.ID},
				{Key: "d1", Value: n.Type},
				{Key: "d2", Value: strconv.Itoa(n.Occurrences)},
			},
		})
	}
	for _, e := range kg.edges {
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{
			Source: e.Source,
			Target: e.Target,
			Data: []graphMLData{
				{Key: "d3", Value: e.Label},
				{Key: "d4", Value: formatWeight(e.Weight)},
			},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode graphml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := append([]byte(xml.Header), out...)
	content = append(content, '\n')
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info("[KGraph] GraphML written", "path", path)
	return nil
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
