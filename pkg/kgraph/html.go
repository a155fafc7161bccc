package kgraph

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/biomedkg/kgx/pkg/logger"
)

const (
	HTMLFileName = "knowledge_graph.html"

	// visNetworkURL is loaded by the page; the graph data is inlined.
	visNetworkURL = "https://unpkg.com/vis-network@9.1.9/standalone/umd/vis-network.min.js"
	unknownColor  = "#AAAAAA"
)

// TypeColors assigns a color to each entity type, Chinese and English
// names alike.
var TypeColors = map[string]string{
	"疾病":                "#FF6666",
	"Disease":           "#FF6666",
	"药物":                "#66CC66",
	"Drug":              "#66CC66",
	"靶点":                "#6666FF",
	"Target":            "#6666FF",
	"生物过程":              "#FFCC66",
	"BiologicalProcess": "#FFCC66",
	"基因":                "#66CCFF",
	"Gene":              "#66CCFF",
	"蛋白质":               "#CC66CC",
	"Protein":           "#CC66CC",
	"生物标志物":             "#CCCC66",
	"Biomarker":         "#CCCC66",
}

// TypeColor returns the palette color of an entity type, gray when the
// type is unknown.
func TypeColor(entityType string) string {
	if c, ok := TypeColors[entityType]; ok {
		return c
	}
	return unknownColor
}

type visNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Title string `json:"title"`
	Color string `json:"color"`
	Size  int    `json:"size"`
}

type visEdge struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Label string  `json:"label"`
	Title string  `json:"title"`
	Width float64 `json:"width"`
}

var visOptions = map[string]any{
	"nodes": map[string]any{
		"font":        map[string]any{"size": 14, "face": "Arial"},
		"borderWidth": 2,
		"shadow":      true,
	},
	"edges": map[string]any{
		"arrows": "to",
		"font":   map[string]any{"size": 12, "face": "Arial"},
		"smooth": map[string]any{"type": "continuous", "forceDirection": "none"},
	},
	"physics": map[string]any{
		"barnesHut": map[string]any{
			"gravitationalConstant": -8000,
			"springConstant":        0.01,
			"springLength":          150,
		},
		"minVelocity": 0.75,
	},
}

var pageTemplate = template.Must(template.New("graph").Parse(`<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.Script}}"></script>
<style>
  html, body { margin: 0; font-family: Arial, sans-serif; }
  #graph { width: 100%; height: 800px; background: #ffffff; }
  .tooltip { white-space: pre-line; }
</style>
</head>
<body>
<div id="graph"></div>
<script>
  const withTooltip = (item) => {
    const el = document.createElement("div");
    el.className = "tooltip";
    el.innerText = item.title;
    return Object.assign({}, item, { title: el });
  };
  const nodes = new vis.DataSet({{.Nodes}}.map(withTooltip));
  const edges = new vis.DataSet({{.Edges}}.map(withTooltip));
  new vis.Network(document.getElementById("graph"), { nodes, edges }, {{.Options}});
</script>
</body>
</html>
`))

// RenderHTML writes a self-contained interactive page. Nodes are colored
// by type and sized by occurrences; edges are labeled with the relation
// and widened by confidence.
func (kg *Graph) RenderHTML(path string) error {
	nodes := make([]visNode, 0, len(kg.nodes))
	for _, n := range kg.nodes {
		nodes = append(nodes, visNode{
			ID:    n.ID,
			Label: n.ID,
			Title: fmt.Sprintf("类型: %s\n出现次数: %d", n.Type, n.Occurrences),
			Color: TypeColor(n.Type),
			Size:  20 + 5*n.Occurrences,
		})
	}
	edges := make([]visEdge, 0, len(kg.edges))
	for _, e := range kg.edges {
		edges = append(edges, visEdge{
			From:  e.Source,
			To:    e.Target,
			Label: e.Label,
			Title: fmt.Sprintf("关系: %s\n置信度: %.2f", e.Label, e.Weight),
			Width: 1 + 5*e.Weight,
		})
	}

	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, map[string]any{
		"Title":   "知识图谱",
		"Script":  visNetworkURL,
		"Nodes":   nodes,
		"Edges":   edges,
		"Options": visOptions,
	})
	if err != nil {
		return fmt.Errorf("failed to render html: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info("[KGraph] HTML written", "path", path)
	return nil
}
