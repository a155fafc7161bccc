package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"
)

const turtlePrefixes = `@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl: <http://www.w3.org/2002/07/owl#> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
@prefix bio: <http://example.org/biomedical/> .

`

var turtleEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func saveRDF(fragment common.Fragment, outputDir string) (Manifest, error) {
	path := filepath.Join(outputDir, "knowledge_graph.ttl")
	if err := os.WriteFile(path, []byte(Turtle(fragment)), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write %s: %w", path, err)
	}

	logger.Info("[Export] RDF file saved", "path", path)
	return Manifest{
		Format: FormatRDF,
		Files:  map[string]string{"rdf_file": path},
	}, nil
}

// Turtle renders fragment as Turtle. Each entity becomes a typed, labelled
// resource; each relation with both endpoints known becomes a direct
// triple plus a reified bio:RelationStatement blank node.
func Turtle(fragment common.Fragment) string {
	var b strings.Builder
	b.WriteString(turtlePrefixes)

	ids := make(map[common.EntityRef]string, fragment.Entities.Count())
	n := 0
	for _, t := range fragment.Entities.Types() {
		for _, e := range fragment.Entities[t] {
			n++
			id := fmt.Sprintf("bio:entity_%d", n)
			ids[common.EntityRef{Text: e.Text, Type: t}] = id

			fmt.Fprintf(&b, "%s rdf:type bio:%s .\n", id, localName(t))
			fmt.Fprintf(&b, "%s rdfs:label \"%s\"^^xsd:string .\n", id, turtleEscaper.Replace(e.Text))
			fmt.Fprintf(&b, "%s bio:occurrences \"%d\"^^xsd:integer .\n", id, e.Occurrences)
		}
	}

	blank := 0
	for _, r := range fragment.Relations {
		src, okSrc := ids[r.Source]
		tgt, okTgt := ids[r.Target]
		if !okSrc || !okTgt {
			continue
		}
		blank++
		node := fmt.Sprintf("_:b%d", blank)

		fmt.Fprintf(&b, "%s bio:%s %s .\n", src, localName(r.Relation), tgt)
		fmt.Fprintf(&b, "%s rdf:type bio:RelationStatement .\n", node)
		fmt.Fprintf(&b, "%s bio:hasSource %s .\n", node, src)
		fmt.Fprintf(&b, "%s bio:hasTarget %s .\n", node, tgt)
		fmt.Fprintf(&b, "%s bio:relationType \"%s\"^^xsd:string .\n", node, turtleEscaper.Replace(r.Relation))
		fmt.Fprintf(&b, "%s bio:confidence \"%s\"^^xsd:float .\n", node, formatFloat(r.Confidence))
	}
	return b.String()
}

// localName makes s usable after the bio: prefix. Whitespace becomes '_'.
func localName(s string) string {
	return strings.Join(strings.Fields(s), "_")
}
