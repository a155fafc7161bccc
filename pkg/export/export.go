package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatRDF  = "rdf"
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatCSV, FormatRDF}

// Manifest lists the files written by Format, keyed by role
// (kg_file, entities_file, relations_file, metadata_file, rdf_file).
type Manifest struct {
	Format string
	Files  map[string]string
}

// MarshalJSON flattens the file map next to the format name.
func (m Manifest) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.Files)+1)
	for k, v := range m.Files {
		out[k] = v
	}
	out["format"] = m.Format
	return json.Marshal(out)
}

// ValidFormat reports whether format is one of Formats.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Format writes fragment to outputDir in the requested format. CSV and RDF
// output is accompanied by the JSON files. An unknown format falls back to
// JSON.
func Format(fragment common.Fragment, format string, outputDir string) (Manifest, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create output directory: %w", err)
	}

	format = strings.ToLower(format)
	if !ValidFormat(format) {
		logger.Warn("[Export] Unsupported format, using json", "format", format)
		format = FormatJSON
	}

	jsonManifest, err := saveJSON(fragment, outputDir)
	if err != nil {
		return Manifest{}, err
	}

	switch format {
	case FormatCSV:
		return saveCSV(fragment, outputDir)
	case FormatRDF:
		return saveRDF(fragment, outputDir)
	default:
		return jsonManifest, nil
	}
}

func saveJSON(fragment common.Fragment, outputDir string) (Manifest, error) {
	m := Manifest{
		Format: FormatJSON,
		Files: map[string]string{
			"kg_file":        filepath.Join(outputDir, "knowledge_graph.json"),
			"entities_file":  filepath.Join(outputDir, "entities.json"),
			"relations_file": filepath.Join(outputDir, "relations.json"),
		},
	}

	if err := WriteJSON(m.Files["kg_file"], fragment); err != nil {
		return Manifest{}, err
	}
	if err := WriteJSON(m.Files["entities_file"], fragment.Entities); err != nil {
		return Manifest{}, err
	}
	if err := WriteJSON(m.Files["relations_file"], fragment.Relations); err != nil {
		return Manifest{}, err
	}

	logger.Info("[Export] Knowledge graph saved", "path", m.Files["kg_file"])
	return m, nil
}

func saveCSV(fragment common.Fragment, outputDir string) (Manifest, error) {
	m := Manifest{
		Format: FormatCSV,
		Files: map[string]string{
			"entities_file":  filepath.Join(outputDir, "entities.csv"),
			"relations_file": filepath.Join(outputDir, "relations.csv"),
			"metadata_file":  filepath.Join(outputDir, "metadata.csv"),
		},
	}

	entityRows, ids := EntityRows(fragment.Entities)
	if err := WriteCSV(m.Files["entities_file"], []string{"entity_id", "text", "type", "occurrences"}, entityRows); err != nil {
		return Manifest{}, err
	}

	var relationRows [][]string
	for i, r := range fragment.Relations {
		src, okSrc := ids[r.Source]
		tgt, okTgt := ids[r.Target]
		if !okSrc || !okTgt {
			continue
		}
		relationRows = append(relationRows, []string{
			fmt.Sprintf("REL_%d", i+1),
			src,
			r.Source.Text,
			tgt,
			r.Target.Text,
			r.Relation,
			formatFloat(r.Confidence),
		})
	}
	relationHeader := []string{"relation_id", "source_id", "source_text", "target_id", "target_text", "relation_type", "confidence"}
	if err := WriteCSV(m.Files["relations_file"], relationHeader, relationRows); err != nil {
		return Manifest{}, err
	}

	header, rows := metadataTable(fragment.Metadata.Sources)
	if err := WriteCSV(m.Files["metadata_file"], header, rows); err != nil {
		return Manifest{}, err
	}

	logger.Info("[Export] CSV files saved", "dir", outputDir, "entities", len(entityRows), "relations", len(relationRows))
	return m, nil
}

// EntityRows renders entities as CSV rows with ids of the form
// {type}_{row}, and returns the id of each entity keyed by text and type.
func EntityRows(entities common.Entities) ([][]string, map[common.EntityRef]string) {
	rows := make([][]string, 0, entities.Count())
	ids := make(map[common.EntityRef]string, entities.Count())
	for _, t := range entities.Types() {
		for _, e := range entities[t] {
			id := fmt.Sprintf("%s_%d", t, len(rows)+1)
			ids[common.EntityRef{Text: e.Text, Type: t}] = id
			rows = append(rows, []string{id, e.Text, t, strconv.Itoa(e.Occurrences)})
		}
	}
	return rows, ids
}

func metadataTable(sources []common.Metadata) ([]string, [][]string) {
	keys := make(map[string]struct{})
	for _, s := range sources {
		for k := range s {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = cellValue(s[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

func cellValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	case json.Number:
		return x.String()
	case bool, int, int64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
