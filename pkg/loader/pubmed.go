package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/biomedkg/kgx/pkg/common"
)

// DocumentSeparator separates the text blocks of consecutive documents.
var DocumentSeparator = "\n\n" + strings.Repeat("-", 80) + "\n\n"

// metadataFields are copied from each record into its metadata. Missing
// fields are stored as empty strings.
var metadataFields = []string{"pmid", "title", "authors", "journal", "publication_date", "chemicals", "mesh_terms"}

// ParseDocuments decodes a JSON array of crawler records.
func ParseDocuments(raw []byte) ([]common.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	docs := make([]common.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, documentFromRecord(r))
	}
	return docs, nil
}

// ReadDocuments turns file content into documents. JSON files are parsed
// as record arrays; any other file becomes a single plain text document.
func ReadDocuments(path string, raw []byte) ([]common.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return []common.Document{{
			ID:       filepath.Base(path),
			Abstract: string(raw),
			Metadata: common.Metadata{"source": filepath.Base(path)},
		}}, nil
	default:
		return ParseDocuments(raw)
	}
}

func documentFromRecord(r map[string]any) common.Document {
	md := make(common.Metadata, len(metadataFields)+1)
	for _, f := range metadataFields {
		if v, ok := r[f]; ok && v != nil {
			md[f] = v
		} else {
			md[f] = ""
		}
	}
	if v, ok := r["id"]; ok {
		md["id"] = v
	}

	id := stringField(r, "pmid")
	if id == "" {
		id = stringField(r, "id")
	}

	return common.Document{
		ID:       id,
		Title:    stringField(r, "title"),
		Abstract: stringField(r, "abstract"),
		Metadata: md,
	}
}

func stringField(r map[string]any, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DocumentText renders documents into the text sent to the extractors.
// Plain text documents without a title are passed through as is.
func DocumentText(docs []common.Document) string {
	var b strings.Builder
	for _, d := range docs {
		if d.Title == "" && d.Metadata["pmid"] == nil {
			b.WriteString(d.Abstract)
			continue
		}
		pmid := d.ID
		if pmid == "" {
			pmid = "Unknown"
		}
		fmt.Fprintf(&b, "PMID: %s\n标题: %s\n摘要: %s\n", pmid, d.Title, d.Abstract)
		b.WriteString(DocumentSeparator)
	}
	return b.String()
}

// DocumentMetadata lists the metadata of each document.
func DocumentMetadata(docs []common.Document) []common.Metadata {
	out := make([]common.Metadata, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Metadata)
	}
	return out
}

// ChemicalTerms returns the chemical names annotated on a record. The
// crawler stores them as "0 (Silicon Dioxide); 0 (Interleukin-6)".
func ChemicalTerms(doc common.Document) []string {
	raw, _ := doc.Metadata["chemicals"].(string)
	if raw == "" {
		return nil
	}

	var terms []string
	for _, term := range strings.Split(raw, "; ") {
		if _, after, ok := strings.Cut(term, " ("); ok {
			term = strings.TrimRight(after, ")")
		}
		term = strings.TrimSpace(term)
		if term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
