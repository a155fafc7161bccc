package loader

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/biomedkg/kgx/pkg/common"
)

const sampleRecords = `[
  {
    "pmid": "35012345",
    "title": "IL-6 in silicosis",
    "abstract": "IL-6 is elevated in patients with silicosis.",
    "authors": "Zhang W; Li H",
    "journal": "Respir Res",
    "publication_date": "2022-01-10",
    "chemicals": "0 (Interleukin-6); 7631-86-9 (Silicon Dioxide)",
    "mesh_terms": "Silicosis; Interleukin-6",
    "doi": "10.1/xyz"
  },
  {
    "id": 42,
    "title": "Tetrandrine",
    "abstract": "粉防己碱抑制肺纤维化。"
  }
]`

func TestParseDocuments(t *testing.T) {
	docs, err := ParseDocuments([]byte(sampleRecords))
	if err != nil {
		t.Fatalf("ParseDocuments() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	first := docs[0]
	if first.ID != "35012345" || first.Title != "IL-6 in silicosis" {
		t.Errorf("first document = %+v", first)
	}
	if _, ok := first.Metadata["doi"]; ok {
		t.Errorf("metadata should only carry projected fields, got %v", first.Metadata)
	}
	if first.Metadata["journal"] != "Respir Res" {
		t.Errorf("journal = %v", first.Metadata["journal"])
	}

	second := docs[1]
	if second.ID != "42" {
		t.Errorf("ID = %q, want 42", second.ID)
	}
	if second.Metadata["pmid"] != "" || second.Metadata["authors"] != "" {
		t.Errorf("missing fields should be empty strings, got %v", second.Metadata)
	}
	if second.Metadata["id"] != json.Number("42") {
		t.Errorf("id = %#v, want json.Number 42", second.Metadata["id"])
	}
}

func TestParseDocuments_Invalid(t *testing.T) {
	for _, raw := range []string{"", "{}", "not json", `[{"pmid": 1`} {
		if _, err := ParseDocuments([]byte(raw)); err == nil {
			t.Errorf("ParseDocuments(%q) expected error", raw)
		}
	}
}

func TestDocumentText(t *testing.T) {
	docs := []common.Document{
		{ID: "1", Title: "A", Abstract: "alpha", Metadata: common.Metadata{"pmid": "1"}},
		{Title: "B", Abstract: "beta", Metadata: common.Metadata{"pmid": ""}},
	}

	got := DocumentText(docs)
	want := "PMID: 1\n标题: A\n摘要: alpha\n" + DocumentSeparator +
		"PMID: Unknown\n标题: B\n摘要: beta\n" + DocumentSeparator
	if got != want {
		t.Fatalf("DocumentText() =\n%q\nwant\n%q", got, want)
	}
	if !strings.Contains(DocumentSeparator, strings.Repeat("-", 80)) {
		t.Fatal("separator should contain an 80 dash rule")
	}
}

func TestReadDocuments_PlainText(t *testing.T) {
	docs, err := ReadDocuments("notes/abstract.txt", []byte("矽肺是一种职业病。"))
	if err != nil {
		t.Fatalf("ReadDocuments() error = %v", err)
	}
	if got := DocumentText(docs); got != "矽肺是一种职业病。" {
		t.Fatalf("DocumentText() = %q", got)
	}
	if docs[0].Metadata["source"] != "abstract.txt" {
		t.Fatalf("metadata = %v", docs[0].Metadata)
	}
}

func TestChemicalTerms(t *testing.T) {
	tests := []struct {
		name      string
		chemicals any
		want      []string
	}{
		{
			name:      "wrapped names",
			chemicals: "0 (Interleukin-6); 0 (Silicon Dioxide)",
			want:      []string{"Interleukin-6", "Silicon Dioxide"},
		},
		{
			name:      "plain names",
			chemicals: "Tetrandrine; Pirfenidone",
			want:      []string{"Tetrandrine", "Pirfenidone"},
		},
		{
			name:      "empty",
			chemicals: "",
			want:      nil,
		},
		{
			name:      "not a string",
			chemicals: 3,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := common.Document{Metadata: common.Metadata{"chemicals": tt.chemicals}}
			if got := ChemicalTerms(doc); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ChemicalTerms() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
