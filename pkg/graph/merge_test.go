package graph

import (
	"reflect"
	"testing"

	"github.com/biomedkg/kgx/pkg/common"
)

func TestMergeEntities(t *testing.T) {
	var merged common.Entities
	merged = mergeEntities(merged, common.Entities{
		"疾病": {{Text: "矽肺", Occurrences: 2}},
		"基因": {},
	})
	merged = mergeEntities(merged, common.Entities{
		"疾病": {{Text: "矽肺", Occurrences: 2}, {Text: "矽肺", Occurrences: 3}},
		"药物": {{Text: "粉防己碱", Occurrences: 1}},
	})

	want := common.Entities{
		"疾病": {{Text: "矽肺", Occurrences: 2}, {Text: "矽肺", Occurrences: 3}},
		"基因": {},
		"药物": {{Text: "粉防己碱", Occurrences: 1}},
	}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("mergeEntities() = %#v, want %#v", merged, want)
	}
}

func TestMergeRelations(t *testing.T) {
	r := common.Relation{
		Source:     common.EntityRef{Text: "IL-6", Type: "基因"},
		Target:     common.EntityRef{Text: "矽肺", Type: "疾病"},
		Relation:   "相关",
		Confidence: 0.9,
	}
	other := r
	other.Confidence = 0.8

	got := mergeRelations(nil, []common.Relation{r})
	got = mergeRelations(got, []common.Relation{r, other})

	want := []common.Relation{r, other}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeRelations() = %+v, want %+v", got, want)
	}

	if empty := mergeRelations(nil, nil); empty == nil || len(empty) != 0 {
		t.Fatalf("mergeRelations(nil, nil) = %#v, want empty slice", empty)
	}
}
