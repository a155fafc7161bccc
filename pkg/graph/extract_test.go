package graph

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/common"
)

func TestEntityExtractor_Extract(t *testing.T) {
	c := &scriptedCompleter{entityReply: "结果如下：\n```json\n" + `{
  "疾病": [{"text": "矽肺", "occurrences": 5}, {"text": "肺纤维化", "occurrences": 0}],
  "基因": [{"text": "IL-6"}, {"occurrences": 2}, "TNF"],
  "其他": [{"text": "ignored"}]
}` + "\n```"}
	x := NewEntityExtractor(NewEntityExtractorParams{Client: c, Types: []string{"疾病", "基因", "药物"}})

	got := x.Extract(context.Background(), "矽肺患者IL-6升高。")
	if got.Err != nil {
		t.Fatalf("Extract() error = %v", got.Err)
	}

	want := common.Entities{
		"疾病": {{Text: "矽肺", Occurrences: 5}, {Text: "肺纤维化", Occurrences: 1}},
		"基因": {{Text: "IL-6", Occurrences: 1}},
		"药物": {},
	}
	if !reflect.DeepEqual(got.Entities, want) {
		t.Fatalf("Extract() = %#v, want %#v", got.Entities, want)
	}

	o := c.opts[0]
	if o.Temperature != DefaultEntityTemperature || o.MaxTokens != DefaultMaxTokens {
		t.Errorf("options = %+v", o)
	}
	if !strings.Contains(c.prompts[0], `"疾病, 基因, 药物"`) {
		t.Errorf("prompt does not list the entity types")
	}
}

func TestEntityExtractor_Failures(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{name: "empty reply", reply: "", wantErr: ErrEmptyResponse},
		{name: "no json", reply: "抱歉，我无法完成。", wantErr: ai.ErrNoJSON},
		{name: "array instead of object", reply: `[{"text": "矽肺"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{entityReply: tt.reply}
			x := NewEntityExtractor(NewEntityExtractorParams{Client: c, Types: []string{"疾病", "基因"}})

			got := x.Extract(context.Background(), "text")
			if got.Err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(got.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", got.Err, tt.wantErr)
			}
			if tt.reply != "" {
				var pe *ParseError
				if !errors.As(got.Err, &pe) || pe.Stage != "entity" {
					t.Errorf("Err = %v, want *ParseError", got.Err)
				}
			}
			want := common.Entities{"疾病": {}, "基因": {}}
			if !reflect.DeepEqual(got.Entities, want) {
				t.Errorf("Entities = %#v, want empty lists for every type", got.Entities)
			}
		})
	}
}

func TestEntityExtractor_PromptTruncationAndHints(t *testing.T) {
	c := &scriptedCompleter{entityReply: "{}"}
	x := NewEntityExtractor(NewEntityExtractorParams{Client: c, MaxTextLength: 10})

	x.Extract(context.Background(), strings.Repeat("矽", 25), "Silicon Dioxide", "Interleukin-6")

	prompt := c.prompts[0]
	if !strings.Contains(prompt, strings.Repeat("矽", 10)+ai.TruncationMarker) {
		t.Error("long text should be truncated with the marker")
	}
	if strings.Contains(prompt, strings.Repeat("矽", 11)) {
		t.Error("text beyond the limit leaked into the prompt")
	}
	if !strings.Contains(prompt, "Silicon Dioxide; Interleukin-6") {
		t.Error("chemical hints missing from prompt")
	}
}

func twoEntities() common.Entities {
	return common.Entities{
		"基因": {{Text: "IL-6", Occurrences: 3}},
		"疾病": {{Text: "矽肺", Occurrences: 5}},
	}
}

func TestRelationExtractor_Extract(t *testing.T) {
	reply := `[
  {"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "相关", "confidence": 0.9},
  {"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "加重"},
  {"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "unknown", "confidence": 0.9},
  {"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "引起", "confidence": 1.5},
  {"source": {"text": "IL-6"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "引起", "confidence": 0.5},
  {"source": {"text": "IL-6", "type": "基因"}, "relation": "引起"},
  "not an object"
]`
	c := &scriptedCompleter{relationReply: reply}
	x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

	got := x.Extract(context.Background(), "text", twoEntities())
	if got.Err != nil {
		t.Fatalf("Extract() error = %v", got.Err)
	}

	src := common.EntityRef{Text: "IL-6", Type: "基因"}
	tgt := common.EntityRef{Text: "矽肺", Type: "疾病"}
	want := []common.Relation{
		{Source: src, Target: tgt, Relation: "相关", Confidence: 0.9},
		{Source: src, Target: tgt, Relation: "加重", Confidence: common.DefaultConfidence},
	}
	if !reflect.DeepEqual(got.Relations, want) {
		t.Fatalf("Extract() = %+v, want %+v", got.Relations, want)
	}

	prompt := c.prompts[0]
	if !strings.Contains(prompt, `{"text":"矽肺","type":"疾病"}`) {
		t.Error("entity list should be unescaped JSON")
	}
	if !strings.Contains(prompt, `"confidence"`) || !strings.Contains(prompt, "治疗, 预防") {
		t.Error("prompt should carry the answer schema and the relation vocabulary")
	}
	if c.opts[0].Temperature != DefaultRelationTemperature {
		t.Errorf("temperature = %v", c.opts[0].Temperature)
	}
}

func TestRelationExtractor_WrappedObject(t *testing.T) {
	c := &scriptedCompleter{relationReply: `{"relations": [{"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "相关", "confidence": 0.7}]}`}
	x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

	got := x.Extract(context.Background(), "text", twoEntities())
	if got.Err != nil || len(got.Relations) != 1 || got.Relations[0].Confidence != 0.7 {
		t.Fatalf("Extract() = %+v", got)
	}
}

func TestRelationExtractor_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  error
	}{
		{name: "empty", reply: "", want: ErrEmptyResponse},
		{name: "object without relations", reply: `{"foo": 1}`},
		{name: "no json", reply: "none", want: ai.ErrNoJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{relationReply: tt.reply}
			x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

			got := x.Extract(context.Background(), "text", twoEntities())
			if got.Err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(got.Err, tt.want) {
				t.Errorf("Err = %v, want %v", got.Err, tt.want)
			}
			if got.Relations == nil || len(got.Relations) != 0 {
				t.Errorf("Relations = %#v, want empty list", got.Relations)
			}
		})
	}
}

func TestRelationExtractor_TooFewEntities(t *testing.T) {
	c := &scriptedCompleter{relationReply: "[]"}
	x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

	got := x.Extract(context.Background(), "text", common.Entities{"疾病": {{Text: "矽肺", Occurrences: 1}}, "基因": {}})
	if got.Err != nil || len(got.Relations) != 0 {
		t.Fatalf("Extract() = %+v", got)
	}
	if c.calls() != 0 {
		t.Fatalf("expected no model call, got %d", c.calls())
	}
}

func TestEntityExtractor_SkipsBracketedProse(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []common.Entity
	}{
		{
			name:  "citation before object",
			reply: `根据文献[1]，结果如下：{"基因":[{"text":"IL-6","occurrences":2}]}`,
			want:  []common.Entity{{Text: "IL-6", Occurrences: 2}},
		},
		{
			name:  "occurrences beyond int range",
			reply: `{"基因":[{"text":"IL-6","occurrences":1e30}]}`,
			want:  []common.Entity{{Text: "IL-6", Occurrences: math.MaxInt}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedCompleter{entityReply: tt.reply}
			x := NewEntityExtractor(NewEntityExtractorParams{Client: c, Types: []string{"基因"}})

			got := x.Extract(context.Background(), "text")
			if got.Err != nil {
				t.Fatalf("Extract() error = %v", got.Err)
			}
			if !reflect.DeepEqual(got.Entities["基因"], tt.want) {
				t.Fatalf("Entities = %#v, want %#v", got.Entities["基因"], tt.want)
			}
		})
	}
}

func TestOccurrences(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{in: float64(3), want: 3},
		{in: float64(0), want: 1},
		{in: float64(-5), want: 1},
		{in: "3", want: 1},
		{in: nil, want: 1},
		{in: 1e30, want: math.MaxInt},
		{in: math.NaN(), want: 1},
	}
	for _, tt := range tests {
		if got := occurrences(tt.in); got != tt.want {
			t.Errorf("occurrences(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRelationExtractor_SkipsBracketedProse(t *testing.T) {
	c := &scriptedCompleter{relationReply: `参见[1]和[2, 3]。{"relations": [{"source": {"text": "IL-6", "type": "基因"}, "target": {"text": "矽肺", "type": "疾病"}, "relation": "相关", "confidence": 0.6}]}`}
	x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

	got := x.Extract(context.Background(), "text", twoEntities())
	if got.Err != nil {
		t.Fatalf("Extract() error = %v", got.Err)
	}
	if len(got.Relations) != 1 || got.Relations[0].Relation != "相关" {
		t.Fatalf("Relations = %+v", got.Relations)
	}
}

func TestRelationExtractor_CitationOnlyIsReported(t *testing.T) {
	c := &scriptedCompleter{relationReply: `未发现关系[1]`}
	x := NewRelationExtractor(NewRelationExtractorParams{Client: c})

	got := x.Extract(context.Background(), "text", twoEntities())
	var pe *ParseError
	if !errors.As(got.Err, &pe) || pe.Stage != "relation" {
		t.Fatalf("Err = %v, want a relation *ParseError", got.Err)
	}
	if got.Relations == nil || len(got.Relations) != 0 {
		t.Fatalf("Relations = %#v, want empty list", got.Relations)
	}
}
