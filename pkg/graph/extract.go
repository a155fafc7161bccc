package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/ai"
	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tidwall/gjson"
)

const (
	DefaultEntityTemperature   = 0.1
	DefaultRelationTemperature = 0.2
	DefaultMaxTokens           = 4000
	DefaultMaxTextLength       = 15000
)

// DefaultEntityTypes is the entity vocabulary used when none is configured.
var DefaultEntityTypes = []string{"疾病", "药物", "靶点", "生物过程", "基因", "蛋白质", "生物标志物"}

// DefaultRelationTypes is the relation vocabulary used when none is configured.
var DefaultRelationTypes = []string{
	"治疗", "预防", "诊断", "引起", "加重", "缓解", "副作用",
	"靶向", "抑制", "激活", "结合", "表达", "调节", "磷酸化", "降解",
	"提取自", "组分", "分离自", "转化为", "代谢为",
	"通过", "上调", "下调", "阻断", "介导",
	"相关", "标志", "指示",
}

// ErrEmptyResponse is reported when the model chain produced no content.
var ErrEmptyResponse = errors.New("empty model response")

// ParseError wraps a model answer that could not be turned into entities
// or relations.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// EntityResult always carries a usable entity map. Err explains why it may
// be empty.
type EntityResult struct {
	Entities common.Entities
	Err      error
}

// RelationResult always carries a usable relation list.
type RelationResult struct {
	Relations []common.Relation
	Err       error
}

// EntityExtractor asks a model for typed entity mentions.
type EntityExtractor struct {
	client        ai.Completer
	types         []string
	temperature   float64
	maxTokens     int
	maxTextLength int
}

// NewEntityExtractorParams configures NewEntityExtractor. Zero values fall
// back to the package defaults.
type NewEntityExtractorParams struct {
	Client        ai.Completer
	Types         []string
	Temperature   float64
	MaxTokens     int
	MaxTextLength int
}

func NewEntityExtractor(params NewEntityExtractorParams) *EntityExtractor {
	types := params.Types
	if len(types) == 0 {
		types = DefaultEntityTypes
	}
	temperature := params.Temperature
	if temperature <= 0 {
		temperature = DefaultEntityTemperature
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTextLength := params.MaxTextLength
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}

	return &EntityExtractor{
		client:        params.Client,
		types:         types,
		temperature:   temperature,
		maxTokens:     maxTokens,
		maxTextLength: maxTextLength,
	}
}

// Types returns the configured entity vocabulary.
func (x *EntityExtractor) Types() []string {
	return append([]string(nil), x.types...)
}

// Extract returns the entities found in text. The result holds one key per
// configured type, empty lists included. hints are known chemical names
// that are offered to the model as a reference.
func (x *EntityExtractor) Extract(ctx context.Context, text string, hints ...string) EntityResult {
	result := x.emptyResult()

	hintBlock := ""
	if len(hints) > 0 {
		hintBlock = fmt.Sprintf(ai.EntityHintBlock, strings.Join(hints, "; "))
	}
	prompt := fmt.Sprintf(
		ai.EntityPrompt,
		strings.Join(x.types, ", "),
		hintBlock,
		util.TruncateRunes(text, x.maxTextLength, ai.TruncationMarker),
	)

	res := x.client.Complete(ctx, prompt, ai.WithTemperature(x.temperature), ai.WithMaxTokens(x.maxTokens))
	if res.Content == "" {
		return EntityResult{Entities: result, Err: errors.Join(ErrEmptyResponse, res.Err)}
	}

	if err := x.parse(res.Content, result); err != nil {
		return EntityResult{Entities: x.emptyResult(), Err: err}
	}
	return EntityResult{Entities: result}
}

func (x *EntityExtractor) emptyResult() common.Entities {
	result := make(common.Entities, len(x.types))
	for _, t := range x.types {
		result[t] = []common.Entity{}
	}
	return result
}

func (x *EntityExtractor) parse(content string, result common.Entities) error {
	raw, err := ai.ExtractJSONSpan(content, "{", nil)
	if err != nil {
		return &ParseError{Stage: "entity", Raw: content, Err: err}
	}

	var byType map[string]json.RawMessage
	if err := ai.UnmarshalFlexible(raw, &byType); err != nil {
		return &ParseError{Stage: "entity", Raw: content, Err: err}
	}

	matched := 0
	for _, t := range x.types {
		if _, ok := byType[t]; ok {
			matched++
		}
	}
	if len(byType) > 0 && matched == 0 {
		return &ParseError{Stage: "entity", Raw: content, Err: errors.New("answer has no entity groups")}
	}

	for _, t := range x.types {
		list, ok := byType[t]
		if !ok {
			continue
		}
		var items []any
		if err := json.Unmarshal(list, &items); err != nil {
			logger.Debug("[Extract] Ignoring non-list entity group", "type", t, "err", err)
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			text, ok := obj["text"].(string)
			if !ok {
				continue
			}
			result[t] = append(result[t], common.Entity{
				Text:        text,
				Occurrences: occurrences(obj["occurrences"]),
			})
		}
	}
	return nil
}

func occurrences(v any) int {
	n, ok := v.(float64)
	if !ok || math.IsNaN(n) || n < 1 {
		return 1
	}
	if n >= math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// RelationExtractor asks a model for typed relations between known entities.
type RelationExtractor struct {
	client        ai.Completer
	types         []string
	allowed       mapset.Set[string]
	temperature   float64
	maxTokens     int
	maxTextLength int
}

type NewRelationExtractorParams struct {
	Client        ai.Completer
	Types         []string
	Temperature   float64
	MaxTokens     int
	MaxTextLength int
}

func NewRelationExtractor(params NewRelationExtractorParams) *RelationExtractor {
	types := params.Types
	if len(types) == 0 {
		types = DefaultRelationTypes
	}
	temperature := params.Temperature
	if temperature <= 0 {
		temperature = DefaultRelationTemperature
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTextLength := params.MaxTextLength
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}

	return &RelationExtractor{
		client:        params.Client,
		types:         types,
		allowed:       mapset.NewSet(types...),
		temperature:   temperature,
		maxTokens:     maxTokens,
		maxTextLength: maxTextLength,
	}
}

// relationAnswer documents one element of the expected answer array.
type relationAnswer struct {
	Source     common.EntityRef `json:"source" jsonschema_description:"Source entity, copied from the known entity list"`
	Target     common.EntityRef `json:"target" jsonschema_description:"Target entity, copied from the known entity list"`
	Relation   string           `json:"relation" jsonschema_description:"One of the allowed relation types"`
	Confidence float64          `json:"confidence" jsonschema:"minimum=0,maximum=1" jsonschema_description:"Confidence between 0 and 1"`
}

var relationSchema = ai.SchemaString(relationAnswer{})

// Extract returns the relations between entities found in text. With fewer
// than two entities no request is made.
func (x *RelationExtractor) Extract(ctx context.Context, text string, entities common.Entities) RelationResult {
	if entities.Count() < 2 {
		return RelationResult{Relations: []common.Relation{}}
	}

	entityJSON, err := marshalUnescaped(entities.Flatten())
	if err != nil {
		return RelationResult{Relations: []common.Relation{}, Err: err}
	}

	prompt := fmt.Sprintf(
		ai.RelationPrompt,
		entityJSON,
		strings.Join(x.types, ", "),
		relationSchema,
		util.TruncateRunes(text, x.maxTextLength, ai.TruncationMarker),
	)

	res := x.client.Complete(ctx, prompt, ai.WithTemperature(x.temperature), ai.WithMaxTokens(x.maxTokens))
	if res.Content == "" {
		return RelationResult{Relations: []common.Relation{}, Err: errors.Join(ErrEmptyResponse, res.Err)}
	}

	relations, err := x.parse(res.Content)
	if err != nil {
		return RelationResult{Relations: []common.Relation{}, Err: err}
	}
	return RelationResult{Relations: relations}
}

// relationPayload rejects well-formed JSON that cannot hold relations, such
// as a citation marker like [1]. Malformed spans are left to the repair step.
func relationPayload(span string) bool {
	if !gjson.Valid(span) {
		return true
	}
	r := gjson.Parse(span)
	if r.IsObject() {
		return r.Get("relations").IsArray()
	}
	if !r.IsArray() {
		return false
	}
	items := r.Array()
	if len(items) == 0 {
		return true
	}
	for _, item := range items {
		if item.IsObject() {
			return true
		}
	}
	return false
}

func (x *RelationExtractor) parse(content string) ([]common.Relation, error) {
	raw, err := ai.ExtractJSONSpan(content, "[{", relationPayload)
	if err != nil {
		return nil, &ParseError{Stage: "relation", Raw: content, Err: err}
	}

	var decoded any
	if err := ai.UnmarshalFlexible(raw, &decoded); err != nil {
		return nil, &ParseError{Stage: "relation", Raw: content, Err: err}
	}

	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["relations"].([]any)
		if !ok {
			return nil, &ParseError{Stage: "relation", Raw: content, Err: errors.New("answer is not a relation list")}
		}
		items = list
	default:
		return nil, &ParseError{Stage: "relation", Raw: content, Err: errors.New("answer is not a relation list")}
	}

	objects := 0
	for _, item := range items {
		if _, ok := item.(map[string]any); ok {
			objects++
		}
	}
	if len(items) > 0 && objects == 0 {
		return nil, &ParseError{Stage: "relation", Raw: content, Err: errors.New("answer is not a relation list")}
	}

	relations := make([]common.Relation, 0, len(items))
	for i, item := range items {
		rel, ok := x.relationFrom(item)
		if !ok {
			logger.Debug("[Extract] Skipping invalid relation", "index", i)
			continue
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

func (x *RelationExtractor) relationFrom(item any) (common.Relation, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return common.Relation{}, false
	}
	source, ok := entityRef(obj["source"])
	if !ok {
		return common.Relation{}, false
	}
	target, ok := entityRef(obj["target"])
	if !ok {
		return common.Relation{}, false
	}
	label, ok := obj["relation"].(string)
	if !ok || !x.allowed.Contains(label) {
		return common.Relation{}, false
	}

	confidence := common.DefaultConfidence
	if v, present := obj["confidence"]; present {
		c, ok := v.(float64)
		if !ok || c < 0 || c > 1 {
			return common.Relation{}, false
		}
		confidence = c
	}

	return common.Relation{
		Source:     source,
		Target:     target,
		Relation:   label,
		Confidence: confidence,
	}, true
}

func entityRef(v any) (common.EntityRef, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return common.EntityRef{}, false
	}
	text, ok := obj["text"].(string)
	if !ok {
		return common.EntityRef{}, false
	}
	typ, ok := obj["type"].(string)
	if !ok {
		return common.EntityRef{}, false
	}
	return common.EntityRef{Text: text, Type: typ}, true
}

func marshalUnescaped(v any) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
