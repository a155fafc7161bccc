package common

import (
	"encoding/json"
	"sort"
)

// DefaultConfidence is assigned to relations that carry no confidence value.
const DefaultConfidence = 0.5

// Entity is one named mention of a biomedical concept. Its type is not
// stored on the entity itself but given by the key it is filed under in
// an Entities map.
type Entity struct {
	Text        string `json:"text"`
	Occurrences int    `json:"occurrences"`
}

// UnmarshalJSON defaults missing or non-positive occurrences to 1.
func (e *Entity) UnmarshalJSON(data []byte) error {
	type raw Entity
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Occurrences < 1 {
		r.Occurrences = 1
	}
	*e = Entity(r)
	return nil
}

// Entities maps an entity type to the entities of that type.
type Entities map[string][]Entity

// Types returns the keys of e in sorted order.
func (e Entities) Types() []string {
	types := make([]string, 0, len(e))
	for t := range e {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of entities across all types.
func (e Entities) Count() int {
	n := 0
	for _, list := range e {
		n += len(list)
	}
	return n
}

// Flatten lists every entity as a typed reference, types in sorted order.
func (e Entities) Flatten() []EntityRef {
	refs := make([]EntityRef, 0, e.Count())
	for _, t := range e.Types() {
		for _, ent := range e[t] {
			refs = append(refs, EntityRef{Text: ent.Text, Type: t})
		}
	}
	return refs
}

// EntityRef points at an entity by its surface text and type.
type EntityRef struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Relation is a typed, directed link between two entity references.
type Relation struct {
	Source     EntityRef `json:"source"`
	Target     EntityRef `json:"target"`
	Relation   string    `json:"relation"`
	Confidence float64   `json:"confidence"`
}

// UnmarshalJSON defaults a missing confidence to DefaultConfidence.
func (r *Relation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source     EntityRef `json:"source"`
		Target     EntityRef `json:"target"`
		Relation   string    `json:"relation"`
		Confidence *float64  `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Source = raw.Source
	r.Target = raw.Target
	r.Relation = raw.Relation
	r.Confidence = DefaultConfidence
	if raw.Confidence != nil {
		r.Confidence = *raw.Confidence
	}
	return nil
}

// Metadata is an opaque record describing a source document.
type Metadata map[string]any

// FragmentMetadata aggregates provenance of a fragment.
type FragmentMetadata struct {
	SourceCount   int        `json:"source_count"`
	EntityCount   int        `json:"entity_count"`
	RelationCount int        `json:"relation_count"`
	Sources       []Metadata `json:"sources"`
}

// Fragment is a self-contained piece of knowledge graph: entities,
// relations and the metadata of the documents they came from.
type Fragment struct {
	Entities  Entities         `json:"entities"`
	Relations []Relation       `json:"relations"`
	Metadata  FragmentMetadata `json:"metadata"`
}

// NewFragment builds a fragment for one processed input file.
func NewFragment(entities Entities, relations []Relation, sources []Metadata) Fragment {
	if entities == nil {
		entities = Entities{}
	}
	if relations == nil {
		relations = []Relation{}
	}
	if sources == nil {
		sources = []Metadata{}
	}
	sourceCount := len(sources)
	if sourceCount == 0 {
		sourceCount = 1
	}
	f := Fragment{
		Entities:  entities,
		Relations: relations,
		Metadata: FragmentMetadata{
			SourceCount: sourceCount,
			Sources:     sources,
		},
	}
	f.Recount()
	return f
}

// Recount refreshes the entity and relation counters from the collections.
func (f *Fragment) Recount() {
	f.Metadata.EntityCount = f.Entities.Count()
	f.Metadata.RelationCount = len(f.Relations)
}

// Document is one input record handed over by the crawler layer.
type Document struct {
	ID       string
	Title    string
	Abstract string
	Metadata Metadata
}
