package graph

import (
	"crypto/sha256"
	"encoding/json"
	"slices"
	"strings"

	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/common"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/store"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultRelationMap maps English relation labels onto the Chinese
// vocabulary.
var DefaultRelationMap = map[string]string{
	"inhibits":        "抑制",
	"activates":       "激活",
	"treats":          "治疗",
	"causes":          "引起",
	"binds":           "结合",
	"expresses":       "表达",
	"regulates":       "调节",
	"phosphorylates":  "磷酸化",
	"degrades":        "降解",
	"extracted_from":  "提取自",
	"part_of":         "组分",
	"isolated_from":   "分离自",
	"converts_to":     "转化为",
	"metabolizes_to":  "代谢为",
	"upregulates":     "上调",
	"downregulates":   "下调",
	"blocks":          "阻断",
	"mediates":        "介导",
	"correlates_with": "相关",
	"marks":           "标志",
	"indicates":       "指示",
}

var normalizeReplacer = strings.NewReplacer("the ", "", " protein", "", " gene", "")

// NormalizeText is the merge key of an entity text. Text without CJK
// characters is lower-cased, the fillers "the ", " protein" and " gene"
// are removed and whitespace is collapsed.
//
//	NormalizeText("The IL-6 Protein") == "il-6"
func NormalizeText(text string) string {
	if !util.ContainsCJK(text) {
		text = strings.ToLower(text)
	}
	text = normalizeReplacer.Replace(text)
	return util.CollapseWhitespace(text)
}

// Merger combines fragments into one knowledge graph.
type Merger struct {
	// MinConfidence drops relations below the threshold.
	MinConfidence float64
	// MaxEntitiesPerType keeps the most frequent entities per type; 0 keeps all.
	MaxEntitiesPerType int
	// AllowedTypes restricts entities and relation endpoints; empty allows all.
	AllowedTypes []string
	// RelationMap canonicalizes relation labels; nil uses DefaultRelationMap.
	RelationMap map[string]string
	// DedupeSources skips fragments whose content was already merged.
	DedupeSources bool
}

type entityKey struct {
	text string
	typ  string
}

type relationKey struct {
	source, sourceType string
	target, targetType string
	relation           string
}

// Merge folds fragments in order. Entities sharing a normalized text and
// type are combined by summing occurrences; the first seen spelling is
// kept. Relations are deduplicated on normalized endpoints, types and
// canonical label; the first seen relation wins.
func (m Merger) Merge(fragments []store.SourcedFragment) common.Fragment {
	relationMap := m.RelationMap
	if relationMap == nil {
		relationMap = DefaultRelationMap
	}
	var allowed mapset.Set[string]
	if len(m.AllowedTypes) > 0 {
		allowed = mapset.NewSet(m.AllowedTypes...)
	}
	typeAllowed := func(t string) bool {
		return allowed == nil || allowed.Contains(t)
	}

	merged := common.Fragment{
		Entities:  common.Entities{},
		Relations: []common.Relation{},
		Metadata:  common.FragmentMetadata{Sources: []common.Metadata{}},
	}
	// (normalized text, type) -> position in merged.Entities[type]
	entityIndex := make(map[entityKey]int)
	relationSeen := mapset.NewThreadUnsafeSet[relationKey]()
	digests := mapset.NewThreadUnsafeSet[[sha256.Size]byte]()
	var typeOrder []string

	for _, f := range fragments {
		if m.DedupeSources {
			d, ok := fragmentDigest(f.Fragment)
			if ok && !digests.Add(d) {
				logger.Info("[Merge] Skipping duplicate fragment", "source", f.Source)
				continue
			}
		}

		for _, t := range f.Entities.Types() {
			if !typeAllowed(t) {
				continue
			}
			if _, ok := merged.Entities[t]; !ok {
				merged.Entities[t] = []common.Entity{}
				typeOrder = append(typeOrder, t)
			}
			for _, e := range f.Entities[t] {
				norm := NormalizeText(e.Text)
				if norm == "" {
					continue
				}
				key := entityKey{text: norm, typ: t}
				if i, ok := entityIndex[key]; ok {
					merged.Entities[t][i].Occurrences += max(e.Occurrences, 1)
					continue
				}
				entityIndex[key] = len(merged.Entities[t])
				merged.Entities[t] = append(merged.Entities[t], common.Entity{Text: e.Text, Occurrences: max(e.Occurrences, 1)})
			}
		}

		for _, r := range f.Relations {
			if r.Confidence < m.MinConfidence {
				continue
			}
			if !typeAllowed(r.Source.Type) || !typeAllowed(r.Target.Type) {
				continue
			}
			label := r.Relation
			if canonical, ok := relationMap[label]; ok {
				label = canonical
			}
			key := relationKey{
				source:     NormalizeText(r.Source.Text),
				sourceType: r.Source.Type,
				target:     NormalizeText(r.Target.Text),
				targetType: r.Target.Type,
				relation:   label,
			}
			if !relationSeen.Add(key) {
				continue
			}
			r.Relation = label
			merged.Relations = append(merged.Relations, r)
		}

		merged.Metadata.Sources = append(merged.Metadata.Sources, f.Metadata.Sources...)
		merged.Metadata.SourceCount += f.Metadata.SourceCount
	}

	if m.MaxEntitiesPerType > 0 {
		for _, t := range typeOrder {
			list := merged.Entities[t]
			slices.SortStableFunc(list, func(a, b common.Entity) int {
				return b.Occurrences - a.Occurrences
			})
			if len(list) > m.MaxEntitiesPerType {
				merged.Entities[t] = list[:m.MaxEntitiesPerType]
			}
		}
	}

	merged.Recount()
	logger.Info("[Merge] Completed", "fragments", len(fragments), "entities", merged.Metadata.EntityCount, "relations", merged.Metadata.RelationCount)
	return merged
}

// fragmentDigest hashes the canonical JSON form of f. Map keys are sorted
// by encoding/json, so equal content yields equal digests.
func fragmentDigest(f common.Fragment) ([sha256.Size]byte, bool) {
	b, err := json.Marshal(f)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(b), true
}
