package graph

import (
	"github.com/biomedkg/kgx/pkg/common"
)

// mergeEntities appends newEntities to entities, skipping values already
// present under the same type. Equality is exact: text and occurrences.
func mergeEntities(entities common.Entities, newEntities common.Entities) common.Entities {
	if entities == nil {
		entities = common.Entities{}
	}
	for _, t := range newEntities.Types() {
		list, ok := entities[t]
		if !ok {
			list = []common.Entity{}
		}
		seen := make(map[common.Entity]struct{}, len(list))
		for _, e := range list {
			seen[e] = struct{}{}
		}
		for _, e := range newEntities[t] {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			list = append(list, e)
		}
		entities[t] = list
	}
	return entities
}

// mergeRelations appends newRelations to relations, skipping exact
// duplicates.
func mergeRelations(relations []common.Relation, newRelations []common.Relation) []common.Relation {
	if relations == nil {
		relations = []common.Relation{}
	}
	seen := make(map[common.Relation]struct{}, len(relations))
	for _, r := range relations {
		seen[r] = struct{}{}
	}
	for _, r := range newRelations {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		relations = append(relations, r)
	}
	return relations
}
