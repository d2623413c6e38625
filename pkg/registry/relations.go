package registry

import (
	"slices"

	"github.com/papercomputeco/attend/pkg/entity"
)

// Related derives the relations of key from the entities known to the
// registry. Only existing entities are returned; the result is ordered by
// key so propagation is deterministic.
//
//   - person: every pair containing them in the same scope, plus the
//     cross-scope counterparts.
//   - pair: both members in the same scope, plus the cross-scope
//     counterparts.
//   - space: every person scoped to the container.
//   - theme: the cross-scope counterparts.
//   - self: nothing.
func (r *Registry) Related(key entity.Key) []entity.Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[entity.Key]bool)
	var out []entity.Relation

	add := func(other entity.Key, kind entity.RelationKind) {
		if other == key || seen[other] {
			return
		}
		if _, ok := r.entities[other]; !ok {
			return
		}
		seen[other] = true
		out = append(out, entity.Relation{
			Key:        other,
			Kind:       kind,
			CrossScope: entity.CrossesScope(key, other),
		})
	}

	switch key.Category() {
	case entity.CategoryPerson:
		for _, pair := range r.pairsByMember[memberRef{scope: key.Scope(), id: key.IDs()[0]}] {
			add(pair, entity.RelationMember)
		}
		r.addCounterparts(key, add)

	case entity.CategoryPair:
		for _, member := range key.Members() {
			add(member, entity.RelationMember)
		}
		r.addCounterparts(key, add)

	case entity.CategorySpace:
		if key.Scope().IsGlobal() {
			for _, person := range r.scopedBySpace[key.IDs()[0]] {
				add(person, entity.RelationContainer)
			}
		}

	case entity.CategoryTheme:
		r.addCounterparts(key, add)

	case entity.CategorySelf:
	}

	slices.SortFunc(out, func(a, b entity.Relation) int {
		return entity.Compare(a.Key, b.Key)
	})
	return out
}

// addCounterparts links a scoped key to its global form and a global key
// to every scoped form. Callers hold r.mu.
func (r *Registry) addCounterparts(key entity.Key, add func(entity.Key, entity.RelationKind)) {
	if !key.Scope().IsGlobal() {
		add(key.Global(), entity.RelationCounterpart)
		return
	}
	for _, scoped := range r.scopedByGlobal[key] {
		add(scoped, entity.RelationCounterpart)
	}
}
