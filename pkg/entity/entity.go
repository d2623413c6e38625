package entity

import "time"

// Entity is the registry record of a tracked thing. Entities are created
// on first reference and are never hard-deleted.
type Entity struct {
	Key      Key      `json:"key"`
	Category Category `json:"category"`

	// Group is the budget group the entity's category belongs to.
	Group string `json:"group"`

	// Cap bounds the entity's stored balance.
	Cap float64 `json:"cap"`

	// Provisional is set for entities first seen as a pipeline output and
	// cleared by the first direct earn.
	Provisional bool `json:"provisional"`

	CreatedAt time.Time `json:"created_at"`
}

// RelationKind labels the edge between two related entities.
type RelationKind string

const (
	// RelationMember links a person and a pair containing them.
	RelationMember RelationKind = "member"

	// RelationCounterpart links the same thing across scopes.
	RelationCounterpart RelationKind = "counterpart"

	// RelationContainer links a space and the people scoped to it.
	RelationContainer RelationKind = "container"
)

// Relation is one derived edge of the attention graph.
type Relation struct {
	Key  Key          `json:"key"`
	Kind RelationKind `json:"kind"`

	// CrossScope is true when the edge spans a scope boundary.
	CrossScope bool `json:"cross_scope"`
}
