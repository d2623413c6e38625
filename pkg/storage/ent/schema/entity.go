// Package schema holds the ent schema definitions of the attend store.
// Tables and columns are derived from them by the migrate package.
package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// Entity holds the schema definition for a tracked entity.
type Entity struct {
	ent.Schema
}

// Annotations of the Entity.
func (Entity) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "entities"},
	}
}

// Fields of the Entity.
func (Entity) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("entity_key").
			Unique().
			Immutable().
			NotEmpty(),

		field.String("category").
			NotEmpty(),

		field.String("budget_group"),

		field.Float("cap"),

		field.Bool("provisional"),

		// Unix nanoseconds, UTC.
		field.Int64("created_at").
			Immutable(),
	}
}
