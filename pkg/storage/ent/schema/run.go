package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Run holds the schema definition for a pipeline run record.
type Run struct {
	ent.Schema
}

// Annotations of the Run.
func (Run) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "runs"},
	}
}

// Fields of the Run.
func (Run) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable().
			NotEmpty(),

		field.String("pipeline").
			Immutable(),

		field.String("content_hash").
			Immutable(),

		field.Int64("started_at").
			Immutable(),

		field.Int64("completed_at").
			Optional().
			Nillable(),

		field.String("status"),

		field.Int("matched"),
		field.Int("processed"),
		field.Int("skipped"),
		field.Int("artifacts"),

		// JSON array of per-target errors.
		field.Text("errors"),

		field.Int64("tokens"),
		field.Float("spent"),
		field.Float("retained"),
		field.Int64("duration_ms"),
	}
}

// Indexes of the Run.
func (Run) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("pipeline", "started_at"),
		index.Fields("status"),
	}
}
