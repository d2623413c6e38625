package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LedgerEntry holds the schema definition for an append-only ledger entry.
// The auto-increment id orders entries by insertion.
type LedgerEntry struct {
	ent.Schema
}

// Annotations of the LedgerEntry.
func (LedgerEntry) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "ledger_entries"},
	}
}

// Fields of the LedgerEntry.
func (LedgerEntry) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id"),

		field.String("entry_id").
			Unique().
			Immutable().
			NotEmpty(),

		field.String("entity_key").
			Immutable().
			NotEmpty(),

		field.String("entry_type").
			Immutable(),

		field.Float("amount").
			Immutable(),

		field.String("source").
			Optional().
			Nillable().
			Immutable(),

		field.String("reason").
			Immutable(),

		field.String("run_id").
			Immutable(),

		// Idempotency token; NULL for entries written without one.
		field.String("token").
			Optional().
			Nillable().
			Unique().
			Immutable(),

		field.Int64("created_at").
			Immutable(),
	}
}

// Indexes of the LedgerEntry.
func (LedgerEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("entity_key", "id"),
	}
}
