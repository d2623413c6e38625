package migrate_test

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/storage/ent/migrate"
)

var _ = Describe("Tables", func() {
	var tables map[string]*schema.Table

	BeforeEach(func() {
		list, err := migrate.Tables()
		Expect(err).NotTo(HaveOccurred())
		tables = make(map[string]*schema.Table, len(list))
		for _, t := range list {
			tables[t.Name] = t
		}
	})

	It("derives one table per schema", func() {
		Expect(tables).To(HaveKey(migrate.EntitiesTable))
		Expect(tables).To(HaveKey(migrate.EntriesTable))
		Expect(tables).To(HaveKey(migrate.RunsTable))
	})

	It("keys entities by their storage key", func() {
		t := tables[migrate.EntitiesTable]
		Expect(t.PrimaryKey).To(HaveLen(1))
		Expect(t.PrimaryKey[0].Name).To(Equal("entity_key"))
		Expect(t.PrimaryKey[0].Increment).To(BeFalse())
	})

	It("orders ledger entries by an auto-increment id", func() {
		t := tables[migrate.EntriesTable]
		Expect(t.PrimaryKey).To(HaveLen(1))
		Expect(t.PrimaryKey[0].Name).To(Equal("id"))
		Expect(t.PrimaryKey[0].Type).To(Equal(field.TypeInt64))
		Expect(t.PrimaryKey[0].Increment).To(BeTrue())

		token, ok := t.Column("token")
		Expect(ok).To(BeTrue())
		Expect(token.Unique).To(BeTrue())
		Expect(token.Nullable).To(BeTrue())

		amount, ok := t.Column("amount")
		Expect(ok).To(BeTrue())
		Expect(amount.Type).To(Equal(field.TypeFloat64))
		Expect(amount.Nullable).To(BeFalse())

		idx, ok := t.Index("ledger_entries_entity_key_id")
		Expect(ok).To(BeTrue())
		Expect(idx.Columns).To(HaveLen(2))
	})

	It("indexes runs by pipeline and status", func() {
		t := tables[migrate.RunsTable]
		_, ok := t.Index("runs_pipeline_started_at")
		Expect(ok).To(BeTrue())
		_, ok = t.Index("runs_status")
		Expect(ok).To(BeTrue())

		completed, ok := t.Column("completed_at")
		Expect(ok).To(BeTrue())
		Expect(completed.Nullable).To(BeTrue())
	})
})
