// Package migrate turns the ent schema definitions into SQL tables and
// applies them with ent's append-only migration.
package migrate

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	storeschema "github.com/papercomputeco/attend/pkg/storage/ent/schema"
)

// Table names of the store.
const (
	EntitiesTable = "entities"
	EntriesTable  = "ledger_entries"
	RunsTable     = "runs"
)

// Tables builds the store tables from the schema definitions.
func Tables() ([]*schema.Table, error) {
	var tables []*schema.Table
	for _, s := range []ent.Interface{
		storeschema.Entity{},
		storeschema.LedgerEntry{},
		storeschema.Run{},
	} {
		t, err := table(s)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// Create creates any missing tables, columns and indexes. It only ever
// adds schema, so it is safe to run on every start.
func Create(ctx context.Context, drv dialect.Driver) error {
	tables, err := Tables()
	if err != nil {
		return err
	}
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

func table(s ent.Interface) (*schema.Table, error) {
	name := tableName(s)
	if name == "" {
		return nil, fmt.Errorf("schema %T has no table annotation", s)
	}
	t := schema.NewTable(name)

	for _, f := range s.Fields() {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, d.Name, d.Err)
		}
		c := &schema.Column{
			Name:     columnName(d),
			Type:     d.Info.Type,
			Size:     int64(d.Size),
			Unique:   d.Unique,
			Nullable: d.Optional,
		}
		if d.Name == "id" {
			c.Increment = d.Info.Type.Integer()
			t.AddPrimary(c)
			continue
		}
		t.AddColumn(c)
	}

	for _, idx := range s.Indexes() {
		d := idx.Descriptor()
		cols := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			cols = append(cols, storageKey(s, f))
		}
		idxName := d.StorageKey
		if idxName == "" {
			idxName = name + "_" + strings.Join(cols, "_")
		}
		t.AddIndex(idxName, d.Unique, cols)
	}
	return t, nil
}

func columnName(d *field.Descriptor) string {
	if d.StorageKey != "" {
		return d.StorageKey
	}
	return d.Name
}

func tableName(s ent.Interface) string {
	for _, a := range s.Annotations() {
		switch a := a.(type) {
		case entsql.Annotation:
			return a.Table
		case *entsql.Annotation:
			return a.Table
		}
	}
	return ""
}

func storageKey(s ent.Interface, name string) string {
	for _, f := range s.Fields() {
		if d := f.Descriptor(); d.Name == name {
			return columnName(d)
		}
	}
	return name
}
