package docdb

import (
	"context"
	"fmt"
	"sort"
)

// SchemaMeta is the persisted description of every table: fields,
// indexes, unique constraints and versions. It is the diff's source of
// truth during migration, independent of live document content.
type SchemaMeta struct {
	Version uint64                `msgpack:"v"`
	Tables  map[string]*TableMeta `msgpack:"t"`
}

// TableMeta is one table's persisted schema description.
type TableMeta struct {
	Version uint64     `msgpack:"v"`
	Fields  []FieldDef `msgpack:"f"`
	Indexes []string   `msgpack:"i"`
	Uniques []string   `msgpack:"u"`
}

func newSchemaMeta() *SchemaMeta {
	return &SchemaMeta{Tables: make(map[string]*TableMeta)}
}

func (m *SchemaMeta) clone() *SchemaMeta {
	c := &SchemaMeta{Version: m.Version, Tables: make(map[string]*TableMeta, len(m.Tables))}
	for name, tm := range m.Tables {
		tc := &TableMeta{Version: tm.Version}
		tc.Fields = append(tc.Fields, tm.Fields...)
		tc.Indexes = append(tc.Indexes, tm.Indexes...)
		tc.Uniques = append(tc.Uniques, tm.Uniques...)
		c.Tables[name] = tc
	}
	return c
}

// schema materializes the effective TableSchema from persisted
// metadata, folding index/unique declarations back into field flags.
func (tm *TableMeta) schema(name string) *TableSchema {
	ts := &TableSchema{Name: name, Fields: append([]FieldDef(nil), tm.Fields...)}
	indexed := make(map[string]bool, len(tm.Indexes))
	unique := make(map[string]bool, len(tm.Uniques))
	for _, f := range tm.Indexes {
		indexed[f] = true
	}
	for _, f := range tm.Uniques {
		unique[f] = true
	}
	for i := range ts.Fields {
		f := &ts.Fields[i]
		f.Indexed = f.Indexed || indexed[f.Name]
		f.Unique = f.Unique || unique[f.Name]
	}
	return ts
}

func (tm *TableMeta) hasField(name string) bool {
	for _, f := range tm.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ChangeKind identifies one additive schema change.
type ChangeKind uint8

const (
	ChangeCreateTable ChangeKind = iota
	ChangeAddField
	ChangeAddIndex
	ChangeAddUnique
)

// SchemaChange is one additive change produced by diffing a declared
// schema against persisted metadata.
type SchemaChange struct {
	Kind      ChangeKind
	Table     string
	Field     FieldDef // ChangeAddField
	FieldName string   // ChangeAddIndex, ChangeAddUnique
	Schema    TableSchema
}

// diffTable compares one declared schema against its persisted
// metadata. Removals and type changes are not additive: removals are
// ignored (metadata keeps the field, data is never dropped), a changed
// type fails the table.
func diffTable(decl TableSchema, tm *TableMeta) ([]SchemaChange, error) {
	if tm == nil {
		return []SchemaChange{{Kind: ChangeCreateTable, Table: decl.Name, Schema: decl}}, nil
	}
	var changes []SchemaChange
	for _, f := range decl.Fields {
		if !tm.hasField(f.Name) {
			changes = append(changes, SchemaChange{Kind: ChangeAddField, Table: decl.Name, Field: f})
		} else {
			for _, old := range tm.Fields {
				if old.Name == f.Name && old.Type != f.Type && f.Type != "" && old.Type != "" {
					return nil, fmt.Errorf("field %s: type change %s -> %s is not additive", f.Name, old.Type, f.Type)
				}
			}
		}
		if (f.Indexed || f.Unique) && !contains(tm.Indexes, f.Name) && !contains(tm.Uniques, f.Name) {
			changes = append(changes, SchemaChange{Kind: ChangeAddIndex, Table: decl.Name, FieldName: f.Name})
		}
		if f.Unique && !contains(tm.Uniques, f.Name) {
			changes = append(changes, SchemaChange{Kind: ChangeAddUnique, Table: decl.Name, FieldName: f.Name})
		}
	}
	return changes, nil
}

// migrate discovers declared schemas, diffs them against the persisted
// metadata and applies additive changes per table. A table whose
// migration fails (incompatible change or a unique constraint over
// violating data) keeps its previous metadata; other tables proceed.
// With no delta, migrate performs zero writes.
func (db *DB) migrate(ctx context.Context, disc Discoverer) error {
	declared, err := disc.DiscoverTables()
	if err != nil {
		return fmt.Errorf("schema discovery: %w", err)
	}
	names := make([]string, 0, len(declared))
	byName := make(map[string]TableSchema, len(declared))
	for _, decl := range declared {
		if err := decl.validate(); err != nil {
			return err
		}
		if _, dup := byName[decl.Name]; dup {
			return fmt.Errorf("schema: duplicate table %q", decl.Name)
		}
		byName[decl.Name] = decl
		names = append(names, decl.Name)
	}
	sort.Strings(names)

	failures := make(map[string]error)
	dirty := false

	for _, name := range names {
		decl := byName[name]
		changes, err := diffTable(decl, db.meta.Tables[name])
		if err != nil {
			failures[name] = err
			continue
		}
		if len(changes) == 0 {
			continue
		}
		if err := db.applyTableChanges(ctx, decl, changes); err != nil {
			failures[name] = err
			continue
		}
		dirty = true
	}

	if dirty {
		db.meta.Version++
		if err := db.driver.StoreMeta(ctx, db.meta); err != nil {
			return err
		}
	}
	if len(failures) > 0 {
		return &MigrationError{Failures: failures}
	}
	return nil
}

// applyTableChanges applies one table's change set to the metadata, or
// none of it. Adding a unique constraint scans existing documents
// first; a duplicate aborts the whole table with ConstraintViolation.
func (db *DB) applyTableChanges(ctx context.Context, decl TableSchema, changes []SchemaChange) error {
	name := decl.Name

	for _, ch := range changes {
		if ch.Kind != ChangeAddUnique {
			continue
		}
		td, err := db.driver.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := checkUniqueOver(name, ch.FieldName, td.Docs); err != nil {
			return err
		}
	}

	// Mutate a copy so a mid-table failure leaves the in-memory
	// metadata exactly as persisted.
	var tm *TableMeta
	if orig := db.meta.Tables[name]; orig != nil {
		c := &TableMeta{Version: orig.Version}
		c.Fields = append(c.Fields, orig.Fields...)
		c.Indexes = append(c.Indexes, orig.Indexes...)
		c.Uniques = append(c.Uniques, orig.Uniques...)
		tm = c
	}
	for _, ch := range changes {
		switch ch.Kind {
		case ChangeCreateTable:
			tm = &TableMeta{}
			for _, f := range ch.Schema.Fields {
				tm.Fields = append(tm.Fields, f)
				if f.Indexed || f.Unique {
					tm.Indexes = append(tm.Indexes, f.Name)
				}
				if f.Unique {
					tm.Uniques = append(tm.Uniques, f.Name)
				}
			}
			// Establish the durable unit without touching any data
			// that might already be at its location.
			td, err := db.driver.Get(ctx, name)
			if err != nil {
				return err
			}
			if err := db.driver.Put(ctx, name, td); err != nil {
				return err
			}
		case ChangeAddField:
			tm.Fields = append(tm.Fields, ch.Field)
			if ch.Field.Indexed || ch.Field.Unique {
				if !contains(tm.Indexes, ch.Field.Name) {
					tm.Indexes = append(tm.Indexes, ch.Field.Name)
				}
			}
			if ch.Field.Unique && !contains(tm.Uniques, ch.Field.Name) {
				tm.Uniques = append(tm.Uniques, ch.Field.Name)
			}
		case ChangeAddIndex:
			if !contains(tm.Indexes, ch.FieldName) {
				tm.Indexes = append(tm.Indexes, ch.FieldName)
			}
		case ChangeAddUnique:
			if !contains(tm.Uniques, ch.FieldName) {
				tm.Uniques = append(tm.Uniques, ch.FieldName)
			}
		}
	}
	tm.Version++
	db.meta.Tables[name] = tm

	db.logger.Info("migrated table", "table", name, "version", tm.Version, "changes", len(changes))
	return nil
}

// checkUniqueOver verifies existing documents do not collide on field.
func checkUniqueOver(table, field string, docs []*Document) error {
	seen := make(map[indexKey]struct{}, len(docs))
	for _, doc := range docs {
		key := normalizeValue(doc.Field(field))
		if key.isNull() {
			continue
		}
		if _, dup := seen[key]; dup {
			return &ConstraintViolation{Table: table, Field: field, Value: doc.Field(field)}
		}
		seen[key] = struct{}{}
	}
	return nil
}
