// Package catalog reflects PostgreSQL schema metadata into an in-memory
// model that the GraphQL layer consumes. Reflection is read-only and uses
// batched catalog queries so startup cost stays flat as table count grows.
package catalog

import (
	"fmt"
	"strings"
)

// RelationKind distinguishes base tables from the read-only relation kinds.
type RelationKind string

const (
	KindBaseTable        RelationKind = "table"
	KindView             RelationKind = "view"
	KindMaterializedView RelationKind = "materialized_view"
)

// Table represents a reflected table, view, or materialized view
type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Kind        RelationKind `json:"kind"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Column represents a reflected column
type Column struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	ElementType  string  `json:"element_type,omitempty"`
	ArrayDims    int     `json:"array_dims,omitempty"`
	IsNullable   bool    `json:"is_nullable"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key"`
	DefaultValue *string `json:"default_value"`
	Position     int     `json:"position"`
}

// ForeignKey represents a foreign key constraint. Columns and
// ReferencedColumns are positionally paired, so composite keys carry their
// full column lists.
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedSchema  string   `json:"referenced_schema"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
}

// EnumType represents a user-defined enum with labels in declaration order
type EnumType struct {
	Schema string   `json:"schema"`
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// CompositeField is a single attribute of a composite type
type CompositeField struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Position int    `json:"position"`
}

// CompositeType represents a user-defined composite type
type CompositeType struct {
	Schema string           `json:"schema"`
	Name   string           `json:"name"`
	Fields []CompositeField `json:"fields"`
}

// Catalog is one consistent snapshot of a database schema
type Catalog struct {
	Schema     string          `json:"schema"`
	Tables     []Table         `json:"tables"`
	Enums      []EnumType      `json:"enums"`
	Composites []CompositeType `json:"composites"`
}

// IsArray reports whether the column is an array type
func (c *Column) IsArray() bool {
	return c.ArrayDims > 0 || strings.HasSuffix(c.DataType, "[]")
}

// HasDefault reports whether the column carries a default expression
func (c *Column) HasDefault() bool {
	return c.DefaultValue != nil && *c.DefaultValue != ""
}

// IsAutoGenerated reports whether the column default produces a value on
// insert (serials, UUID generators, timestamps). Such columns may be omitted
// from create inputs.
func (c *Column) IsAutoGenerated() bool {
	if !c.HasDefault() {
		return false
	}
	def := strings.ToLower(*c.DefaultValue)
	return strings.Contains(def, "nextval") ||
		strings.Contains(def, "gen_random_uuid") ||
		strings.Contains(def, "uuid_generate") ||
		strings.Contains(def, "now()") ||
		strings.Contains(def, "current_timestamp")
}

// IsReadOnly reports whether the relation rejects writes
func (t *Table) IsReadOnly() bool {
	return t.Kind != KindBaseTable
}

// Column looks up a column by name
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// QualifiedName returns the schema-qualified relation name
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// Table looks up a table by name within the snapshot
func (c *Catalog) Table(name string) (*Table, bool) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// Enum looks up an enum by type name
func (c *Catalog) Enum(name string) (*EnumType, bool) {
	for i := range c.Enums {
		if c.Enums[i].Name == name {
			return &c.Enums[i], true
		}
	}
	return nil, false
}

// Composite looks up a composite type by name
func (c *Catalog) Composite(name string) (*CompositeType, bool) {
	for i := range c.Composites {
		if c.Composites[i].Name == name {
			return &c.Composites[i], true
		}
	}
	return nil, false
}

// Validate enforces the structural invariants a snapshot must satisfy before
// it may be cached or handed to the schema builder.
func (c *Catalog) Validate() error {
	for i := range c.Tables {
		t := &c.Tables[i]
		for _, pk := range t.PrimaryKey {
			col, ok := t.Column(pk)
			if !ok {
				return fmt.Errorf("table %s: primary key column %q not found", t.QualifiedName(), pk)
			}
			if col.IsNullable {
				return fmt.Errorf("table %s: primary key column %q is nullable", t.QualifiedName(), pk)
			}
		}
		for _, fk := range t.ForeignKeys {
			if len(fk.Columns) == 0 {
				return fmt.Errorf("table %s: foreign key %q has no columns", t.QualifiedName(), fk.Name)
			}
			if len(fk.Columns) != len(fk.ReferencedColumns) {
				return fmt.Errorf("table %s: foreign key %q column count mismatch: %d vs %d",
					t.QualifiedName(), fk.Name, len(fk.Columns), len(fk.ReferencedColumns))
			}
		}
	}
	return nil
}
