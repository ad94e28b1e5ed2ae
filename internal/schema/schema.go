// Package schema holds the database schema document edited by the
// workflow, the JSON Patch operations that change it and the PostgreSQL
// deparser that turns it into DDL.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Schema is the document stored in every version. Tables are keyed by
// name so patch paths read /tables/<table>/columns/<column>.
type Schema struct {
	Tables map[string]Table `json:"tables" yaml:"tables"`
}

type Table struct {
	Name        string                `json:"name" yaml:"name"`
	Comment     string                `json:"comment,omitempty" yaml:"comment,omitempty"`
	Columns     map[string]Column     `json:"columns" yaml:"columns"`
	Constraints map[string]Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Indexes     map[string]Index      `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

type Column struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	NotNull bool   `json:"notNull,omitempty" yaml:"notNull,omitempty"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// ConstraintType is the closed set of supported constraint kinds.
type ConstraintType string

const (
	PrimaryKey ConstraintType = "PRIMARY KEY"
	ForeignKey ConstraintType = "FOREIGN KEY"
	Unique     ConstraintType = "UNIQUE"
	Check      ConstraintType = "CHECK"
)

// Constraint is a table constraint. Which fields matter depends on Type:
// key constraints use ColumnNames, FOREIGN KEY adds the target and
// actions, CHECK uses Detail as its boolean expression.
type Constraint struct {
	Type              ConstraintType `json:"type" yaml:"type"`
	Name              string         `json:"name" yaml:"name"`
	ColumnNames       []string       `json:"columnNames,omitempty" yaml:"columnNames,omitempty"`
	TargetTableName   string         `json:"targetTableName,omitempty" yaml:"targetTableName,omitempty"`
	TargetColumnNames []string       `json:"targetColumnNames,omitempty" yaml:"targetColumnNames,omitempty"`
	UpdateConstraint  string         `json:"updateConstraint,omitempty" yaml:"updateConstraint,omitempty"`
	DeleteConstraint  string         `json:"deleteConstraint,omitempty" yaml:"deleteConstraint,omitempty"`
	Detail            string         `json:"detail,omitempty" yaml:"detail,omitempty"`
}

type Index struct {
	Name    string   `json:"name" yaml:"name"`
	Unique  bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Columns []string `json:"columns" yaml:"columns"`
	// Type is the access method, btree when empty.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Empty returns a schema with no tables.
func Empty() Schema {
	return Schema{Tables: map[string]Table{}}
}

// TableCount returns the number of tables.
func (s Schema) TableCount() int {
	return len(s.Tables)
}

// Text renders the schema as YAML for prompts.
func (s Schema) Text() string {
	if len(s.Tables) == 0 {
		return "tables: {}\n"
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Sprintf("unrenderable schema: %v", err)
	}
	return string(out)
}

// normalize fills names from map keys and allocates nil maps, returning
// a schema that shares nothing with s.
func (s Schema) normalize() Schema {
	out := Schema{Tables: make(map[string]Table, len(s.Tables))}
	for tableName, t := range s.Tables {
		nt := Table{
			Name:        t.Name,
			Comment:     t.Comment,
			Columns:     make(map[string]Column, len(t.Columns)),
			Constraints: make(map[string]Constraint, len(t.Constraints)),
			Indexes:     make(map[string]Index, len(t.Indexes)),
		}
		if nt.Name == "" {
			nt.Name = tableName
		}
		for name, c := range t.Columns {
			if c.Name == "" {
				c.Name = name
			}
			nt.Columns[name] = c
		}
		for name, c := range t.Constraints {
			if c.Name == "" {
				c.Name = name
			}
			c.ColumnNames = append([]string(nil), c.ColumnNames...)
			c.TargetColumnNames = append([]string(nil), c.TargetColumnNames...)
			nt.Constraints[name] = c
		}
		for name, idx := range t.Indexes {
			if idx.Name == "" {
				idx.Name = name
			}
			idx.Columns = append([]string(nil), idx.Columns...)
			nt.Indexes[name] = idx
		}
		out.Tables[tableName] = nt
	}
	return out
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	return s.normalize()
}
