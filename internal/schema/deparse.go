package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DDLGenerationFailed replaces the DDL when the schema cannot be deparsed.
const DDLGenerationFailed = "-- DDL generation failed"

// ErrDeparse is wrapped by DeparsePostgres failures.
var ErrDeparse = errors.New("deparse schema")

// DeparsePostgres renders s as PostgreSQL DDL. Output is deterministic:
// tables, columns and constraints are emitted in name order. Foreign
// keys come last so they can reference any table.
func DeparsePostgres(s Schema) (string, error) {
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeparse, err)
	}

	var stmts, foreignKeys []string
	for _, tableName := range slices.Sorted(maps.Keys(s.Tables)) {
		t := s.Tables[tableName]
		stmts = append(stmts, createTable(tableName, t))

		if t.Comment != "" {
			stmts = append(stmts, fmt.Sprintf("COMMENT ON TABLE %s IS %s;", quoteIdent(tableName), quoteLiteral(t.Comment)))
		}
		for _, colName := range slices.Sorted(maps.Keys(t.Columns)) {
			if c := t.Columns[colName]; c.Comment != "" {
				stmts = append(stmts, fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s;",
					quoteIdent(tableName), quoteIdent(colName), quoteLiteral(c.Comment)))
			}
		}

		for _, name := range constraintOrder(t.Constraints) {
			c := t.Constraints[name]
			stmt := addConstraint(tableName, name, c)
			if c.Type == ForeignKey {
				foreignKeys = append(foreignKeys, stmt)
				continue
			}
			stmts = append(stmts, stmt)
		}

		for _, name := range slices.Sorted(maps.Keys(t.Indexes)) {
			stmts = append(stmts, createIndex(tableName, name, t.Indexes[name]))
		}
	}

	stmts = append(stmts, foreignKeys...)
	return strings.Join(stmts, "\n"), nil
}

func createTable(name string, t Table) string {
	cols := slices.Sorted(maps.Keys(t.Columns))
	defs := make([]string, 0, len(cols))
	for _, colName := range cols {
		c := t.Columns[colName]
		def := fmt.Sprintf("  %s %s", quoteIdent(colName), c.Type)
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n);", quoteIdent(name), strings.Join(defs, ",\n"))
}

// constraintOrder puts primary keys first so later constraints and
// foreign keys in the same batch can rely on them.
func constraintOrder(cs map[string]Constraint) []string {
	names := slices.Sorted(maps.Keys(cs))
	slices.SortStableFunc(names, func(a, b string) int {
		return constraintRank(cs[a].Type) - constraintRank(cs[b].Type)
	})
	return names
}

func constraintRank(t ConstraintType) int {
	switch t {
	case PrimaryKey:
		return 0
	case Unique:
		return 1
	case Check:
		return 2
	case ForeignKey:
		return 3
	}
	return 4
}

func addConstraint(table, name string, c Constraint) string {
	prefix := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s", quoteIdent(table), quoteIdent(name))
	switch c.Type {
	case PrimaryKey:
		return fmt.Sprintf("%s PRIMARY KEY (%s);", prefix, identList(c.ColumnNames))
	case Unique:
		return fmt.Sprintf("%s UNIQUE (%s);", prefix, identList(c.ColumnNames))
	case Check:
		return fmt.Sprintf("%s CHECK (%s);", prefix, c.Detail)
	case ForeignKey:
		targets := c.TargetColumnNames
		if len(targets) == 0 {
			targets = c.ColumnNames
		}
		stmt := fmt.Sprintf("%s FOREIGN KEY (%s) REFERENCES %s (%s)",
			prefix, identList(c.ColumnNames), quoteIdent(c.TargetTableName), identList(targets))
		if a := referentialAction(c.UpdateConstraint); a != "" {
			stmt += " ON UPDATE " + a
		}
		if a := referentialAction(c.DeleteConstraint); a != "" {
			stmt += " ON DELETE " + a
		}
		return stmt + ";"
	}
	// Validate rejects other types.
	return ""
}

// referentialAction accepts both "SET_NULL" and "SET NULL" spellings.
func referentialAction(a string) string {
	return strings.ToUpper(strings.ReplaceAll(a, "_", " "))
}

func createIndex(table, name string, idx Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	method := idx.Type
	if method == "" {
		method = "btree"
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s USING %s (%s);",
		unique, quoteIdent(name), quoteIdent(table), method, identList(idx.Columns))
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
