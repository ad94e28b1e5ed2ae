package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrInvalidSchema is wrapped by every Validate failure.
var ErrInvalidSchema = errors.New("invalid schema")

// Validate checks the structure the deparser relies on. References to
// other tables are not resolved here; the database reports those.
func (s Schema) Validate() error {
	var errs []error
	for _, tableName := range slices.Sorted(maps.Keys(s.Tables)) {
		t := s.Tables[tableName]
		if tableName == "" {
			errs = append(errs, fmt.Errorf("%w: table with empty name", ErrInvalidSchema))
			continue
		}
		if len(t.Columns) == 0 {
			errs = append(errs, fmt.Errorf("%w: table %q has no columns", ErrInvalidSchema, tableName))
		}
		for _, colName := range slices.Sorted(maps.Keys(t.Columns)) {
			if t.Columns[colName].Type == "" {
				errs = append(errs, fmt.Errorf("%w: column %s.%s has no type", ErrInvalidSchema, tableName, colName))
			}
		}
		for _, name := range slices.Sorted(maps.Keys(t.Constraints)) {
			if err := validateConstraint(tableName, name, t.Constraints[name]); err != nil {
				errs = append(errs, err)
			}
		}
		for _, name := range slices.Sorted(maps.Keys(t.Indexes)) {
			if len(t.Indexes[name].Columns) == 0 {
				errs = append(errs, fmt.Errorf("%w: index %s on %q has no columns", ErrInvalidSchema, name, tableName))
			}
		}
	}
	return errors.Join(errs...)
}

func validateConstraint(table, name string, c Constraint) error {
	switch c.Type {
	case PrimaryKey, Unique:
		if len(c.ColumnNames) == 0 {
			return fmt.Errorf("%w: %s constraint %s on %q has no columns", ErrInvalidSchema, c.Type, name, table)
		}
	case ForeignKey:
		if len(c.ColumnNames) == 0 || c.TargetTableName == "" {
			return fmt.Errorf("%w: foreign key %s on %q needs columns and a target table", ErrInvalidSchema, name, table)
		}
		if len(c.TargetColumnNames) != 0 && len(c.TargetColumnNames) != len(c.ColumnNames) {
			return fmt.Errorf("%w: foreign key %s on %q has %d columns but %d target columns",
				ErrInvalidSchema, name, table, len(c.ColumnNames), len(c.TargetColumnNames))
		}
	case Check:
		if c.Detail == "" {
			return fmt.Errorf("%w: check constraint %s on %q has no expression", ErrInvalidSchema, name, table)
		}
	default:
		return fmt.Errorf("%w: constraint %s on %q has unknown type %q", ErrInvalidSchema, name, table, c.Type)
	}
	return nil
}
