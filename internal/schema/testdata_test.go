package schema

// usersAndTodos is the scenario schema: users lacks a primary key while
// todos references users.id.
func usersAndTodos() Schema {
	return Schema{Tables: map[string]Table{
		"users": {
			Columns: map[string]Column{
				"id":   {Type: "bigint", NotNull: true},
				"name": {Type: "text", NotNull: true},
			},
		},
		"todos": {
			Comment: "Things to do",
			Columns: map[string]Column{
				"id":      {Type: "bigint", NotNull: true},
				"title":   {Type: "text", NotNull: true, Comment: "what's to do"},
				"user_id": {Type: "bigint", NotNull: true},
				"done":    {Type: "boolean", Default: "false"},
			},
			Constraints: map[string]Constraint{
				"todos_user_id_fkey": {
					Type:              ForeignKey,
					ColumnNames:       []string{"user_id"},
					TargetTableName:   "users",
					TargetColumnNames: []string{"id"},
					DeleteConstraint:  "CASCADE",
				},
				"todos_pkey": {Type: PrimaryKey, ColumnNames: []string{"id"}},
			},
			Indexes: map[string]Index{
				"todos_user_id_idx": {Columns: []string{"user_id"}},
			},
		},
	}}
}
