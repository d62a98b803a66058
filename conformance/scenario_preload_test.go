package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 5 (spec §8): has-many preload. One User with two Todos,
// queried with include("todos"); the result's todos field carries both
// child rows, batch-loaded via a single PreloadQuery/Associate pair
// rather than one query per parent row.
func TestHasManyPreload(t *testing.T) {
	ctx := context.Background()
	s, d := openUserTodo(t)

	userID := mustUUID(t, "00000000-0000-0000-0000-0000000000a1")
	todoID1 := mustUUID(t, "00000000-0000-0000-0000-0000000000b1")
	todoID2 := mustUUID(t, "00000000-0000-0000-0000-0000000000b2")

	insertUser := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(userID)), stmt.Lit(stmt.String("Grace"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	_, err := Run(ctx, s, d, insertUser)
	require.NoError(t, err)

	insertTodo := func(id [16]byte, done bool) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(TodoModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.Uuid(userID)), stmt.Lit(stmt.Bool(done))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}
	_, err = Run(ctx, s, d, insertTodo(todoID1, false))
	require.NoError(t, err)
	_, err = Run(ctx, s, d, insertTodo(todoID2, true))
	require.NoError(t, err)

	find := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source: stmt.SourceModel{
			Model:   int(UserModel),
			Include: []stmt.Path{{"todos"}},
		},
		Filter:    stmt.Eq(stmt.FieldRef(UserFieldId), stmt.Lit(stmt.Uuid(userID))),
		Returning: stmt.ReturningStar{},
	}}}

	rows, err := Run(ctx, s, d, find)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	fields, ok := rows[0].AsRecord()
	require.True(t, ok)
	require.Greater(t, len(fields), UserFieldTodos)

	todos, ok := fields[UserFieldTodos].AsList()
	require.True(t, ok, "todos field should carry the preloaded list")
	assert.Len(t, todos, 2)
}
