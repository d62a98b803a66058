package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 1 (spec §8): find by primary key.
//
//	Schema User{id: Uuid key auto, name: String}
//	Op:     User.filter_by_id("00000000-0000-0000-0000-000000000001").get()
//	Expect: a single row back, with the stored name.
//
// On a SQL backend the planner sends the lowered SELECT through
// ExecStatement rather than GetByKey, so this test checks the returned row
// only, not the operation kind.
func TestFindByPrimaryKey(t *testing.T) {
	ctx := context.Background()
	s, d := openUserTodo(t)

	id := mustUUID(t, "00000000-0000-0000-0000-000000000001")

	insert := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.String("Ada"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	_, err := Run(ctx, s, d, insert)
	require.NoError(t, err)

	find := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source:    stmt.SourceModel{Model: int(UserModel)},
		Filter:    stmt.Eq(stmt.FieldRef(UserFieldId), stmt.Lit(stmt.Uuid(id))),
		Returning: stmt.ReturningStar{},
	}}}

	rows, err := Run(ctx, s, d, find)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	fields, ok := rows[0].AsRecord()
	require.True(t, ok)
	require.Len(t, fields, 2)
	name, ok := fields[1].AsString()
	require.True(t, ok)
	assert.Equal(t, "Ada", name)
}
