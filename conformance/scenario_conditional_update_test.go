package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 6 (spec §8): conditional update on SQLite. An Update statement
// carrying both a Filter (which row) and a Condition (the compare-and-swap
// guard) must apply to the filtered row only, and only when the guard
// holds -- exercising the Filter-dropping bug's fix end to end, not just
// at the driver-call layer.
func TestConditionalUpdateAppliesFilterAndCondition(t *testing.T) {
	ctx := context.Background()
	s, d := openUserTodo(t)

	userID := mustUUID(t, "00000000-0000-0000-0000-0000000000c1")
	todoA := mustUUID(t, "00000000-0000-0000-0000-0000000000d1")
	todoB := mustUUID(t, "00000000-0000-0000-0000-0000000000d2")

	insertUser := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(userID)), stmt.Lit(stmt.String("Hana"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	_, err := Run(ctx, s, d, insertUser)
	require.NoError(t, err)

	otherUser := mustUUID(t, "00000000-0000-0000-0000-0000000000c2")
	insertOtherUser := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(otherUser)), stmt.Lit(stmt.String("Iris"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	_, err = Run(ctx, s, d, insertOtherUser)
	require.NoError(t, err)

	insertTodo := func(id, owner [16]byte, done bool) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(TodoModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.Uuid(owner)), stmt.Lit(stmt.Bool(done))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}
	// todoA belongs to userID and is not done; todoB belongs to otherUser
	// and is also not done -- the update must leave todoB alone even
	// though it matches the same Condition (done=false).
	_, err = Run(ctx, s, d, insertTodo(todoA, userID, false))
	require.NoError(t, err)
	_, err = Run(ctx, s, d, insertTodo(todoB, otherUser, false))
	require.NoError(t, err)

	update := &stmt.Statement{Query: &stmt.Query{Body: stmt.UpdateBody{Update: &stmt.Update{
		Target: stmt.UpdateTargetModel{Model: int(TodoModel)},
		Filter: stmt.Eq(stmt.FieldRef(TodoFieldUserId), stmt.Lit(stmt.Uuid(userID))),
		Condition: stmt.Eq(stmt.FieldRef(TodoFieldDone), stmt.Lit(stmt.Bool(false))),
		Assignments: map[int]stmt.Assignment{
			TodoFieldDone: {Op: stmt.AssignSet, Expr: stmt.Lit(stmt.Bool(true))},
		},
		Returning: stmt.ReturningChanged{},
	}}}}
	_, err = Run(ctx, s, d, update)
	require.NoError(t, err)

	findTodo := func(id [16]byte) *stmt.Statement {
		return &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
			Source:    stmt.SourceModel{Model: int(TodoModel)},
			Filter:    stmt.Eq(stmt.FieldRef(TodoFieldId), stmt.Lit(stmt.Uuid(id))),
			Returning: stmt.ReturningStar{},
		}}}
	}

	rowsA, err := Run(ctx, s, d, findTodo(todoA))
	require.NoError(t, err)
	require.Len(t, rowsA, 1)
	fieldsA, ok := rowsA[0].AsRecord()
	require.True(t, ok)
	doneA, ok := fieldsA[TodoFieldDone].AsBool()
	require.True(t, ok)
	assert.True(t, doneA, "todoA matches both Filter and Condition, should flip to done")

	rowsB, err := Run(ctx, s, d, findTodo(todoB))
	require.NoError(t, err)
	require.Len(t, rowsB, 1)
	fieldsB, ok := rowsB[0].AsRecord()
	require.True(t, ok)
	doneB, ok := fieldsB[TodoFieldDone].AsBool()
	require.True(t, ok)
	assert.False(t, doneB, "todoB fails Filter (wrong owner) even though it matches Condition, must stay untouched")
}
