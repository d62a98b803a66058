package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 4 (spec §8): MySQL has no RETURNING, so an insert into
// an auto-increment table is planned with LastInsertIdHack set, telling the
// driver to recover the generated id via LAST_INSERT_ID() instead of a
// RETURNING clause. Planner-level only: this repo has no reachable MySQL
// server in this suite, so the assertion is on the plan the operation
// builder produces for driver.MYSQL's capability, not on a live insert.
func TestMySQLInsertUsesLastInsertIdHack(t *testing.T) {
	s, err := FooSchema()
	require.NoError(t, err)

	insert := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(FooModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.ExprDefault{}, stmt.Lit(stmt.String("hi"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}

	plan, err := Plan(s, driver.MYSQL, insert)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)

	exec, ok := plan.Actions[0].(op.ExecStatement)
	require.True(t, ok, "expected an ExecStatement action")
	qs, ok := exec.Driver.(driver.QuerySql)
	require.True(t, ok, "expected the ExecStatement to carry a QuerySql operation")
	assert.True(t, qs.LastInsertIdHack)
}
