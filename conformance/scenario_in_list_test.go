package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/planner/index"
	"github.com/toasty-orm/toasty/simplify"
	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 2 (spec §8): IN-with-single-value simplification. `id IN (42)`
// folds to `id = 42` before index planning reaches it, and the PK index
// plan extracts key_values = [Record[42]] from the folded form -- this
// runs at the planner level directly (simplify.Expr + index.Plan) rather
// than through the engine, since it tests a rewrite step, not execution.
func TestInListWithSingleValueSimplifiesToEquality(t *testing.T) {
	s, err := UserTodoSchema()
	require.NoError(t, err)
	table := s.Db.TableByName("users")
	require.NotNil(t, table)

	idCol := table.Column(table.PrimaryKey.Columns[0])
	require.NotNil(t, idCol)

	raw := stmt.ExprInList{
		Expr: stmt.ColRef(idCol.Id.Index),
		List: stmt.ExprValue{Value: stmt.List(stmt.I64(42))},
	}

	folded := simplify.Expr(raw)
	assert.Equal(t, stmt.Eq(stmt.ColRef(idCol.Id.Index), stmt.Lit(stmt.I64(42))), folded)

	plan, err := index.Plan(table, driver.SQLITE, folded)
	require.NoError(t, err)
	require.NotNil(t, plan.Index)
	assert.True(t, plan.HasPkKeys)
	assert.Equal(t, stmt.ExprValue{Value: stmt.List(stmt.Record(stmt.I64(42)))}, plan.KeyValues)
}
