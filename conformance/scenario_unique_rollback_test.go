package conformance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/engine"
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/stmt"
)

// Scenario 3 (spec §8): unique constraint rollback. Two INSERTs in one
// plan, the second violating a unique constraint; the whole plan's effect
// on the database must be as if neither ran.
func TestUniqueConstraintRollback(t *testing.T) {
	ctx := context.Background()
	s, d := openUserTodo(t)

	id := mustUUID(t, "00000000-0000-0000-0000-000000000009")
	insertStmt := func(name string) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(UserModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.String(name))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}

	plan1, err := Plan(s, d.Capability(), insertStmt("First"))
	require.NoError(t, err)
	plan2, err := Plan(s, d.Capability(), insertStmt("Second"))
	require.NoError(t, err)
	require.Len(t, plan1.Actions, 1)
	require.Len(t, plan2.Actions, 1)

	merged := &op.Plan{Actions: append(plan1.Actions, plan2.Actions...), Root: plan1.Root}

	ex := engine.New(d, s)
	_, err = ex.Run(ctx, merged)
	require.Error(t, err)

	countStmt := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source:    stmt.SourceModel{Model: int(UserModel)},
		Returning: stmt.ReturningStar{},
	}}}
	rows, err := Run(ctx, s, d, countStmt)
	require.NoError(t, err)
	assert.Empty(t, rows, "both inserts in the failed plan must be rolled back, not just the second")
}
