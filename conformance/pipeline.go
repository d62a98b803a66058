package conformance

import (
	"context"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/engine"
	"github.com/toasty-orm/toasty/lower"
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/simplify"
	"github.com/toasty-orm/toasty/stmt"
)

// Run drives one model-space stmt.Statement through the full pipeline --
// simplify, lower, operation-plan, execute -- against d, and returns the
// root statement's result rows as Records. It mirrors exactly what a real
// query-builder frontend would do before handing a statement to the
// engine; conformance tests build the IR by hand since this repo has no
// code-generated model layer.
func Run(ctx context.Context, s *schema.Schema, d driver.Driver, st *stmt.Statement) ([]stmt.Value, error) {
	plan, err := Plan(s, d.Capability(), st)
	if err != nil {
		return nil, err
	}
	ex := engine.New(d, s)
	vt, err := ex.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	return vt.Stream(plan.Root), nil
}

// Plan simplifies, lowers, and operation-plans st without executing it --
// used by scenario 3 (unique-constraint rollback) and scenario 4
// (last_insert_id_hack) to inspect the planner's decision directly instead
// of a live driver's result.
func Plan(s *schema.Schema, cap driver.Capability, st *stmt.Statement) (*op.Plan, error) {
	simplified := simplify.Statement(st)
	h, err := lower.New(s).Lower(simplified)
	if err != nil {
		return nil, err
	}
	return op.Build(s, cap, h)
}
