package engine

import (
	"context"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/logger"
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/simplify"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

// Executor runs one op.Plan against a Driver, issuing every action through
// Driver.Exec (the driver owns connections and pooling) and wrapping
// multi-action plans in a transaction.
type Executor struct {
	Driver driver.Driver
	Schema *schema.Schema
	Log    logger.Logger
}

func New(d driver.Driver, s *schema.Schema) *Executor {
	return &Executor{Driver: d, Schema: s, Log: logger.NewDefaultLogger("engine")}
}

// Run executes plan.Actions in order and returns the VarTable holding every
// intermediate and final result; callers read plan.Root for the top-level
// statement's output.
func (ex *Executor) Run(ctx context.Context, plan *op.Plan) (*VarTable, error) {
	vt := NewVarTable()

	needsTx := countDriverActions(plan.Actions) > 1
	if needsTx {
		if _, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
			Transaction: driver.Transaction{Op: driver.TxStart},
		}); err != nil {
			return nil, tserr.Wrapf(err, "engine: begin transaction")
		}
	}

	if err := ex.runActions(ctx, vt, plan.Actions); err != nil {
		if needsTx {
			_, _ = ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
				Transaction: driver.Transaction{Op: driver.TxRollback},
			})
		}
		return nil, err
	}

	if needsTx {
		if _, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
			Transaction: driver.Transaction{Op: driver.TxCommit},
		}); err != nil {
			return nil, tserr.Wrapf(err, "engine: commit transaction")
		}
	}

	return vt, nil
}

// countDriverActions counts the actions that actually round-trip to the
// driver, ignoring the in-memory post-processing steps (SetVar, NestedMerge,
// Associate) that never need a transaction of their own -- a plan with one
// driver call and an Associate/NestedMerge tacked on doesn't need wrapping.
func countDriverActions(actions []op.Action) int {
	n := 0
	for _, a := range actions {
		switch a.(type) {
		case op.SetVar, op.NestedMerge, op.Associate:
			continue
		default:
			n++
		}
	}
	return n
}

func (ex *Executor) runActions(ctx context.Context, vt *VarTable, actions []op.Action) error {
	for _, action := range actions {
		if err := ex.runAction(ctx, vt, action); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) runAction(ctx context.Context, vt *VarTable, action op.Action) error {
	switch a := action.(type) {
	case op.SetVar:
		v, err := stmt.Eval(a.Expr, stmt.EvalEnv{})
		if err != nil {
			return err
		}
		vt.Set(a.Out, []stmt.Value{v})
		return nil

	case op.ExecStatement:
		return ex.execStatement(ctx, vt, a)

	case op.GetByKey:
		keys := resolveKeys(a.Keys, vt, a.Args)
		resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.GetByKey{
			Table: a.Table,
			Keys:  keys,
		})
		if err != nil {
			return err
		}
		rows, err := drainRows(ctx, resp)
		if err != nil {
			return err
		}
		vt.Set(a.Out, rows)
		return nil

	case op.QueryPk:
		filter := stmt.SubstituteArgs(a.Filter, resolveArgValues(vt, a.Args))
		resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.QueryPk{Table: a.Table, Filter: filter})
		if err != nil {
			return err
		}
		rows, err := drainRows(ctx, resp)
		if err != nil {
			return err
		}
		vt.Set(a.Out, rows)
		return nil

	case op.FindPkByIndex:
		filter := stmt.SubstituteArgs(a.Filter, resolveArgValues(vt, a.Args))
		resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.FindPkByIndex{Table: a.Table, Index: a.Index, Filter: filter})
		if err != nil {
			return err
		}
		rows, err := drainRows(ctx, resp)
		if err != nil {
			return err
		}
		vt.Set(a.Out, rows)
		return nil

	case op.UpdateByKey:
		return ex.updateByKey(ctx, vt, a)

	case op.NestedMerge:
		return ex.nestedMerge(vt, a)

	case op.Associate:
		return ex.associate(vt, a)

	case op.PreloadQuery:
		return ex.preloadQuery(ctx, vt, a)

	default:
		return tserr.UnsupportedFeature("engine: unknown action type")
	}
}

func (ex *Executor) execStatement(ctx context.Context, vt *VarTable, a op.ExecStatement) error {
	qsql, ok := a.Driver.(driver.QuerySql)
	if ok {
		args := resolveArgValues(vt, a.Args)
		s := *qsql.Stmt
		stmt.SubstituteStatementArgs(&s, args)
		s = *simplify.Statement(&s)
		if stmt.IsEmptyValues(&s) {
			ex.Log.Debug("execStatement: table=%d short-circuited on empty values source", a.Table)
			vt.Set(a.Out, nil)
			return nil
		}
		qsql.Stmt = &s
	}

	resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, qsql)
	if err != nil {
		return err
	}
	rows, err := drainRows(ctx, resp)
	if err != nil {
		return err
	}
	vt.Set(a.Out, rows)
	return nil
}

// updateByKey implements the conditional-update read-modify-write
// discipline (spec §4.5): when the driver supports CTE-with-update, the
// condition check and the update travel in one statement; otherwise the
// executor sends the same UPDATE (whose WHERE holds Filter AND Condition)
// inside a savepoint and, when it affects no row, rolls back to the
// savepoint and returns tserr.ConditionFailed. No separate count of
// matched rows is taken: rows whose Condition fails are skipped while the
// rest are updated, and a Filter that matches no row is reported the same
// way as a failed Condition.
func (ex *Executor) updateByKey(ctx context.Context, vt *VarTable, a op.UpdateByKey) error {
	if a.Op.Condition == nil || ex.Driver.Capability().CteWithUpdate {
		resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, a.Op)
		if err != nil {
			return err
		}
		rows, err := drainRows(ctx, resp)
		if err != nil {
			return err
		}
		vt.Set(a.Out, rows)
		return nil
	}

	const savepoint = "toasty_rmw"
	if _, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
		Transaction: driver.Transaction{Op: driver.TxSavepoint, Name: savepoint},
	}); err != nil {
		return err
	}

	resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, a.Op)
	if err != nil {
		_, _ = ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
			Transaction: driver.Transaction{Op: driver.TxRollbackTo, Name: savepoint},
		})
		return err
	}
	if resp.RowsAffected == 0 {
		_, _ = ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
			Transaction: driver.Transaction{Op: driver.TxRollbackTo, Name: savepoint},
		})
		return tserr.ConditionFailed
	}

	if _, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.TransactionOperation{
		Transaction: driver.Transaction{Op: driver.TxRelease, Name: savepoint},
	}); err != nil {
		return err
	}

	rows, err := drainRows(ctx, resp)
	if err != nil {
		return err
	}
	vt.Set(a.Out, rows)
	return nil
}

// nestedMerge appends the child sub-statement's result onto each parent row
// at FieldIndex -- the Arg::Sub{returning: true} case.
func (ex *Executor) nestedMerge(vt *VarTable, a op.NestedMerge) error {
	parentRows := vt.Stream(a.Parent)
	childRows := vt.Stream(a.Child)

	merged := make([]stmt.Value, len(parentRows))
	for i, row := range parentRows {
		fields, ok := row.AsRecord()
		if !ok {
			merged[i] = row
			continue
		}
		out := make([]stmt.Value, len(fields))
		copy(out, fields)
		if a.FieldIndex < len(out) {
			if len(childRows) == 1 {
				out[a.FieldIndex] = childRows[0]
			} else {
				out[a.FieldIndex] = stmt.List(childRows...)
			}
		}
		merged[i] = stmt.Record(out...)
	}
	vt.Set(a.Out, merged)
	return nil
}

// associate attaches a batch-loaded related-table result to each parent row
// by matching ParentKeyCols against ChildKeyCols -- the has-many/has-one
// preload case.
func (ex *Executor) associate(vt *VarTable, a op.Associate) error {
	parentRows := vt.Stream(a.Parent)
	childRows := vt.Stream(a.Child)

	byKey := make(map[string][]stmt.Value)
	for _, row := range childRows {
		fields, ok := row.AsRecord()
		if !ok {
			continue
		}
		key := keyOf(fields, a.ChildKeyCols)
		byKey[key] = append(byKey[key], row)
	}

	merged := make([]stmt.Value, len(parentRows))
	for i, row := range parentRows {
		fields, ok := row.AsRecord()
		if !ok {
			merged[i] = row
			continue
		}
		out := growRecord(fields, a.FieldIndex)
		key := keyOf(fields, a.ParentKeyCols)
		related := byKey[key]
		out[a.FieldIndex] = stmt.List(related...)
		merged[i] = stmt.Record(out...)
	}
	vt.Set(a.Out, merged)
	return nil
}

// growRecord copies fields into a slice with room for index i, padding any
// new slots with Null -- a relation field's FieldIndex is a model-level
// index and always lands past the row's raw table columns, since relation
// fields never occupy a storage column of their own.
func growRecord(fields []stmt.Value, i int) []stmt.Value {
	n := len(fields)
	if i >= n {
		n = i + 1
	}
	out := make([]stmt.Value, n)
	copy(out, fields)
	for j := len(fields); j < n; j++ {
		out[j] = stmt.Null()
	}
	return out
}

// preloadQuery batch-loads ChildTable filtered by an IN-list built from
// Parent's already-materialized rows' ParentKeyCols values, matched against
// ChildKeyCols -- the subsidiary Select half of an include() path (spec
// §4.4 step 5). A following Associate action attaches the result to Parent.
func (ex *Executor) preloadQuery(ctx context.Context, vt *VarTable, a op.PreloadQuery) error {
	parentRows := vt.Stream(a.Parent)
	values := distinctKeyValues(parentRows, a.ParentKeyCols)
	if len(values) == 0 {
		vt.Set(a.Out, nil)
		return nil
	}
	ex.Log.Debug("preloadQuery: table=%d keys=%d", a.ChildTable, len(values))

	filter := inListFilter(a.ChildKeyCols, values)
	resp, err := ex.Driver.Exec(ctx, ex.Schema.Db, driver.QueryPk{Table: a.ChildTable, Filter: filter})
	if err != nil {
		return err
	}
	rows, err := drainRows(ctx, resp)
	if err != nil {
		return err
	}
	vt.Set(a.Out, rows)
	return nil
}

// distinctKeyValues extracts the distinct values of cols across rows,
// deduping by their string key, as a single Value for a single column or a
// Record for a composite key.
func distinctKeyValues(rows []stmt.Value, cols []schema.ColumnId) []stmt.Value {
	seen := make(map[string]bool)
	var out []stmt.Value
	for _, row := range rows {
		fields, ok := row.AsRecord()
		if !ok {
			continue
		}
		key := keyOf(fields, cols)
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(cols) == 1 {
			if cols[0].Index < len(fields) {
				out = append(out, fields[cols[0].Index])
			}
			continue
		}
		parts := make([]stmt.Value, len(cols))
		for i, c := range cols {
			if c.Index < len(fields) {
				parts[i] = fields[c.Index]
			}
		}
		out = append(out, stmt.Record(parts...))
	}
	return out
}

// inListFilter builds the table-space WHERE clause for a preload query: a
// single-column IN-list, or a disjunction of per-row equality conjunctions
// for a composite key.
func inListFilter(cols []schema.ColumnId, values []stmt.Value) stmt.Expr {
	if len(cols) == 1 {
		return stmt.ExprInList{
			Expr: stmt.ColRef(cols[0].Index),
			List: stmt.ExprValue{Value: stmt.List(values...)},
		}
	}

	branches := make([]stmt.Expr, len(values))
	for i, v := range values {
		parts, _ := v.AsRecord()
		conj := make([]stmt.Expr, len(cols))
		for j, c := range cols {
			var field stmt.Value
			if j < len(parts) {
				field = parts[j]
			}
			conj[j] = stmt.Eq(stmt.ColRef(c.Index), stmt.ExprValue{Value: field})
		}
		branches[i] = stmt.And(conj...)
	}
	return stmt.Or(branches...)
}

func keyOf(fields []stmt.Value, cols []schema.ColumnId) string {
	var sb []byte
	for _, c := range cols {
		if c.Index < len(fields) {
			sb = append(sb, []byte(fields[c.Index].String())...)
			sb = append(sb, 0)
		}
	}
	return string(sb)
}

func resolveArgValues(vt *VarTable, args []op.VarRef) []stmt.Value {
	out := make([]stmt.Value, len(args))
	for i, ref := range args {
		rows := vt.Stream(ref)
		if len(rows) > 0 {
			out[i] = rows[0]
		} else {
			out[i] = stmt.Null()
		}
	}
	return out
}

func resolveKeys(keys stmt.Expr, vt *VarTable, args []op.VarRef) []stmt.Value {
	resolved := stmt.SubstituteArgs(keys, resolveArgValues(vt, args))
	if lit, ok := resolved.(stmt.ExprValue); ok {
		if items, ok := lit.Value.AsList(); ok {
			return items
		}
		return []stmt.Value{lit.Value}
	}
	return nil
}

func drainRows(ctx context.Context, resp *driver.Response) ([]stmt.Value, error) {
	if resp == nil || resp.Rows == nil {
		return nil, nil
	}
	defer resp.Rows.Close()

	var out []stmt.Value
	for {
		row, err := resp.Rows.Next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		out = append(out, stmt.Record(row.Values...))
	}
	return out, nil
}
