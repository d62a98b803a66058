package conformance

import (
	"context"
	"fmt"
	"reflect"

	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/engine"
	"github.com/toasty-orm/toasty/planner/index"
	"github.com/toasty-orm/toasty/planner/op"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/simplify"
	"github.com/toasty-orm/toasty/stmt"
)

// Scenario is one spec §8 end-to-end check. Open builds (and, where the
// check needs a live driver, registers) the schema it runs against; Run
// performs the check and returns a non-nil error describing exactly what
// didn't hold. cmd/toasty-conformance drives these against a caller-chosen
// backend; the _test.go files in this package assert the same behavior
// with testify against driver/sqlite specifically, in more detail than a
// pass/fail report can carry.
type Scenario struct {
	Name string
	Open func() (*schema.Schema, error)
	Run  func(ctx context.Context, s *schema.Schema, d driver.Driver) error
}

// AllScenarios lists every spec §8 conformance check in the order the
// spec presents them.
func AllScenarios() []Scenario {
	return []Scenario{
		{Name: "find_by_primary_key", Open: UserTodoSchema, Run: runFindByPrimaryKey},
		{Name: "in_list_simplifies_to_equality", Open: UserTodoSchema, Run: runInListFold},
		{Name: "unique_constraint_rollback", Open: UserTodoSchema, Run: runUniqueRollback},
		{Name: "mysql_last_insert_id_hack", Open: FooSchema, Run: runMySQLHack},
		{Name: "has_many_preload", Open: UserTodoSchema, Run: runHasManyPreload},
		{Name: "conditional_update", Open: UserTodoSchema, Run: runConditionalUpdate},
	}
}

func runFindByPrimaryKey(ctx context.Context, s *schema.Schema, d driver.Driver) error {
	id := [16]byte{0x01}
	insert := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.String("Ada"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	if _, err := Run(ctx, s, d, insert); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	find := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source:    stmt.SourceModel{Model: int(UserModel)},
		Filter:    stmt.Eq(stmt.FieldRef(UserFieldId), stmt.Lit(stmt.Uuid(id))),
		Returning: stmt.ReturningStar{},
	}}}
	rows, err := Run(ctx, s, d, find)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	if len(rows) != 1 {
		return fmt.Errorf("expected 1 row, got %d", len(rows))
	}
	fields, ok := rows[0].AsRecord()
	if !ok || len(fields) != 2 {
		return fmt.Errorf("expected a 2-field record, got %v", rows[0])
	}
	if name, ok := fields[1].AsString(); !ok || name != "Ada" {
		return fmt.Errorf("expected name=Ada, got %v", fields[1])
	}
	return nil
}

func runInListFold(_ context.Context, s *schema.Schema, d driver.Driver) error {
	table := s.Db.TableByName("users")
	if table == nil {
		return fmt.Errorf("no users table")
	}
	idCol := table.Column(table.PrimaryKey.Columns[0])
	raw := stmt.ExprInList{
		Expr: stmt.ColRef(idCol.Id.Index),
		List: stmt.ExprValue{Value: stmt.List(stmt.I64(42))},
	}
	folded := simplify.Expr(raw)
	want := stmt.Eq(stmt.ColRef(idCol.Id.Index), stmt.Lit(stmt.I64(42)))
	if !reflect.DeepEqual(folded, want) {
		return fmt.Errorf("IN(42) did not fold to equality: got %#v", folded)
	}
	plan, err := index.Plan(table, d.Capability(), folded)
	if err != nil {
		return err
	}
	if plan.Index == nil || !plan.HasPkKeys {
		return fmt.Errorf("expected a primary-key plan with HasPkKeys, got %#v", plan)
	}
	return nil
}

func runUniqueRollback(ctx context.Context, s *schema.Schema, d driver.Driver) error {
	id := [16]byte{0x09}
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
	if err != nil {
		return err
	}
	plan2, err := Plan(s, d.Capability(), insertStmt("Second"))
	if err != nil {
		return err
	}

	merged := &op.Plan{Actions: append(plan1.Actions, plan2.Actions...), Root: plan1.Root}
	_, runErr := engine.New(d, s).Run(ctx, merged)
	if runErr == nil {
		return fmt.Errorf("expected the second insert to fail on the duplicate key, plan succeeded")
	}

	countStmt := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source:    stmt.SourceModel{Model: int(UserModel)},
		Returning: stmt.ReturningStar{},
	}}}
	rows, err := Run(ctx, s, d, countStmt)
	if err != nil {
		return err
	}
	if len(rows) != 0 {
		return fmt.Errorf("expected the failed plan's inserts to be rolled back, found %d row(s)", len(rows))
	}
	return nil
}

func runMySQLHack(_ context.Context, s *schema.Schema, _ driver.Driver) error {
	insert := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(FooModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.ExprDefault{}, stmt.Lit(stmt.String("hi"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	plan, err := Plan(s, driver.MYSQL, insert)
	if err != nil {
		return err
	}
	if len(plan.Actions) != 1 {
		return fmt.Errorf("expected a single-action plan, got %d", len(plan.Actions))
	}
	exec, ok := plan.Actions[0].(op.ExecStatement)
	if !ok {
		return fmt.Errorf("expected an ExecStatement action")
	}
	qs, ok := exec.Driver.(driver.QuerySql)
	if !ok {
		return fmt.Errorf("expected a QuerySql operation")
	}
	if !qs.LastInsertIdHack {
		return fmt.Errorf("expected LastInsertIdHack=true for MySQL's capability")
	}
	return nil
}

func runHasManyPreload(ctx context.Context, s *schema.Schema, d driver.Driver) error {
	userID := [16]byte{0xa1}
	todoID1 := [16]byte{0xb1}
	todoID2 := [16]byte{0xb2}

	insertUser := &stmt.Statement{Insert: &stmt.Insert{
		Target: stmt.InsertTargetModel{Model: int(UserModel)},
		Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
			{stmt.Lit(stmt.Uuid(userID)), stmt.Lit(stmt.String("Grace"))},
		}}},
		Returning: stmt.ReturningStar{},
	}}
	if _, err := Run(ctx, s, d, insertUser); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	insertTodo := func(id [16]byte, done bool) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(TodoModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.Uuid(userID)), stmt.Lit(stmt.Bool(done))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}
	if _, err := Run(ctx, s, d, insertTodo(todoID1, false)); err != nil {
		return fmt.Errorf("insert todo 1: %w", err)
	}
	if _, err := Run(ctx, s, d, insertTodo(todoID2, true)); err != nil {
		return fmt.Errorf("insert todo 2: %w", err)
	}

	find := &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
		Source: stmt.SourceModel{
			Model:   int(UserModel),
			Include: []stmt.Path{{"todos"}},
		},
		Filter:    stmt.Eq(stmt.FieldRef(UserFieldId), stmt.Lit(stmt.Uuid(userID))),
		Returning: stmt.ReturningStar{},
	}}}
	rows, err := Run(ctx, s, d, find)
	if err != nil {
		return fmt.Errorf("find with include: %w", err)
	}
	if len(rows) != 1 {
		return fmt.Errorf("expected 1 row, got %d", len(rows))
	}
	fields, ok := rows[0].AsRecord()
	if !ok || len(fields) <= UserFieldTodos {
		return fmt.Errorf("expected a record with a todos field, got %v", rows[0])
	}
	todos, ok := fields[UserFieldTodos].AsList()
	if !ok || len(todos) != 2 {
		return fmt.Errorf("expected 2 preloaded todos, got %v", fields[UserFieldTodos])
	}
	return nil
}

func runConditionalUpdate(ctx context.Context, s *schema.Schema, d driver.Driver) error {
	userID := [16]byte{0xc1}
	otherUser := [16]byte{0xc2}
	todoA := [16]byte{0xd1}
	todoB := [16]byte{0xd2}

	insertUser := func(id [16]byte, name string) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(UserModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.String(name))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}
	if _, err := Run(ctx, s, d, insertUser(userID, "Hana")); err != nil {
		return err
	}
	if _, err := Run(ctx, s, d, insertUser(otherUser, "Iris")); err != nil {
		return err
	}

	insertTodo := func(id, owner [16]byte, done bool) *stmt.Statement {
		return &stmt.Statement{Insert: &stmt.Insert{
			Target: stmt.InsertTargetModel{Model: int(TodoModel)},
			Source: &stmt.Query{Body: stmt.Values{Rows: [][]stmt.Expr{
				{stmt.Lit(stmt.Uuid(id)), stmt.Lit(stmt.Uuid(owner)), stmt.Lit(stmt.Bool(done))},
			}}},
			Returning: stmt.ReturningStar{},
		}}
	}
	if _, err := Run(ctx, s, d, insertTodo(todoA, userID, false)); err != nil {
		return err
	}
	if _, err := Run(ctx, s, d, insertTodo(todoB, otherUser, false)); err != nil {
		return err
	}

	update := &stmt.Statement{Query: &stmt.Query{Body: stmt.UpdateBody{Update: &stmt.Update{
		Target:    stmt.UpdateTargetModel{Model: int(TodoModel)},
		Filter:    stmt.Eq(stmt.FieldRef(TodoFieldUserId), stmt.Lit(stmt.Uuid(userID))),
		Condition: stmt.Eq(stmt.FieldRef(TodoFieldDone), stmt.Lit(stmt.Bool(false))),
		Assignments: map[int]stmt.Assignment{
			TodoFieldDone: {Op: stmt.AssignSet, Expr: stmt.Lit(stmt.Bool(true))},
		},
		Returning: stmt.ReturningChanged{},
	}}}}
	if _, err := Run(ctx, s, d, update); err != nil {
		return fmt.Errorf("conditional update: %w", err)
	}

	findTodo := func(id [16]byte) *stmt.Statement {
		return &stmt.Statement{Query: &stmt.Query{Body: stmt.Select{
			Source:    stmt.SourceModel{Model: int(TodoModel)},
			Filter:    stmt.Eq(stmt.FieldRef(TodoFieldId), stmt.Lit(stmt.Uuid(id))),
			Returning: stmt.ReturningStar{},
		}}}
	}
	rowsA, err := Run(ctx, s, d, findTodo(todoA))
	if err != nil || len(rowsA) != 1 {
		return fmt.Errorf("find todoA: %v (rows=%d)", err, len(rowsA))
	}
	fieldsA, _ := rowsA[0].AsRecord()
	if doneA, _ := fieldsA[TodoFieldDone].AsBool(); !doneA {
		return fmt.Errorf("todoA should have flipped to done")
	}

	rowsB, err := Run(ctx, s, d, findTodo(todoB))
	if err != nil || len(rowsB) != 1 {
		return fmt.Errorf("find todoB: %v (rows=%d)", err, len(rowsB))
	}
	fieldsB, _ := rowsB[0].AsRecord()
	if doneB, _ := fieldsB[TodoFieldDone].AsBool(); doneB {
		return fmt.Errorf("todoB fails Filter (wrong owner), must stay untouched")
	}
	return nil
}
