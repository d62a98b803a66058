// Package conformance runs spec-level end-to-end scenarios through the
// whole pipeline (schema.Builder -> simplify -> lower -> planner/op ->
// engine.Executor) against a real driver, the way
// original_source/crates/toasty-driver-integration-suite exercises every
// backend against one shared scenario set. cmd/toasty-conformance drives
// this package from the command line; the _test.go files in this package
// run the same scenarios in-process against driver/sqlite (the only
// backend conformance can reach without a live server or AWS credentials).
package conformance

import (
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
)

// UserTodoModels names the ModelId each RootModel call below is known to
// receive -- Builder issues ids in call order, so these are fixed constants
// rather than something resolveInverseRelations discovers later.
const (
	UserModel schema.ModelId = 0
	TodoModel schema.ModelId = 1
)

// Field indices, named for readability at call sites in the scenario tests.
const (
	UserFieldId    = 0
	UserFieldName  = 1
	UserFieldTodos = 2

	TodoFieldId     = 0
	TodoFieldUserId = 1
	TodoFieldDone   = 2
)

// UserTodoSchema builds the has-many/belongs-to pair spec §8 scenarios 1,
// 2, 3, 5, and 6 run against: User{id Uuid key auto, name String, todos
// HasMany<Todo>} and Todo{id Uuid key auto, user_id BelongsTo<User>, done
// Bool}.
func UserTodoSchema() (*schema.Schema, error) {
	b := schema.NewBuilder()

	b.RootModel("User", "users", []schema.FieldSpec{
		{Name: "id", PrimaryKey: true, AutoGenerated: schema.AutoGenId,
			Ty: schema.FieldTyPrimitive{Type: stmt.TypeUuid}},
		{Name: "name", Ty: schema.FieldTyPrimitive{Type: stmt.TypeString}},
		{Name: "todos", Ty: schema.FieldTyHasMany{
			Target:       TodoModel,
			SingularName: "todo",
			Pair:         schema.FieldId{Model: TodoModel, Index: TodoFieldUserId},
		}},
	}, nil, nil, nil)

	userIdField := schema.FieldId{Model: UserModel, Index: UserFieldId}
	todosField := schema.FieldId{Model: UserModel, Index: UserFieldTodos}

	b.RootModel("Todo", "todos", []schema.FieldSpec{
		{Name: "id", PrimaryKey: true, AutoGenerated: schema.AutoGenId,
			Ty: schema.FieldTyPrimitive{Type: stmt.TypeUuid}},
		{Name: "user_id", Ty: schema.FieldTyBelongsTo{
			Target: UserModel,
			ForeignKey: []schema.FKPair{
				{Source: schema.FieldId{Model: TodoModel, Index: TodoFieldUserId}, Target: userIdField},
			},
			Pair: &todosField,
		}},
		{Name: "done", Ty: schema.FieldTyPrimitive{Type: stmt.TypeBool}},
	}, nil, nil, nil)

	return b.Build()
}

// FooModel/FooFieldId/FooFieldVal name scenario 4's Foo{id u64 auto, val
// String} fixture -- a standalone model with an auto-incrementing integer
// key, the shape that needs MySQL's last_insert_id_hack.
const (
	FooModel schema.ModelId = 0

	FooFieldId  = 0
	FooFieldVal = 1
)

// FooSchema builds spec §8 scenario 4's fixture: a table whose primary key
// is a backend-assigned auto-increment integer rather than a client-
// generated UUID, the shape that exercises
// Capability.AutoIncrement && !Capability.ReturningFromMutation.
func FooSchema() (*schema.Schema, error) {
	b := schema.NewBuilder()
	b.RootModel("Foo", "foos", []schema.FieldSpec{
		{Name: "id", PrimaryKey: true, AutoGenerated: schema.AutoGenIncrement,
			Ty: schema.FieldTyPrimitive{Type: stmt.TypeU64}},
		{Name: "val", Ty: schema.FieldTyPrimitive{Type: stmt.TypeString}},
	}, nil, nil, nil)
	return b.Build()
}
