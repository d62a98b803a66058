package simplify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toasty-orm/toasty/stmt"
)

func TestExprInListEmpty(t *testing.T) {
	e := stmt.ExprInList{Expr: stmt.FieldRef(0), List: stmt.ExprValue{Value: stmt.List()}}
	assert.Equal(t, stmt.BoolLit(false), Expr(e))
}

func TestExprInListNullProbe(t *testing.T) {
	e := stmt.ExprInList{Expr: stmt.NullLit(), List: stmt.ExprValue{Value: stmt.List(stmt.I64(1))}}
	assert.Equal(t, stmt.NullLit(), Expr(e))
}

func TestExprInListSingleton(t *testing.T) {
	e := stmt.ExprInList{Expr: stmt.FieldRef(0), List: stmt.ExprValue{Value: stmt.List(stmt.I64(7))}}
	got := Expr(e)
	want := stmt.Eq(stmt.FieldRef(0), stmt.Lit(stmt.I64(7)))
	assert.Equal(t, want, got)
}

func TestExprInListDedup(t *testing.T) {
	e := stmt.ExprInList{
		Expr: stmt.FieldRef(0),
		List: stmt.ExprValue{Value: stmt.List(stmt.I64(1), stmt.I64(1), stmt.I64(2))},
	}
	got, ok := Expr(e).(stmt.ExprInList)
	if assert.True(t, ok) {
		list, _ := got.List.(stmt.ExprValue)
		items, _ := list.Value.AsList()
		assert.Len(t, items, 2)
	}
}

func TestNotNotCancels(t *testing.T) {
	e := stmt.Not(stmt.Not(stmt.FieldRef(0)))
	assert.Equal(t, stmt.FieldRef(0), Expr(e))
}

func TestNotTrueFalse(t *testing.T) {
	assert.Equal(t, stmt.BoolLit(false), Expr(stmt.Not(stmt.BoolLit(true))))
	assert.Equal(t, stmt.BoolLit(true), Expr(stmt.Not(stmt.BoolLit(false))))
}

func TestNotNull(t *testing.T) {
	assert.Equal(t, stmt.NullLit(), Expr(stmt.Not(stmt.NullLit())))
}

func TestDeMorgansAnd(t *testing.T) {
	e := stmt.Not(stmt.And(stmt.FieldRef(0), stmt.FieldRef(1)))
	got := Expr(e)
	want := stmt.Or(stmt.Not(stmt.FieldRef(0)), stmt.Not(stmt.FieldRef(1)))
	assert.Equal(t, want, got)
}

func TestDeMorgansOr(t *testing.T) {
	e := stmt.Not(stmt.Or(stmt.FieldRef(0), stmt.FieldRef(1)))
	got := Expr(e)
	want := stmt.And(stmt.Not(stmt.FieldRef(0)), stmt.Not(stmt.FieldRef(1)))
	assert.Equal(t, want, got)
}

func TestNotEmptyInList(t *testing.T) {
	e := stmt.Not(stmt.ExprInList{Expr: stmt.FieldRef(0), List: stmt.ExprValue{Value: stmt.List()}})
	assert.Equal(t, stmt.BoolLit(true), Expr(e))
}

func TestAndFoldsFalse(t *testing.T) {
	e := stmt.ExprAnd{Operands: []stmt.Expr{stmt.FieldRef(0), stmt.BoolLit(false)}}
	assert.Equal(t, stmt.BoolLit(false), Expr(e))
}

func TestAndDropsTriviallyTrue(t *testing.T) {
	e := stmt.ExprAnd{Operands: []stmt.Expr{stmt.FieldRef(0), stmt.BoolLit(true)}}
	assert.Equal(t, stmt.FieldRef(0), Expr(e))
}

func TestOrFoldsTrue(t *testing.T) {
	e := stmt.ExprOr{Operands: []stmt.Expr{stmt.FieldRef(0), stmt.BoolLit(true)}}
	assert.Equal(t, stmt.BoolLit(true), Expr(e))
}

func TestOrDropsTriviallyFalse(t *testing.T) {
	e := stmt.ExprOr{Operands: []stmt.Expr{stmt.FieldRef(0), stmt.BoolLit(false)}}
	assert.Equal(t, stmt.FieldRef(0), Expr(e))
}

func TestIsNullOnLiteral(t *testing.T) {
	assert.Equal(t, stmt.BoolLit(true), Expr(stmt.ExprIsNull{Expr: stmt.NullLit()}))
	assert.Equal(t, stmt.BoolLit(false), Expr(stmt.ExprIsNull{Expr: stmt.Lit(stmt.I64(1))}))
	assert.Equal(t, stmt.BoolLit(false), Expr(stmt.ExprIsNull{Expr: stmt.NullLit(), Negate: true}))
}

func TestSimplifierIsIdempotent(t *testing.T) {
	e := stmt.Not(stmt.And(stmt.FieldRef(0), stmt.BoolLit(true), stmt.Not(stmt.Not(stmt.FieldRef(1)))))
	once := Expr(e)
	twice := Expr(once)
	assert.Equal(t, once, twice)
}

func TestStatementSimplifiesSelectFilter(t *testing.T) {
	s := &stmt.Statement{
		Query: &stmt.Query{
			Body: stmt.Select{
				Source: stmt.SourceModel{Model: 0},
				Filter: stmt.ExprAnd{Operands: []stmt.Expr{stmt.FieldRef(0), stmt.BoolLit(true)}},
			},
		},
	}
	out := Statement(s)
	sel := out.Query.Body.(stmt.Select)
	assert.Equal(t, stmt.FieldRef(0), sel.Filter)
}
