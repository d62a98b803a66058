// Package simplify implements Toasty's algebraic rewrite pass: a fixed-point
// application of the rule table in the expression-simplification section of
// the statement pipeline. Every rule is sound (preserves three-valued SQL
// semantics) and the pass terminates because each rule strictly decreases a
// node-count or constant-ness measure -- never introduces a node it didn't
// already have a smaller equivalent for.
//
// The teacher has no analogous pass (its conditions compile straight to SQL
// text), so this package is grounded on original_source/crates/toasty-core/
// src/stmt/visit_mut.rs and the simplify module it drives, reworked around
// stmt.Transform instead of a visitor trait.
package simplify

import (
	"reflect"
	"strings"

	"github.com/toasty-orm/toasty/stmt"
)

// Statement simplifies every expression reachable from s in place (by
// returning a new *stmt.Statement; the IR is treated as immutable) and
// returns the rewritten statement.
func Statement(s *stmt.Statement) *stmt.Statement {
	out := *s
	switch {
	case out.Query != nil:
		q := *out.Query
		simplifyQuery(&q)
		out.Query = &q
	case out.Insert != nil:
		i := *out.Insert
		if i.Source != nil {
			simplifyQuery(i.Source)
		}
		i.Returning = simplifyReturning(i.Returning)
		out.Insert = &i
	case out.Update != nil:
		u := *out.Update
		u.Filter = Expr(u.Filter)
		u.Condition = Expr(u.Condition)
		for k, a := range u.Assignments {
			a.Expr = Expr(a.Expr)
			u.Assignments[k] = a
		}
		u.Returning = simplifyReturning(u.Returning)
		out.Update = &u
	case out.Delete != nil:
		d := *out.Delete
		d.Filter = Expr(d.Filter)
		d.Returning = simplifyReturning(d.Returning)
		out.Delete = &d
	}
	return &out
}

func simplifyQuery(q *stmt.Query) {
	q.Body = simplifyExprSet(q.Body)
	for i := range q.With {
		simplifyQuery(q.With[i].Query)
	}
	for i := range q.OrderBy {
		q.OrderBy[i].Expr = Expr(q.OrderBy[i].Expr)
	}
	q.Limit = Expr(q.Limit)
	q.Offset = Expr(q.Offset)
}

func simplifyExprSet(body stmt.ExprSet) stmt.ExprSet {
	switch v := body.(type) {
	case stmt.Select:
		v.Filter = Expr(v.Filter)
		v.Returning = simplifyReturning(v.Returning)
		return v
	case stmt.Values:
		for r := range v.Rows {
			for c := range v.Rows[r] {
				v.Rows[r][c] = Expr(v.Rows[r][c])
			}
		}
		return v
	case stmt.SetOp:
		operands := make([]stmt.ExprSet, len(v.Operands))
		for i, operand := range v.Operands {
			operands[i] = simplifyExprSet(operand)
		}
		v.Operands = operands
		return simplifySetOp(v)
	case stmt.UpdateBody:
		u := *v.Update
		u.Filter = Expr(u.Filter)
		u.Condition = Expr(u.Condition)
		for k, a := range u.Assignments {
			a.Expr = Expr(a.Expr)
			u.Assignments[k] = a
		}
		v.Update = &u
		return v
	default:
		return body
	}
}

// simplifySetOp covers two SetOp shrink rules: a union of at most one
// operand collapses to that operand directly, and a plain UNION of two
// Selects reading the same source with the same projection collapses into
// one Select whose filter is the OR of the two branches' filters (sound for
// UNION since it already drops duplicate rows; not applied to UNION ALL,
// where the two branches may contribute genuinely distinct duplicate rows
// an OR-merge would collapse).
func simplifySetOp(v stmt.SetOp) stmt.ExprSet {
	if len(v.Operands) == 0 {
		return stmt.Values{}
	}
	if len(v.Operands) == 1 {
		return v.Operands[0]
	}
	if v.Op == stmt.SetOpUnion && len(v.Operands) == 2 {
		if merged, ok := mergeUnionBranches(v.Operands[0], v.Operands[1]); ok {
			return merged
		}
	}
	return v
}

func mergeUnionBranches(a, b stmt.ExprSet) (stmt.ExprSet, bool) {
	left, ok := a.(stmt.Select)
	if !ok {
		return nil, false
	}
	right, ok := b.(stmt.Select)
	if !ok {
		return nil, false
	}
	if !reflect.DeepEqual(left.Source, right.Source) || !reflect.DeepEqual(left.Returning, right.Returning) {
		return nil, false
	}
	left.Filter = Expr(stmt.Or(left.Filter, right.Filter))
	return left, true
}

func simplifyReturning(r stmt.Returning) stmt.Returning {
	if re, ok := r.(stmt.ReturningExpr); ok {
		re.Expr = Expr(re.Expr)
		return re
	}
	return r
}

// Expr simplifies a single expression tree to a fixed point: repeated
// bottom-up rewrite passes until a pass changes nothing. Each individual
// rule only ever looks at its own node plus already-simplified children
// (Transform is post-order), so a fixed point is reached in at most the
// tree's depth many passes; in practice one or two.
func Expr(e stmt.Expr) stmt.Expr {
	if e == nil {
		return nil
	}
	for {
		next := stmt.Transform(e, applyRules)
		if sameShape(next, e) {
			return next
		}
		e = next
	}
}

func applyRules(e stmt.Expr) stmt.Expr {
	e = foldNot(e)
	e = foldAnd(e)
	e = foldOr(e)
	e = foldInList(e)
	e = foldIsNull(e)
	return e
}

func foldNot(e stmt.Expr) stmt.Expr {
	not, ok := e.(stmt.ExprNot)
	if !ok {
		return e
	}
	switch inner := not.Expr.(type) {
	case stmt.ExprNot:
		return inner.Expr // NOT NOT x => x
	case stmt.ExprValue:
		if b, isBool := inner.Value.AsBool(); isBool {
			return stmt.BoolLit(!b) // NOT true/false
		}
		if inner.Value.IsNull() {
			return stmt.NullLit() // NOT null => null
		}
	case stmt.ExprAnd:
		// De Morgan's: NOT(a AND b) => NOT a OR NOT b
		negated := make([]stmt.Expr, len(inner.Operands))
		for i, operand := range inner.Operands {
			negated[i] = stmt.Not(operand)
		}
		return stmt.Or(negated...)
	case stmt.ExprOr:
		negated := make([]stmt.Expr, len(inner.Operands))
		for i, operand := range inner.Operands {
			negated[i] = stmt.Not(operand)
		}
		return stmt.And(negated...)
	case stmt.ExprBinaryOp:
		if inner.Op != stmt.OpIsA {
			return stmt.ExprBinaryOp{Op: inner.Op.Negate(), LHS: inner.LHS, RHS: inner.RHS}
		}
	case stmt.ExprInList:
		if list, isList := asLiteralList(inner.List); isList && len(list) == 0 {
			return stmt.BoolLit(true) // NOT(x IN ()) => true
		}
	}
	return e
}

func foldAnd(e stmt.Expr) stmt.Expr {
	and, ok := e.(stmt.ExprAnd)
	if !ok {
		return e
	}
	if len(and.Operands) == 0 {
		return stmt.BoolLit(true) // empty AND => true
	}
	var kept []stmt.Expr
	for _, operand := range and.Operands {
		if stmt.IsFalse(operand) {
			return stmt.BoolLit(false)
		}
		if stmt.IsTrue(operand) {
			continue // drop trivially-true conjuncts
		}
		kept = append(kept, operand)
	}
	if len(kept) == 0 {
		return stmt.BoolLit(true)
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return stmt.ExprAnd{Operands: kept}
}

func foldOr(e stmt.Expr) stmt.Expr {
	or, ok := e.(stmt.ExprOr)
	if !ok {
		return e
	}
	if len(or.Operands) == 0 {
		return stmt.BoolLit(false) // empty OR => false
	}
	var kept []stmt.Expr
	for _, operand := range or.Operands {
		if stmt.IsTrue(operand) {
			return stmt.BoolLit(true)
		}
		if stmt.IsFalse(operand) {
			continue
		}
		kept = append(kept, operand)
	}
	if len(kept) == 0 {
		return stmt.BoolLit(false)
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return stmt.ExprOr{Operands: kept}
}

// foldInList covers: x IN () => false; null IN (...) => null; x IN (v) =>
// x = v; and literal-list dedup.
func foldInList(e stmt.Expr) stmt.Expr {
	in, ok := e.(stmt.ExprInList)
	if !ok {
		return e
	}
	if stmt.IsNullLit(in.Expr) {
		return stmt.NullLit()
	}
	list, isLiteral := asLiteralList(in.List)
	if !isLiteral {
		return e
	}
	if len(list) == 0 {
		return stmt.BoolLit(false)
	}
	deduped := dedupValues(list)
	if len(deduped) == 1 {
		return stmt.Eq(in.Expr, stmt.Lit(deduped[0]))
	}
	if len(deduped) != len(list) {
		items := make([]stmt.Value, len(deduped))
		copy(items, deduped)
		return stmt.ExprInList{Expr: in.Expr, List: stmt.ExprValue{Value: stmt.List(items...)}}
	}
	return e
}

func foldIsNull(e stmt.Expr) stmt.Expr {
	isNull, ok := e.(stmt.ExprIsNull)
	if !ok {
		return e
	}
	lit, ok := isNull.Expr.(stmt.ExprValue)
	if !ok {
		return e
	}
	result := lit.Value.IsNull()
	if isNull.Negate {
		result = !result
	}
	return stmt.BoolLit(result)
}

func asLiteralList(e stmt.Expr) ([]stmt.Value, bool) {
	v, ok := e.(stmt.ExprValue)
	if !ok {
		return nil, false
	}
	return v.Value.AsList()
}

func dedupValues(in []stmt.Value) []stmt.Value {
	var out []stmt.Value
	for _, v := range in {
		dup := false
		for _, seen := range out {
			if seen.Equal(v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// sameShape reports whether a further rewrite pass would be a no-op; used to
// detect the simplifier's fixed point without requiring Expr equality for
// every node kind (value/shape equality is all that's needed here since
// Transform rebuilds structurally-identical subtrees into == pointers only
// for untouched leaves).
func sameShape(a, b stmt.Expr) bool {
	return exprString(a) == exprString(b)
}

// exprString renders an expression into a structural key stable enough to
// detect simplifier convergence; it is not a parser-facing representation.
func exprString(e stmt.Expr) string {
	if e == nil {
		return "<nil>"
	}
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}
