package stmt

// IsStable reports whether the expression evaluates to the same value on
// every call within a single statement execution: no Default (depends on
// table metadata / sequences) and no unresolved Stmt (a subquery may observe
// concurrent writes). Constants, references, and arg substitutions are
// stable.
func IsStable(e Expr) bool {
	switch v := e.(type) {
	case ExprDefault:
		return false
	case ExprStmt:
		return false
	case ExprErrorV:
		return true
	case ExprValue, ExprReference, ExprArg:
		return true
	case ExprAnd:
		return allStable(v.Operands)
	case ExprOr:
		return allStable(v.Operands)
	case ExprNot:
		return IsStable(v.Expr)
	case ExprBinaryOp:
		return IsStable(v.LHS) && IsStable(v.RHS)
	case ExprIsNull:
		return IsStable(v.Expr)
	case ExprBeginsWith:
		return IsStable(v.Expr) && IsStable(v.Prefix)
	case ExprLike:
		return IsStable(v.Expr) && IsStable(v.Pattern)
	case ExprInList:
		return IsStable(v.Expr) && IsStable(v.List)
	case ExprInSubquery:
		return false
	case ExprConcat:
		return allStable(v.Operands)
	case ExprConcatStr:
		return allStable(v.Holes)
	case ExprRecord:
		return allStable(v.Fields)
	case ExprList:
		return allStable(v.Items)
	case ExprProject:
		if v.Base == ProjectBaseExpr && !IsStable(v.BaseExpr) {
			return false
		}
		return true
	case ExprCast:
		return IsStable(v.Expr)
	case ExprMap:
		return IsStable(v.Base) && IsStable(v.Body)
	case ExprAny:
		return IsStable(v.Expr)
	case ExprFunc:
		return false
	case ExprKeyCtor:
		return allStable(v.Fields)
	case ExprEnumCtor:
		return allStable(v.Fields.Fields)
	default:
		return false
	}
}

// ExprErrorV alias kept for switch exhaustiveness (ExprError is defined in
// expr.go under the same name used for a statement-level Error node).
type ExprErrorV = ExprError

func allStable(exprs []Expr) bool {
	for _, e := range exprs {
		if !IsStable(e) {
			return false
		}
	}
	return true
}

// IsConst reports whether the expression can be computed with no external
// input at all -- no references to columns/fields/self and no Arg, *except*
// that Arg(_, nesting=0) occurring inside the Body of an enclosing ExprMap
// counts as const, since it is a local binding rather than an external
// input. `inMapBody` tracks whether we are currently inside such a binding.
func IsConst(e Expr) bool {
	return isConst(e, false)
}

func isConst(e Expr, inMapBody bool) bool {
	switch v := e.(type) {
	case ExprValue:
		return true
	case ExprDefault:
		return false
	case ExprErrorV:
		return true
	case ExprReference:
		return false
	case ExprArg:
		return inMapBody && v.Nesting == 0
	case ExprAnd:
		return allConst(v.Operands, inMapBody)
	case ExprOr:
		return allConst(v.Operands, inMapBody)
	case ExprNot:
		return isConst(v.Expr, inMapBody)
	case ExprBinaryOp:
		return isConst(v.LHS, inMapBody) && isConst(v.RHS, inMapBody)
	case ExprIsNull:
		return isConst(v.Expr, inMapBody)
	case ExprBeginsWith:
		return isConst(v.Expr, inMapBody) && isConst(v.Prefix, inMapBody)
	case ExprLike:
		return isConst(v.Expr, inMapBody) && isConst(v.Pattern, inMapBody)
	case ExprInList:
		return isConst(v.Expr, inMapBody) && isConst(v.List, inMapBody)
	case ExprInSubquery:
		return false
	case ExprConcat:
		return allConst(v.Operands, inMapBody)
	case ExprConcatStr:
		return allConst(v.Holes, inMapBody)
	case ExprRecord:
		return allConst(v.Fields, inMapBody)
	case ExprList:
		return allConst(v.Items, inMapBody)
	case ExprProject:
		if v.Base == ProjectBaseExpr {
			return isConst(v.BaseExpr, inMapBody)
		}
		return false
	case ExprCast:
		return isConst(v.Expr, inMapBody)
	case ExprMap:
		return isConst(v.Base, inMapBody) && isConst(v.Body, true)
	case ExprAny:
		return isConst(v.Expr, inMapBody)
	case ExprFunc:
		return false
	case ExprKeyCtor:
		return allConst(v.Fields, inMapBody)
	case ExprEnumCtor:
		return allConst(v.Fields.Fields, inMapBody)
	default:
		return false
	}
}

func allConst(exprs []Expr, inMapBody bool) bool {
	for _, e := range exprs {
		if !isConst(e, inMapBody) {
			return false
		}
	}
	return true
}

// IsEval reports whether the expression is computable given a vector of
// argument values (i.e. contains no unresolved column/field references and
// no subqueries, but Arg is allowed since it will be substituted).
func IsEval(e Expr) bool {
	switch v := e.(type) {
	case ExprValue, ExprArg, ExprDefault, ExprErrorV:
		return true
	case ExprReference:
		return false
	case ExprAnd:
		return allEval(v.Operands)
	case ExprOr:
		return allEval(v.Operands)
	case ExprNot:
		return IsEval(v.Expr)
	case ExprBinaryOp:
		return IsEval(v.LHS) && IsEval(v.RHS)
	case ExprIsNull:
		return IsEval(v.Expr)
	case ExprBeginsWith:
		return IsEval(v.Expr) && IsEval(v.Prefix)
	case ExprLike:
		return IsEval(v.Expr) && IsEval(v.Pattern)
	case ExprInList:
		return IsEval(v.Expr) && IsEval(v.List)
	case ExprInSubquery:
		return false
	case ExprConcat:
		return allEval(v.Operands)
	case ExprConcatStr:
		return allEval(v.Holes)
	case ExprRecord:
		return allEval(v.Fields)
	case ExprList:
		return allEval(v.Items)
	case ExprProject:
		if v.Base == ProjectBaseExpr {
			return IsEval(v.BaseExpr)
		}
		return true
	case ExprCast:
		return IsEval(v.Expr)
	case ExprMap:
		return IsEval(v.Base) && IsEval(v.Body)
	case ExprAny:
		return IsEval(v.Expr)
	case ExprFunc:
		return false
	case ExprKeyCtor:
		return allEval(v.Fields)
	case ExprEnumCtor:
		return allEval(v.Fields.Fields)
	default:
		return false
	}
}

func allEval(exprs []Expr) bool {
	for _, e := range exprs {
		if !IsEval(e) {
			return false
		}
	}
	return true
}
