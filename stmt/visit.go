package stmt

// Transform performs a post-order rewrite of an expression tree: fn is
// applied to every node after its children have already been rewritten.
// This is the single traversal primitive used by the simplifier and lowerer
// instead of a full visitor-trait hierarchy (see DESIGN.md for the
// re-architecture rationale) -- mutation happens by returning a replacement
// node, never through parent pointers or in-place mutation.
func Transform(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return e
	}

	var rebuilt Expr

	switch v := e.(type) {
	case ExprAnd:
		rebuilt = ExprAnd{Operands: transformAll(v.Operands, fn)}
	case ExprOr:
		rebuilt = ExprOr{Operands: transformAll(v.Operands, fn)}
	case ExprNot:
		rebuilt = ExprNot{Expr: Transform(v.Expr, fn)}
	case ExprBinaryOp:
		rebuilt = ExprBinaryOp{Op: v.Op, LHS: Transform(v.LHS, fn), RHS: Transform(v.RHS, fn)}
	case ExprIsNull:
		rebuilt = ExprIsNull{Expr: Transform(v.Expr, fn), Negate: v.Negate}
	case ExprBeginsWith:
		rebuilt = ExprBeginsWith{Expr: Transform(v.Expr, fn), Prefix: Transform(v.Prefix, fn)}
	case ExprLike:
		rebuilt = ExprLike{Expr: Transform(v.Expr, fn), Pattern: Transform(v.Pattern, fn)}
	case ExprInList:
		rebuilt = ExprInList{Expr: Transform(v.Expr, fn), List: Transform(v.List, fn)}
	case ExprConcat:
		rebuilt = ExprConcat{Operands: transformAll(v.Operands, fn)}
	case ExprConcatStr:
		rebuilt = ExprConcatStr{Fragments: v.Fragments, Holes: transformAll(v.Holes, fn)}
	case ExprRecord:
		rebuilt = ExprRecord{Fields: transformAll(v.Fields, fn)}
	case ExprList:
		rebuilt = ExprList{Items: transformAll(v.Items, fn)}
	case ExprProject:
		nv := v
		if v.Base == ProjectBaseExpr {
			nv.BaseExpr = Transform(v.BaseExpr, fn)
		}
		rebuilt = nv
	case ExprCast:
		rebuilt = ExprCast{Expr: Transform(v.Expr, fn), To: v.To}
	case ExprMap:
		rebuilt = ExprMap{Base: Transform(v.Base, fn), Body: Transform(v.Body, fn)}
	case ExprAny:
		rebuilt = ExprAny{Expr: Transform(v.Expr, fn)}
	case ExprKeyCtor:
		rebuilt = ExprKeyCtor{Model: v.Model, Fields: transformAll(v.Fields, fn)}
	case ExprEnumCtor:
		rebuilt = ExprEnumCtor{Variant: v.Variant, Fields: ExprRecord{Fields: transformAll(v.Fields.Fields, fn)}}
	case ExprInSubquery:
		// Sub-statement bodies are handled separately by the lowerer's
		// sub-statement extraction pass, not rewritten in place here.
		rebuilt = v
	default:
		rebuilt = e
	}

	return fn(rebuilt)
}

func transformAll(exprs []Expr, fn func(Expr) Expr) []Expr {
	if exprs == nil {
		return nil
	}
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		out[i] = Transform(e, fn)
	}
	return out
}

// Walk invokes visit on every node in the tree, pre-order, without
// rebuilding it; used by read-only passes (reference collection, back-ref
// detection) where Transform's allocation would be wasted.
func Walk(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch v := e.(type) {
	case ExprAnd:
		walkAll(v.Operands, visit)
	case ExprOr:
		walkAll(v.Operands, visit)
	case ExprNot:
		Walk(v.Expr, visit)
	case ExprBinaryOp:
		Walk(v.LHS, visit)
		Walk(v.RHS, visit)
	case ExprIsNull:
		Walk(v.Expr, visit)
	case ExprBeginsWith:
		Walk(v.Expr, visit)
		Walk(v.Prefix, visit)
	case ExprLike:
		Walk(v.Expr, visit)
		Walk(v.Pattern, visit)
	case ExprInList:
		Walk(v.Expr, visit)
		Walk(v.List, visit)
	case ExprConcat:
		walkAll(v.Operands, visit)
	case ExprConcatStr:
		walkAll(v.Holes, visit)
	case ExprRecord:
		walkAll(v.Fields, visit)
	case ExprList:
		walkAll(v.Items, visit)
	case ExprProject:
		if v.Base == ProjectBaseExpr {
			Walk(v.BaseExpr, visit)
		}
	case ExprCast:
		Walk(v.Expr, visit)
	case ExprMap:
		Walk(v.Base, visit)
		Walk(v.Body, visit)
	case ExprAny:
		Walk(v.Expr, visit)
	case ExprKeyCtor:
		walkAll(v.Fields, visit)
	case ExprEnumCtor:
		walkAll(v.Fields.Fields, visit)
	}
}

func walkAll(exprs []Expr, visit func(Expr)) {
	for _, e := range exprs {
		Walk(e, visit)
	}
}

// CollectReferences gathers every ExprReference node in the tree.
func CollectReferences(e Expr) []ExprReference {
	var out []ExprReference
	Walk(e, func(node Expr) {
		if ref, ok := node.(ExprReference); ok {
			out = append(out, ref)
		}
	})
	return out
}
