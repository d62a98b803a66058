package simplify

import (
	"fmt"
	"strings"

	"github.com/toasty-orm/toasty/stmt"
)

// writeExpr renders e into sb as a structural key, used only to detect
// fixed-point convergence in Expr (see sameShape). Two structurally equal
// trees always render identically; the converse isn't guaranteed for
// pathological %v formatting of custom Value payloads, which only risks a
// spurious extra simplification pass, never an incorrect result.
func writeExpr(sb *strings.Builder, e stmt.Expr) {
	if e == nil {
		sb.WriteString("_")
		return
	}
	switch v := e.(type) {
	case stmt.ExprValue:
		fmt.Fprintf(sb, "val(%s)", v.Value.String())
	case stmt.ExprDefault:
		sb.WriteString("default")
	case stmt.ExprError:
		fmt.Fprintf(sb, "error(%s)", v.Message)
	case stmt.ExprReference:
		fmt.Fprintf(sb, "ref(%d,%d,%d)", v.Target, v.Index, v.Nesting)
	case stmt.ExprArg:
		fmt.Fprintf(sb, "arg(%d,%d)", v.Position, v.Nesting)
	case stmt.ExprAnd:
		writeList(sb, "and", toExprs(v.Operands))
	case stmt.ExprOr:
		writeList(sb, "or", toExprs(v.Operands))
	case stmt.ExprNot:
		sb.WriteString("not(")
		writeExpr(sb, v.Expr)
		sb.WriteString(")")
	case stmt.ExprBinaryOp:
		fmt.Fprintf(sb, "bin(%d,", v.Op)
		writeExpr(sb, v.LHS)
		sb.WriteString(",")
		writeExpr(sb, v.RHS)
		sb.WriteString(")")
	case stmt.ExprIsNull:
		fmt.Fprintf(sb, "isnull(%v,", v.Negate)
		writeExpr(sb, v.Expr)
		sb.WriteString(")")
	case stmt.ExprBeginsWith:
		sb.WriteString("beginswith(")
		writeExpr(sb, v.Expr)
		sb.WriteString(",")
		writeExpr(sb, v.Prefix)
		sb.WriteString(")")
	case stmt.ExprLike:
		sb.WriteString("like(")
		writeExpr(sb, v.Expr)
		sb.WriteString(",")
		writeExpr(sb, v.Pattern)
		sb.WriteString(")")
	case stmt.ExprInList:
		sb.WriteString("in(")
		writeExpr(sb, v.Expr)
		sb.WriteString(",")
		writeExpr(sb, v.List)
		sb.WriteString(")")
	case stmt.ExprInSubquery:
		sb.WriteString("insub(")
		writeExpr(sb, v.Expr)
		sb.WriteString(",...)")
	case stmt.ExprConcat:
		writeList(sb, "concat", v.Operands)
	case stmt.ExprConcatStr:
		fmt.Fprintf(sb, "concatstr(%v,", v.Fragments)
		writeList(sb, "", v.Holes)
		sb.WriteString(")")
	case stmt.ExprRecord:
		writeList(sb, "record", v.Fields)
	case stmt.ExprList:
		writeList(sb, "list", v.Items)
	case stmt.ExprProject:
		fmt.Fprintf(sb, "project(%d,%v,", v.Base, v.Projection.Indices)
		if v.Base == stmt.ProjectBaseExpr {
			writeExpr(sb, v.BaseExpr)
		}
		sb.WriteString(")")
	case stmt.ExprCast:
		fmt.Fprintf(sb, "cast(%d,", v.To)
		writeExpr(sb, v.Expr)
		sb.WriteString(")")
	case stmt.ExprMap:
		sb.WriteString("map(")
		writeExpr(sb, v.Base)
		sb.WriteString(",")
		writeExpr(sb, v.Body)
		sb.WriteString(")")
	case stmt.ExprAny:
		sb.WriteString("any(")
		writeExpr(sb, v.Expr)
		sb.WriteString(")")
	case stmt.ExprStmt:
		sb.WriteString("stmt(...)")
	case stmt.ExprFunc:
		sb.WriteString("func(count,")
		writeExpr(sb, v.Count.Arg)
		sb.WriteString(",")
		writeExpr(sb, v.Count.Filter)
		sb.WriteString(")")
	case stmt.ExprKeyCtor:
		fmt.Fprintf(sb, "key(%d,", v.Model)
		writeList(sb, "", v.Fields)
		sb.WriteString(")")
	case stmt.ExprEnumCtor:
		fmt.Fprintf(sb, "enumctor(%d,", v.Variant)
		writeList(sb, "", v.Fields.Fields)
		sb.WriteString(")")
	default:
		fmt.Fprintf(sb, "%T", e)
	}
}

func toExprs(in []stmt.Expr) []stmt.Expr { return in }

func writeList(sb *strings.Builder, name string, exprs []stmt.Expr) {
	if name != "" {
		sb.WriteString(name)
	}
	sb.WriteString("[")
	for i, e := range exprs {
		if i > 0 {
			sb.WriteString(",")
		}
		writeExpr(sb, e)
	}
	sb.WriteString("]")
}
