package stmt

import "fmt"

// Row is a table-space tuple of column values, indexed the same way as the
// statement's column references. Args is the positional argument vector
// substituted for ExprArg nodes (see engine.ExecStatement).
type EvalEnv struct {
	Row  []Value
	Args []Value
}

// Eval computes an expression's value given an environment. Its caller in
// this module is the executor's SetVar action, which evaluates each value
// with an empty environment.
//
// Eval implements SQL's three-valued logic: any operand that is NULL makes
// comparisons and boolean connectives propagate NULL (modeled here as
// Value{Kind: ValueNull}), except AND/OR short-circuit on a determining
// operand per standard SQL (false AND null = false; true OR null = true).
func Eval(e Expr, env EvalEnv) (Value, error) {
	switch v := e.(type) {
	case ExprValue:
		return v.Value, nil
	case ExprDefault:
		return Null(), nil
	case ExprErrorV:
		return Value{}, fmt.Errorf("stmt: evaluated Error expr: %s", v.Message)
	case ExprArg:
		if v.Position < 0 || v.Position >= len(env.Args) {
			return Value{}, fmt.Errorf("stmt: arg index %d out of range (have %d)", v.Position, len(env.Args))
		}
		return env.Args[v.Position], nil
	case ExprReference:
		if v.Target == RefColumn {
			if v.Index < 0 || v.Index >= len(env.Row) {
				return Value{}, fmt.Errorf("stmt: column index %d out of range (have %d)", v.Index, len(env.Row))
			}
			return env.Row[v.Index], nil
		}
		return Value{}, fmt.Errorf("stmt: cannot eval unresolved reference (target=%d)", v.Target)
	case ExprNot:
		inner, err := Eval(v.Expr, env)
		if err != nil {
			return Value{}, err
		}
		b, ok := inner.AsBool()
		if !ok {
			if inner.IsNull() {
				return Null(), nil
			}
			return Value{}, fmt.Errorf("stmt: NOT applied to non-bool %v", inner)
		}
		return Bool(!b), nil
	case ExprAnd:
		sawNull := false
		for _, operand := range v.Operands {
			val, err := Eval(operand, env)
			if err != nil {
				return Value{}, err
			}
			if val.IsNull() {
				sawNull = true
				continue
			}
			b, _ := val.AsBool()
			if !b {
				return Bool(false), nil
			}
		}
		if sawNull {
			return Null(), nil
		}
		return Bool(true), nil
	case ExprOr:
		sawNull := false
		for _, operand := range v.Operands {
			val, err := Eval(operand, env)
			if err != nil {
				return Value{}, err
			}
			if val.IsNull() {
				sawNull = true
				continue
			}
			b, _ := val.AsBool()
			if b {
				return Bool(true), nil
			}
		}
		if sawNull {
			return Null(), nil
		}
		return Bool(false), nil
	case ExprBinaryOp:
		lhs, err := Eval(v.LHS, env)
		if err != nil {
			return Value{}, err
		}
		rhs, err := Eval(v.RHS, env)
		if err != nil {
			return Value{}, err
		}
		return evalBinaryOp(v.Op, lhs, rhs)
	case ExprIsNull:
		inner, err := Eval(v.Expr, env)
		if err != nil {
			return Value{}, err
		}
		result := inner.IsNull()
		if v.Negate {
			result = !result
		}
		return Bool(result), nil
	case ExprInList:
		lhs, err := Eval(v.Expr, env)
		if err != nil {
			return Value{}, err
		}
		list, err := Eval(v.List, env)
		if err != nil {
			return Value{}, err
		}
		if lhs.IsNull() {
			return Null(), nil
		}
		items, _ := list.AsList()
		sawNull := false
		for _, item := range items {
			if item.IsNull() {
				sawNull = true
				continue
			}
			if lhs.Equal(item) {
				return Bool(true), nil
			}
		}
		if sawNull {
			return Null(), nil
		}
		return Bool(false), nil
	case ExprRecord:
		fields := make([]Value, len(v.Fields))
		for i, f := range v.Fields {
			val, err := Eval(f, env)
			if err != nil {
				return Value{}, err
			}
			fields[i] = val
		}
		return Record(fields...), nil
	case ExprList:
		items := make([]Value, len(v.Items))
		for i, f := range v.Items {
			val, err := Eval(f, env)
			if err != nil {
				return Value{}, err
			}
			items[i] = val
		}
		return List(items...), nil
	case ExprProject:
		var base Value
		var err error
		if v.Base == ProjectBaseExpr {
			base, err = Eval(v.BaseExpr, env)
		} else {
			base, err = Record(env.Row...), nil
		}
		if err != nil {
			return Value{}, err
		}
		if v.Projection.IsIdentity() {
			return base, nil
		}
		fields, ok := base.AsRecord()
		if !ok {
			return Value{}, fmt.Errorf("stmt: project base is not a record")
		}
		out := make([]Value, len(v.Projection.Indices))
		for i, idx := range v.Projection.Indices {
			if idx < 0 || idx >= len(fields) {
				return Value{}, fmt.Errorf("stmt: projection index %d out of range", idx)
			}
			out[i] = fields[idx]
		}
		return Record(out...), nil
	default:
		return Value{}, fmt.Errorf("stmt: Eval unsupported for %T", e)
	}
}

func evalBinaryOp(op BinaryOp, lhs, rhs Value) (Value, error) {
	if lhs.IsNull() || rhs.IsNull() {
		switch op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			return Null(), nil
		}
	}
	switch op {
	case OpEq:
		return Bool(lhs.Equal(rhs)), nil
	case OpNe:
		return Bool(!lhs.Equal(rhs)), nil
	case OpLt, OpLe, OpGt, OpGe:
		cmp, ok := compareValues(lhs, rhs)
		if !ok {
			return Value{}, fmt.Errorf("stmt: cannot order-compare %v and %v", lhs, rhs)
		}
		switch op {
		case OpLt:
			return Bool(cmp < 0), nil
		case OpLe:
			return Bool(cmp <= 0), nil
		case OpGt:
			return Bool(cmp > 0), nil
		default:
			return Bool(cmp >= 0), nil
		}
	default:
		return Value{}, fmt.Errorf("stmt: unsupported binary op %v", op)
	}
}

func compareValues(lhs, rhs Value) (int, bool) {
	if lhs.Kind != rhs.Kind {
		return 0, false
	}
	switch lhs.Kind {
	case ValueI64:
		a, _ := lhs.AsI64()
		b, _ := rhs.AsI64()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	case ValueString:
		a, _ := lhs.AsString()
		b, _ := rhs.AsString()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		default:
			return 0, true
		}
	default:
		if lhs.Equal(rhs) {
			return 0, true
		}
		return 0, false
	}
}
