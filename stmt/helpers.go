package stmt

// FilterOf extracts the driving filter expression from a statement body, or
// nil if the statement has none (e.g. a bare Values insert source). Mirrors
// the Rust source's `stmt.filter_expr_unwrap()` used throughout the index
// planner.
func FilterOf(s *Statement) Expr {
	switch {
	case s.Query != nil:
		if sel, ok := s.Query.Body.(Select); ok {
			return sel.Filter
		}
		return nil
	case s.Update != nil:
		return s.Update.Filter
	case s.Delete != nil:
		return s.Delete.Filter
	default:
		return nil
	}
}

// SetFilter replaces the driving filter expression in place.
func SetFilter(s *Statement, filter Expr) {
	switch {
	case s.Query != nil:
		if sel, ok := s.Query.Body.(Select); ok {
			sel.Filter = filter
			s.Query.Body = sel
		}
	case s.Update != nil:
		s.Update.Filter = filter
	case s.Delete != nil:
		s.Delete.Filter = filter
	}
}

// TargetModel returns the model a statement is authored against, in
// model-space (before lowering); used by the lowerer to look up a Mapping.
func TargetModel(s *Statement) (int, bool) {
	switch {
	case s.Query != nil:
		if sel, ok := s.Query.Body.(Select); ok {
			if m, ok := sel.Source.(SourceModel); ok {
				return m.Model, true
			}
		}
	case s.Insert != nil:
		if m, ok := s.Insert.Target.(InsertTargetModel); ok {
			return m.Model, true
		}
	case s.Update != nil:
		if m, ok := s.Update.Target.(UpdateTargetModel); ok {
			return m.Model, true
		}
	case s.Delete != nil:
		if m, ok := s.Delete.From.(SourceModel); ok {
			return m.Model, true
		}
	}
	return 0, false
}

// ReturningOf / SetReturning centralize access to the Returning clause
// across statement kinds, used by RETURNING constantization.
func ReturningOf(s *Statement) Returning {
	switch {
	case s.Insert != nil:
		return s.Insert.Returning
	case s.Update != nil:
		return s.Update.Returning
	case s.Delete != nil:
		return s.Delete.Returning
	default:
		return nil
	}
}

func SetReturning(s *Statement, r Returning) {
	switch {
	case s.Insert != nil:
		s.Insert.Returning = r
	case s.Update != nil:
		s.Update.Returning = r
	case s.Delete != nil:
		s.Delete.Returning = r
	}
}

// IsEmptyValues reports whether a query's body is a Values source with zero
// rows -- the short-circuit condition the executor checks before sending a
// statement to the driver (§4.5).
func IsEmptyValues(s *Statement) bool {
	if s.Query == nil {
		return false
	}
	if v, ok := s.Query.Body.(Values); ok {
		return len(v.Rows) == 0
	}
	return false
}

// SubstituteArgs replaces every ExprArg(position) node with args[position],
// used by the executor immediately before re-simplifying and sending a
// statement to the driver.
func SubstituteArgs(e Expr, args []Value) Expr {
	return Transform(e, func(node Expr) Expr {
		if a, ok := node.(ExprArg); ok {
			if a.Position >= 0 && a.Position < len(args) {
				return ExprValue{Value: args[a.Position]}
			}
		}
		return node
	})
}

// SubstituteStatementArgs walks every Expr held directly by s (Select's
// filter/order-by/limit/offset, Insert's Values rows, Update's assignments/
// filter/condition, Delete's filter) and substitutes ExprArg placeholders,
// mutating s in place. Used right before a statement is handed to sqlgen,
// since by then every Arg must have already been resolved from the VarTable.
func SubstituteStatementArgs(s *Statement, args []Value) {
	sub := func(e Expr) Expr {
		if e == nil {
			return nil
		}
		return SubstituteArgs(e, args)
	}

	switch {
	case s.Query != nil:
		switch body := s.Query.Body.(type) {
		case Select:
			body.Filter = sub(body.Filter)
			s.Query.Body = body
		case Values:
			for i, row := range body.Rows {
				for j, e := range row {
					row[j] = sub(e)
				}
				body.Rows[i] = row
			}
			s.Query.Body = body
		}
		for i, ob := range s.Query.OrderBy {
			ob.Expr = sub(ob.Expr)
			s.Query.OrderBy[i] = ob
		}
		s.Query.Limit = sub(s.Query.Limit)
		s.Query.Offset = sub(s.Query.Offset)

	case s.Insert != nil:
		if s.Insert.Source != nil {
			if values, ok := s.Insert.Source.Body.(Values); ok {
				for i, row := range values.Rows {
					for j, e := range row {
						row[j] = sub(e)
					}
					values.Rows[i] = row
				}
				s.Insert.Source.Body = values
			}
		}

	case s.Update != nil:
		for k, a := range s.Update.Assignments {
			a.Expr = sub(a.Expr)
			s.Update.Assignments[k] = a
		}
		s.Update.Filter = sub(s.Update.Filter)
		s.Update.Condition = sub(s.Update.Condition)

	case s.Delete != nil:
		s.Delete.Filter = sub(s.Delete.Filter)
	}
}
