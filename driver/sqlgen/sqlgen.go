// Package sqlgen renders a fully-lowered, table-space stmt.Statement into
// dialect-specific SQL text plus a positional argument list, shared by the
// sqlite/postgres/mysql driver packages.
//
// Grounded on rediwo-redi-orm's types/conditions.go Condition.ToSQL()
// pattern (string + []any built up with fmt.Sprintf/strings.Join) applied
// to stmt.Expr instead of that package's Condition tree.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

// Dialect captures the few points where backends disagree on SQL surface
// syntax: placeholder style and identifier quoting.
type Dialect interface {
	Placeholder(pos int) string
	QuoteIdent(name string) string
}

// Query renders a single-table Select statement (joins are not supported:
// the lowerer/HIR decomposes relations into separate statements before a
// statement reaches sqlgen).
func Query(db *schema.DbSchema, q *stmt.Query, d Dialect) (string, []any, error) {
	sel, ok := q.Body.(stmt.Select)
	if !ok {
		return "", nil, tserr.UnsupportedFeature("sqlgen: only Select query bodies are supported")
	}
	table, err := tableOf(db, sel.Source)
	if err != nil {
		return "", nil, err
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = d.QuoteIdent(c.Name)
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteIdent(table.Name))

	if sel.Filter != nil && !stmt.IsTrue(sel.Filter) {
		where, whereArgs, err := renderExpr(sel.Filter, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		_ = whereArgs
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	for i, ob := range q.OrderBy {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		col, _, err := renderExpr(ob.Expr, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(col)
		if ob.Desc {
			sb.WriteString(" DESC")
		}
	}

	if q.Limit != nil {
		lim, _, err := renderExpr(q.Limit, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" LIMIT ")
		sb.WriteString(lim)
	}
	if q.Offset != nil {
		off, _, err := renderExpr(q.Offset, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" OFFSET ")
		sb.WriteString(off)
	}

	return sb.String(), args, nil
}

func Insert(db *schema.DbSchema, ins *stmt.Insert, d Dialect) (string, []any, error) {
	tgt, ok := ins.Target.(stmt.InsertTargetTable)
	if !ok {
		return "", nil, tserr.UnsupportedFeature("sqlgen: insert target must be lowered to a table")
	}
	table := db.Table(schema.TableId(tgt.Table))
	if table == nil {
		return "", nil, tserr.Adhoc("sqlgen: unknown table %d", tgt.Table)
	}
	values, ok := ins.Source.Body.(stmt.Values)
	if !ok {
		return "", nil, tserr.UnsupportedFeature("sqlgen: insert source must be lowered to Values")
	}
	if len(values.Rows) == 0 {
		return "", nil, tserr.Adhoc("sqlgen: insert has no rows")
	}

	colNames := make([]string, len(tgt.Columns))
	for i, colIdx := range tgt.Columns {
		colNames[i] = d.QuoteIdent(table.Columns[colIdx].Name)
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(table.Name))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(colNames, ", "))
	sb.WriteString(") VALUES ")

	for ri, row := range values.Rows {
		if ri > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for ci, e := range row {
			if ci > 0 {
				sb.WriteString(", ")
			}
			rendered, _, err := renderExpr(e, table, d, &args)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString(rendered)
		}
		sb.WriteString(")")
	}

	appendReturning(&sb, table, ins.Returning, d)
	return sb.String(), args, nil
}

func Update(db *schema.DbSchema, u *stmt.Update, d Dialect) (string, []any, error) {
	tgt, ok := u.Target.(stmt.UpdateTargetTable)
	if !ok {
		return "", nil, tserr.UnsupportedFeature("sqlgen: update target must be lowered to a table")
	}
	table := db.Table(schema.TableId(tgt.Table))
	if table == nil {
		return "", nil, tserr.Adhoc("sqlgen: unknown table %d", tgt.Table)
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("UPDATE ")
	sb.WriteString(d.QuoteIdent(table.Name))
	sb.WriteString(" SET ")

	first := true
	for colIdx, assign := range u.Assignments {
		if assign.Op != stmt.AssignSet {
			return "", nil, tserr.UnsupportedFeature("sqlgen: only Set assignments are supported at the table level")
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(d.QuoteIdent(table.Columns[colIdx].Name))
		sb.WriteString(" = ")
		rendered, _, err := renderExpr(assign.Expr, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(rendered)
	}

	filter := u.Filter
	if u.Condition != nil {
		filter = stmt.And(filter, u.Condition)
	}
	if filter != nil && !stmt.IsTrue(filter) {
		where, _, err := renderExpr(filter, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	appendReturning(&sb, table, u.Returning, d)
	return sb.String(), args, nil
}

func Delete(db *schema.DbSchema, del *stmt.Delete, d Dialect) (string, []any, error) {
	table, err := tableOf(db, del.From)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var args []any
	sb.WriteString("DELETE FROM ")
	sb.WriteString(d.QuoteIdent(table.Name))

	if del.Filter != nil && !stmt.IsTrue(del.Filter) {
		where, _, err := renderExpr(del.Filter, table, d, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	appendReturning(&sb, table, del.Returning, d)
	return sb.String(), args, nil
}

func appendReturning(sb *strings.Builder, table *schema.Table, r stmt.Returning, d Dialect) {
	switch r.(type) {
	case stmt.ReturningStar:
		cols := make([]string, len(table.Columns))
		for i, c := range table.Columns {
			cols[i] = d.QuoteIdent(c.Name)
		}
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(cols, ", "))
	case nil, stmt.ReturningChanged:
		// nothing to project; caller reads RowsAffected instead.
	}
}

func tableOf(db *schema.DbSchema, src stmt.Source) (*schema.Table, error) {
	t, ok := src.(stmt.SourceTable)
	if !ok {
		return nil, tserr.UnsupportedFeature("sqlgen: source must be lowered to a single table")
	}
	if len(t.Joins) > 0 {
		return nil, tserr.UnsupportedFeature("sqlgen: joins must be decomposed before reaching sqlgen")
	}
	table := db.Table(schema.TableId(t.Table.Table))
	if table == nil {
		return nil, tserr.Adhoc("sqlgen: unknown table %d", t.Table.Table)
	}
	return table, nil
}

// renderExpr renders e against table's column names, appending any bound
// literal/arg values to *args in placeholder order.
func renderExpr(e stmt.Expr, table *schema.Table, d Dialect, args *[]any) (string, []any, error) {
	switch v := e.(type) {
	case stmt.ExprValue:
		*args = append(*args, v.Value.Raw())
		return d.Placeholder(len(*args) - 1), nil, nil

	case stmt.ExprReference:
		if v.Target != stmt.RefColumn {
			return "", nil, tserr.UnsupportedFeature("sqlgen: expression must be lowered to a column reference")
		}
		if v.Index < 0 || v.Index >= len(table.Columns) {
			return "", nil, tserr.Adhoc("sqlgen: column index %d out of range", v.Index)
		}
		return d.QuoteIdent(table.Columns[v.Index].Name), nil, nil

	case stmt.ExprAnd:
		return renderBool(v.Operands, "AND", table, d, args)

	case stmt.ExprOr:
		return renderBool(v.Operands, "OR", table, d, args)

	case stmt.ExprNot:
		inner, _, err := renderExpr(v.Expr, table, d, args)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("NOT (%s)", inner), nil, nil

	case stmt.ExprBinaryOp:
		lhs, _, err := renderExpr(v.LHS, table, d, args)
		if err != nil {
			return "", nil, err
		}
		rhs, _, err := renderExpr(v.RHS, table, d, args)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s %s", lhs, v.Op.String(), rhs), nil, nil

	case stmt.ExprIsNull:
		inner, _, err := renderExpr(v.Expr, table, d, args)
		if err != nil {
			return "", nil, err
		}
		if v.Negate {
			return fmt.Sprintf("%s IS NOT NULL", inner), nil, nil
		}
		return fmt.Sprintf("%s IS NULL", inner), nil, nil

	case stmt.ExprBeginsWith:
		inner, _, err := renderExpr(v.Expr, table, d, args)
		if err != nil {
			return "", nil, err
		}
		prefix, ok := v.Prefix.(stmt.ExprValue)
		if !ok {
			return "", nil, tserr.UnsupportedFeature("sqlgen: BEGINS_WITH prefix must be a literal")
		}
		s, _ := prefix.Value.AsString()
		*args = append(*args, s+"%")
		return fmt.Sprintf("%s LIKE %s", inner, d.Placeholder(len(*args)-1)), nil, nil

	case stmt.ExprLike:
		inner, _, err := renderExpr(v.Expr, table, d, args)
		if err != nil {
			return "", nil, err
		}
		pattern, _, err := renderExpr(v.Pattern, table, d, args)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s LIKE %s", inner, pattern), nil, nil

	case stmt.ExprInList:
		return renderInList(v, table, d, args)

	default:
		return "", nil, tserr.UnsupportedFeature(fmt.Sprintf("sqlgen: expression kind not supported: %T", e))
	}
}

func renderBool(operands []stmt.Expr, joiner string, table *schema.Table, d Dialect, args *[]any) (string, []any, error) {
	parts := make([]string, len(operands))
	for i, op := range operands {
		p, _, err := renderExpr(op, table, d, args)
		if err != nil {
			return "", nil, err
		}
		parts[i] = fmt.Sprintf("(%s)", p)
	}
	return strings.Join(parts, fmt.Sprintf(" %s ", joiner)), nil, nil
}

func renderInList(v stmt.ExprInList, table *schema.Table, d Dialect, args *[]any) (string, []any, error) {
	lhs, _, err := renderExpr(v.Expr, table, d, args)
	if err != nil {
		return "", nil, err
	}
	lit, ok := v.List.(stmt.ExprValue)
	if !ok {
		return "", nil, tserr.UnsupportedFeature("sqlgen: IN list must be a literal list by execution time")
	}
	items, ok := lit.Value.AsList()
	if !ok {
		return "", nil, tserr.Adhoc("sqlgen: IN list value is not a list")
	}
	if len(items) == 0 {
		return "FALSE", nil, nil
	}
	placeholders := make([]string, len(items))
	for i, item := range items {
		*args = append(*args, item.Raw())
		placeholders[i] = d.Placeholder(len(*args) - 1)
	}
	return fmt.Sprintf("%s IN (%s)", lhs, strings.Join(placeholders, ", ")), nil, nil
}
