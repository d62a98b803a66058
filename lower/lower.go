// Package lower implements the model-to-table lowering pass: it rewrites a
// Statement built against application models into one or more table-space
// statements, recorded as a hir.HirStatement tree.
//
// Four things happen during lowering, grounded on
// original_source/crates/toasty/src/engine/planner/ng/lower.rs and
// original_source/crates/toasty/src/engine/lower/returning.rs, reworked
// around explicit recursion instead of a VisitMut trait (Go has no mutable
// visitor dispatch, so LowerStatement's scope-stack state becomes an
// explicit *Lowerer carried through ordinary function calls):
//
//   - Relation elimination: a SourceModel becomes a SourceTable, and
//     relation-field references collapse into their foreign-key columns.
//   - Cross-scope references: an ExprReference whose Nesting is > 0 points
//     at an ancestor scope's row; it is replaced with an ExprArg and the
//     ancestor's StatementInfo.BackRefs records which of its columns must
//     be included in its own batch-load query.
//   - Sub-statement extraction: an ExprStmt becomes its own HIR statement,
//     wired to its parent via a filter-only hir.Arg Sub (Returning false).
//   - RETURNING constantization: a RETURNING expression that simplifies to
//     a single literal value becomes a ReturningValue at lower time instead
//     of being asked of the driver; any other expression, including a
//     partly constant one, is kept as it is.
package lower

import (
	"github.com/toasty-orm/toasty/hir"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/simplify"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

// Lowerer holds the schema a statement is lowered against. It carries no
// per-call state; concurrent Lower calls against the same Lowerer are safe.
type Lowerer struct {
	Schema *schema.Schema
}

func New(s *schema.Schema) *Lowerer {
	return &Lowerer{Schema: s}
}

// scope is one entry in the nesting stack: which HIR statement is "current"
// at this depth, and which model that statement's rows are shaped like (for
// resolving model-space field references).
type scope struct {
	stmtID hir.StmtId
	model  schema.ModelId
}

type lowering struct {
	l      *Lowerer
	hir    *hir.HirStatement
	scopes []scope
}

// Lower rewrites s into table-space statements rooted in the returned
// hir.HirStatement; hir.RootID() names the top-level statement.
func (l *Lowerer) Lower(s *stmt.Statement) (*hir.HirStatement, error) {
	h := hir.New()
	rootID := h.NewStatementInfo(nil)

	model, ok := stmt.TargetModel(s)
	if !ok {
		return nil, tserr.Adhoc("lower: statement has no resolvable target model")
	}

	lw := &lowering{l: l, hir: h}
	lw.scopes = append(lw.scopes, scope{stmtID: rootID, model: schema.ModelId(model)})

	lowered, err := lw.lowerStatement(s)
	if err != nil {
		return nil, err
	}
	lowered = simplify.Statement(lowered)
	h.Get(rootID).Stmt = lowered
	return h, nil
}

func (lw *lowering) current() scope { return lw.scopes[len(lw.scopes)-1] }

func (lw *lowering) mapping() (*schema.ModelMapping, error) {
	mm, ok := lw.l.Schema.Mapping.Get(lw.current().model)
	if !ok {
		return nil, tserr.Adhoc("lower: no mapping for model %d", lw.current().model)
	}
	return mm, nil
}

func (lw *lowering) lowerStatement(s *stmt.Statement) (*stmt.Statement, error) {
	out := *s
	var err error
	switch {
	case out.Query != nil:
		q := *out.Query
		if err = lw.lowerQuery(&q); err != nil {
			return nil, err
		}
		out.Query = &q
	case out.Insert != nil:
		i := *out.Insert
		if i.Source != nil {
			if err = lw.lowerQuery(i.Source); err != nil {
				return nil, err
			}
		}
		target, tid, err2 := lw.lowerTarget(i.Target)
		if err2 != nil {
			return nil, err2
		}
		i.Target = target
		if i.Returning, err = lw.lowerReturning(i.Returning, tid); err != nil {
			return nil, err
		}
		out.Insert = &i
	case out.Update != nil:
		u := *out.Update
		var tid schema.TableId
		u.Target, tid, err = lw.lowerUpdateTarget(u.Target)
		if err != nil {
			return nil, err
		}
		if u.Filter, err = lw.lowerExpr(u.Filter); err != nil {
			return nil, err
		}
		if u.Condition, err = lw.lowerExpr(u.Condition); err != nil {
			return nil, err
		}
		assignments := make(map[int]stmt.Assignment, len(u.Assignments))
		for k, a := range u.Assignments {
			lowered, lerr := lw.lowerExpr(a.Expr)
			if lerr != nil {
				return nil, lerr
			}
			col, cerr := lw.fieldColumn(k)
			if cerr != nil {
				return nil, cerr
			}
			a.Expr = lowered
			assignments[col.Index] = a
		}
		u.Assignments = assignments
		if u.Returning, err = lw.lowerReturning(u.Returning, tid); err != nil {
			return nil, err
		}
		out.Update = &u
	case out.Delete != nil:
		d := *out.Delete
		from, tid, err2 := lw.lowerSource(d.From)
		if err2 != nil {
			return nil, err2
		}
		d.From = from
		if d.Filter, err = lw.lowerExpr(d.Filter); err != nil {
			return nil, err
		}
		if d.Returning, err = lw.lowerReturning(d.Returning, tid); err != nil {
			return nil, err
		}
		out.Delete = &d
	}
	return &out, nil
}

func (lw *lowering) lowerQuery(q *stmt.Query) error {
	body, err := lw.lowerExprSet(q.Body)
	if err != nil {
		return err
	}
	q.Body = body
	for i := range q.OrderBy {
		if q.OrderBy[i].Expr, err = lw.lowerExpr(q.OrderBy[i].Expr); err != nil {
			return err
		}
	}
	if q.Limit, err = lw.lowerExpr(q.Limit); err != nil {
		return err
	}
	if q.Offset, err = lw.lowerExpr(q.Offset); err != nil {
		return err
	}
	return nil
}

func (lw *lowering) lowerExprSet(body stmt.ExprSet) (stmt.ExprSet, error) {
	switch v := body.(type) {
	case stmt.Select:
		source, tid, err := lw.lowerSource(v.Source)
		if err != nil {
			return nil, err
		}
		v.Source = source
		if v.Filter, err = lw.lowerExpr(v.Filter); err != nil {
			return nil, err
		}
		if v.Returning, err = lw.lowerReturning(v.Returning, tid); err != nil {
			return nil, err
		}
		return v, nil
	case stmt.Values:
		for r := range v.Rows {
			for c := range v.Rows[r] {
				lowered, err := lw.lowerExpr(v.Rows[r][c])
				if err != nil {
					return nil, err
				}
				v.Rows[r][c] = lowered
			}
		}
		return v, nil
	case stmt.SetOp:
		operands := make([]stmt.ExprSet, len(v.Operands))
		for i, operand := range v.Operands {
			lowered, err := lw.lowerExprSet(operand)
			if err != nil {
				return nil, err
			}
			operands[i] = lowered
		}
		v.Operands = operands
		return v, nil
	default:
		return body, nil
	}
}

// lowerSource converts a model-space Source into a table-space one, and
// reports the resulting TableId so callers can build column-level RETURNING
// constants.
func (lw *lowering) lowerSource(src stmt.Source) (stmt.Source, schema.TableId, error) {
	model, ok := src.(stmt.SourceModel)
	if !ok {
		if table, ok := src.(stmt.SourceTable); ok {
			return table, schema.TableId(table.Table.Table), nil
		}
		return src, 0, nil
	}
	mm, ok := lw.l.Schema.Mapping.Get(schema.ModelId(model.Model))
	if !ok {
		return nil, 0, tserr.Adhoc("lower: no mapping for model %d", model.Model)
	}
	table := stmt.SourceTable{Table: stmt.TableRef{Table: int(mm.Table)}}
	for _, path := range model.Include {
		if err := lw.addPreload(schema.ModelId(model.Model), mm, path); err != nil {
			return nil, 0, err
		}
	}
	return table, mm.Table, nil
}

// addPreload records an include() path as a hir.ArgPreload on the current
// statement (spec §4.4 step 5). Only a direct relation field name is
// supported ("todos"); a multi-hop path ("todos.tags") returns
// tserr.UnsupportedFeature (see DESIGN.md).
func (lw *lowering) addPreload(model schema.ModelId, mm *schema.ModelMapping, path stmt.Path) error {
	if len(path) == 0 {
		return nil
	}
	if len(path) > 1 {
		return tserr.UnsupportedFeature("include() of a multi-hop relation path")
	}
	root, ok := lw.l.Schema.Root(model)
	if !ok {
		return tserr.Adhoc("lower: include() on non-root model %d", model)
	}
	fieldIndex := -1
	for i, f := range root.Fields {
		if f.Name == path[0] {
			fieldIndex = i
			break
		}
	}
	if fieldIndex < 0 {
		return tserr.Adhoc("lower: include(%q): no such field on %s", path[0], root.Name)
	}
	rel, ok := mm.Fields[fieldIndex].(schema.RelationMapping)
	if !ok || len(rel.ChildFKColumns) == 0 {
		return tserr.UnsupportedFeature("include() requires a has-many/has-one relation field")
	}

	source := lw.hir.Get(lw.current().stmtID)
	source.Args = append(source.Args, hir.NewPreloadArg(hir.Preload{
		FieldIndex:    fieldIndex,
		ChildTable:    rel.TargetTable,
		ParentKeyCols: rel.OwnerKeyColumns,
		ChildKeyCols:  rel.ChildFKColumns,
	}))
	return nil
}

func (lw *lowering) lowerTarget(t stmt.InsertTarget) (stmt.InsertTarget, schema.TableId, error) {
	model, ok := t.(stmt.InsertTargetModel)
	if !ok {
		if table, ok := t.(stmt.InsertTargetTable); ok {
			return table, schema.TableId(table.Table), nil
		}
		return t, 0, nil
	}
	mm, ok := lw.l.Schema.Mapping.Get(schema.ModelId(model.Model))
	if !ok {
		return nil, 0, tserr.Adhoc("lower: no mapping for model %d", model.Model)
	}
	cols := make([]int, 0, len(mm.ModelToTable))
	for _, c := range mm.TableToModel {
		cols = append(cols, c.Index)
	}
	return stmt.InsertTargetTable{Table: int(mm.Table), Columns: cols}, mm.Table, nil
}

func (lw *lowering) lowerUpdateTarget(t stmt.UpdateTarget) (stmt.UpdateTarget, schema.TableId, error) {
	model, ok := t.(stmt.UpdateTargetModel)
	if !ok {
		if table, ok := t.(stmt.UpdateTargetTable); ok {
			return table, schema.TableId(table.Table), nil
		}
		return t, 0, nil
	}
	mm, ok := lw.l.Schema.Mapping.Get(schema.ModelId(model.Model))
	if !ok {
		return nil, 0, tserr.Adhoc("lower: no mapping for model %d", model.Model)
	}
	return stmt.UpdateTargetTable{Table: int(mm.Table)}, mm.Table, nil
}

// fieldColumn resolves a model-space field index to the single column an
// assignment targets. A BelongsTo field with exactly one foreign-key column
// rewrites to that column (spec §4.2 "relation elimination" extended to
// assignment); a composite foreign key or a HasMany/HasOne field on the LHS
// of an update is out of scope here (tracked in DESIGN.md) since it needs
// per-column value splitting or paired-row insertion/removal, not a single
// column assignment.
func (lw *lowering) fieldColumn(fieldIndex int) (schema.ColumnId, error) {
	mm, err := lw.mapping()
	if err != nil {
		return schema.ColumnId{}, err
	}
	if fieldIndex < 0 || fieldIndex >= len(mm.Fields) {
		return schema.ColumnId{}, tserr.Adhoc("lower: field index %d out of range", fieldIndex)
	}
	switch fm := mm.Fields[fieldIndex].(type) {
	case schema.PrimitiveMapping:
		return fm.Column, nil
	case schema.RelationMapping:
		if len(fm.FKColumns) == 1 {
			return fm.FKColumns[0], nil
		}
		return schema.ColumnId{}, tserr.UnsupportedFeature("assignment to a composite or has-many/has-one relation field")
	default:
		return schema.ColumnId{}, tserr.UnsupportedFeature("assignment to a struct/enum field directly; assign its leaves instead")
	}
}

// lowerReturning rewrites a Returning clause's expression (if any) and
// constantizes it when the simplified result is a single literal value.
func (lw *lowering) lowerReturning(r stmt.Returning, _ schema.TableId) (stmt.Returning, error) {
	re, ok := r.(stmt.ReturningExpr)
	if !ok {
		return r, nil
	}
	lowered, err := lw.lowerExpr(re.Expr)
	if err != nil {
		return nil, err
	}
	lowered = simplify.Expr(lowered)
	if stmt.IsConst(lowered) {
		if v, ok := lowered.(stmt.ExprValue); ok {
			return stmt.ReturningValue{Value: v.Value}, nil
		}
	}
	return stmt.ReturningExpr{Expr: lowered}, nil
}

// lowerExpr applies field->column substitution and extracts any nested
// ExprStmt/cross-scope ExprReference it finds, post-order via stmt.Transform
// so children are already lowered before a parent rule fires.
func (lw *lowering) lowerExpr(e stmt.Expr) (stmt.Expr, error) {
	if e == nil {
		return nil, nil
	}
	var firstErr error
	out := stmt.Transform(e, func(node stmt.Expr) stmt.Expr {
		if firstErr != nil {
			return node
		}
		rewritten, err := lw.lowerExprNode(node)
		if err != nil {
			firstErr = err
			return node
		}
		return rewritten
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (lw *lowering) lowerExprNode(e stmt.Expr) (stmt.Expr, error) {
	switch v := e.(type) {
	case stmt.ExprReference:
		return lw.lowerReference(v)
	case stmt.ExprStmt:
		return lw.extractSubStatement(v)
	default:
		return e, nil
	}
}

// lowerReference turns a model-space field reference into a table-space
// column reference, or (when Nesting > 0) into an ExprArg fed by a
// cross-scope back-ref. Relation elimination and embedded flattening (spec
// §4.2 items 1/3) happen here: a BelongsTo field collapses into its
// foreign-key column(s), an embedded struct/enum field expands into a
// Record of its flattened columns, and a HasMany/HasOne field resolves to a
// placeholder slot the operation planner's Associate action fills in after
// its preload sub-select runs (spec §4.4 step 5).
func (lw *lowering) lowerReference(ref stmt.ExprReference) (stmt.Expr, error) {
	if ref.Target == stmt.RefColumn {
		return ref, nil // already table-space
	}
	if ref.Nesting > 0 {
		return lw.crossScopeRef(ref)
	}

	mm, err := lw.mapping()
	if err != nil {
		return nil, err
	}
	if ref.Index < 0 || ref.Index >= len(mm.Fields) {
		return nil, tserr.Adhoc("lower: field index %d out of range for model", ref.Index)
	}

	switch fm := mm.Fields[ref.Index].(type) {
	case schema.PrimitiveMapping:
		return stmt.ColRef(fm.Column.Index), nil

	case schema.RelationMapping:
		switch {
		case len(fm.FKColumns) == 1:
			return stmt.ColRef(fm.FKColumns[0].Index), nil
		case len(fm.FKColumns) > 1:
			fields := make([]stmt.Expr, len(fm.FKColumns))
			for i, c := range fm.FKColumns {
				fields[i] = stmt.ColRef(c.Index)
			}
			return stmt.ExprRecord{Fields: fields}, nil
		default:
			// HasMany/HasOne: the value is supplied post-hoc by Associate,
			// once its preload sub-select has run (see lowerSource).
			return stmt.ExprValue{Value: stmt.Null()}, nil
		}

	case schema.StructMapping:
		fields := make([]stmt.Expr, len(fm.Columns))
		for i, entry := range fm.Columns {
			fields[i] = stmt.ColRef(entry.Column.Index)
		}
		return stmt.ExprRecord{Fields: fields}, nil

	case schema.EnumMapping:
		fields := []stmt.Expr{stmt.ColRef(fm.DiscColumn.Index)}
		for _, variant := range fm.Variants {
			for _, vf := range variant.Fields {
				if prim, ok := vf.(schema.PrimitiveMapping); ok {
					fields = append(fields, stmt.ColRef(prim.Column.Index))
				}
			}
		}
		return stmt.ExprRecord{Fields: fields}, nil

	default:
		return nil, tserr.UnsupportedFeature("referencing this field kind directly")
	}
}

// crossScopeRef records a back-ref on the ancestor scope at the given
// nesting depth and replaces the reference with a placeholder ExprArg,
// following original_source's new_ref: the stored copy's Nesting resets to
// 0 since it will be read from the *target* statement's own row.
func (lw *lowering) crossScopeRef(ref stmt.ExprReference) (stmt.Expr, error) {
	depth := len(lw.scopes) - 1 - ref.Nesting
	if depth < 0 {
		return nil, tserr.Adhoc("lower: reference nesting %d exceeds scope depth", ref.Nesting)
	}
	sourceID := lw.current().stmtID
	targetID := lw.scopes[depth].stmtID

	stored := ref
	stored.Nesting = 0

	target := lw.hir.Get(targetID)
	if target.BackRefs == nil {
		target.BackRefs = make(map[hir.StmtId]*hir.BackRef)
	}
	br, ok := target.BackRefs[sourceID]
	if !ok {
		br = hir.NewBackRef()
		target.BackRefs[sourceID] = br
	}
	batchLoadIndex := backRefIndex(br, stored)

	source := lw.hir.Get(sourceID)
	position := len(source.Args)
	source.Args = append(source.Args, hir.NewRefArg(targetID, ref.Nesting, batchLoadIndex))

	return stmt.ArgRef(position), nil
}

func backRefIndex(br *hir.BackRef, ref stmt.ExprReference) int {
	for i, existing := range br.Exprs {
		if existing.Target == ref.Target && existing.Index == ref.Index {
			return i
		}
	}
	br.AddExpr(ref)
	return len(br.Exprs) - 1
}

// extractSubStatement lowers a nested statement (a correlated subquery)
// into its own HIR statement, replacing the ExprStmt
// node with an ExprArg that the operation planner later wires to the
// sub-statement's result.
func (lw *lowering) extractSubStatement(es stmt.ExprStmt) (stmt.Expr, error) {
	sourceID := lw.current().stmtID
	targetID := lw.hir.NewStatementInfo(nil)

	targetModel, _ := stmt.TargetModel(es.Stmt)
	lw.scopes = append(lw.scopes, scope{stmtID: targetID, model: schema.ModelId(targetModel)})
	lowered, err := lw.lowerStatement(es.Stmt)
	lw.scopes = lw.scopes[:len(lw.scopes)-1]
	if err != nil {
		return nil, err
	}
	lowered = simplify.Statement(lowered)
	lw.hir.Get(targetID).Stmt = lowered

	source := lw.hir.Get(sourceID)
	position := len(source.Args)
	source.Args = append(source.Args, hir.NewSubArg(targetID, false))
	source.AddDep(targetID)

	return stmt.ArgRef(position), nil
}
