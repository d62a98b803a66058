// Package op implements the operation planner: it walks a lowered
// hir.HirStatement and produces a DAG of Actions an engine.Executor can run
// against a driver.Driver, in dependency order.
//
// Grounded on original_source/crates/toasty/src/engine/planner/ng (the HIR
// consumer) for the Sub/Ref wiring shape, and on
// rediwo-redi-orm/base/schema_sorter.go for the DFS+InStack topological-sort
// pattern, reworked to tolerate the cycles HIR deliberately allows for
// preload chains (a back-edge is treated as already-satisfied rather than a
// hard error, since preload cycles are broken by construction: the parent
// statement always executes before the child that references it).
package op

import (
	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/hir"
	"github.com/toasty-orm/toasty/logger"
	"github.com/toasty-orm/toasty/planner/index"
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
	"github.com/toasty-orm/toasty/tserr"
)

// VarRef names one slot in the executor's VarTable.
type VarRef int

// Action is the sum type of steps in an operation plan.
type Action interface {
	actionKind() string
}

// ExecStatement runs a fully-lowered, access-path-chosen statement against
// the driver and stores its result rows (or scalar) into Out.
type ExecStatement struct {
	StmtID  hir.StmtId
	Table   schema.TableId
	Driver  driver.Operation
	Columns []schema.ColumnId
	Args    []VarRef
	Out     VarRef
}

func (ExecStatement) actionKind() string { return "exec_statement" }

// GetByKey fetches exact-key rows, substituting Args values first.
type GetByKey struct {
	StmtID hir.StmtId
	Table  schema.TableId
	Keys   stmt.Expr // literal list or Arg, resolved against Args at run time
	Args   []VarRef
	Out    VarRef
}

func (GetByKey) actionKind() string { return "get_by_key" }

// QueryPk scans a primary-key range, substituting Args first.
type QueryPk struct {
	StmtID hir.StmtId
	Table  schema.TableId
	Filter stmt.Expr
	Args   []VarRef
	Out    VarRef
}

func (QueryPk) actionKind() string { return "query_pk" }

// UpdateByKey applies a (possibly conditional) targeted update.
type UpdateByKey struct {
	StmtID hir.StmtId
	Table  schema.TableId
	Op     driver.UpdateByKey
	Args   []VarRef
	Out    VarRef
}

func (UpdateByKey) actionKind() string { return "update_by_key" }

// FindPkByIndex resolves a secondary-index filter to primary keys.
type FindPkByIndex struct {
	StmtID hir.StmtId
	Table  schema.TableId
	Index  *schema.DbIndex
	Filter stmt.Expr
	Args   []VarRef
	Out    VarRef
}

func (FindPkByIndex) actionKind() string { return "find_pk_by_index" }

// PreloadQuery batch-loads ChildTable filtered by an IN-list built at
// execution time from Parent's already-materialized rows (the distinct
// values of ParentKeyCols), matched against ChildKeyCols -- the
// "subsidiary Select" half of an include() path (spec §4.4 step 5). A
// following Associate action attaches its rows to Parent.
type PreloadQuery struct {
	Parent        VarRef
	ChildTable    schema.TableId
	ParentKeyCols []schema.ColumnId
	ChildKeyCols  []schema.ColumnId
	Out           VarRef
}

func (PreloadQuery) actionKind() string { return "preload_query" }

// Associate merges a batch-loaded related-table result (Child) into a parent
// result set (Parent) by matching ParentKeyCols on the parent side against
// ChildKeyCols on the child side, attaching under FieldIndex.
type Associate struct {
	Parent        VarRef
	Child         VarRef
	ParentKeyCols []schema.ColumnId
	ChildKeyCols  []schema.ColumnId
	FieldIndex    int
	Out           VarRef
}

func (Associate) actionKind() string { return "associate" }

// NestedMerge merges a correlated sub-statement's scalar/row result (Child)
// into each row of Parent at FieldIndex; used for Arg.Sub{Returning: true}.
type NestedMerge struct {
	Parent     VarRef
	Child      VarRef
	FieldIndex int
	Out        VarRef
}

func (NestedMerge) actionKind() string { return "nested_merge" }

// SetVar stores a constant or previously-computed expression directly into
// a VarTable slot without a driver round-trip (e.g. a constantized RETURNING
// value, or a literal argument list).
type SetVar struct {
	Expr stmt.Expr
	Out  VarRef
}

func (SetVar) actionKind() string { return "set_var" }

// Plan is the ordered DAG the executor runs; Actions is already in a valid
// execution order (every action's inputs were assigned an Out by an earlier
// action).
type Plan struct {
	Actions []Action
	Root    VarRef
}

type builder struct {
	h        *hir.HirStatement
	schema   *schema.Schema
	cap      driver.Capability
	log      logger.Logger
	actions  []Action
	outputOf map[hir.StmtId]VarRef
	nextVar  VarRef
	visited  map[hir.StmtId]bool
	inStack  map[hir.StmtId]bool
}

// Build walks h in dependency order and emits a Plan. Statement 0 (the
// root) is always the final action's output.
func Build(s *schema.Schema, cap driver.Capability, h *hir.HirStatement) (*Plan, error) {
	b := &builder{
		h:        h,
		schema:   s,
		cap:      cap,
		log:      logger.NewDefaultLogger("planner/op"),
		outputOf: make(map[hir.StmtId]VarRef),
		visited:  make(map[hir.StmtId]bool),
		inStack:  make(map[hir.StmtId]bool),
	}
	if err := b.visit(h.RootID()); err != nil {
		return nil, err
	}
	return &Plan{Actions: b.actions, Root: b.outputOf[h.RootID()]}, nil
}

func (b *builder) allocVar() VarRef {
	v := b.nextVar
	b.nextVar++
	return v
}

// visit emits actions for id and everything it depends on, post-order, so
// that by the time id's own action is appended, every dependency already
// has an Out assigned. A back-edge (id already in the active DFS stack) is
// treated as satisfied: HIR cycles only arise from preload back-references,
// which are always resolved through an already-executed ancestor.
func (b *builder) visit(id hir.StmtId) error {
	if b.visited[id] || b.inStack[id] {
		return nil
	}
	b.inStack[id] = true
	defer func() { b.inStack[id] = false }()

	info := b.h.Get(id)

	for dep := range info.Deps {
		if err := b.visit(dep); err != nil {
			return err
		}
	}
	for _, arg := range info.Args {
		if arg.Kind == hir.ArgPreload {
			continue // no sub-statement backs this arg; see emit's post-pass
		}
		if err := b.visit(arg.StmtID); err != nil {
			return err
		}
	}

	out, err := b.emit(id, info)
	if err != nil {
		return err
	}

	// Fold any Sub(returning=true) / Ref / Preload args in as post-processing
	// steps over the statement's own output.
	for _, arg := range info.Args {
		switch arg.Kind {
		case hir.ArgSub:
			if arg.Returning {
				merged := b.allocVar()
				b.actions = append(b.actions, NestedMerge{
					Parent: out, Child: b.outputOf[arg.StmtID], FieldIndex: 0, Out: merged,
				})
				out = merged
			}
		case hir.ArgPreload:
			p := arg.Preload
			b.log.Debug("preload: table=%d field=%d parent_cols=%v child_cols=%v",
				p.ChildTable, p.FieldIndex, p.ParentKeyCols, p.ChildKeyCols)
			childOut := b.allocVar()
			b.actions = append(b.actions, PreloadQuery{
				Parent: out, ChildTable: p.ChildTable,
				ParentKeyCols: p.ParentKeyCols, ChildKeyCols: p.ChildKeyCols, Out: childOut,
			})
			merged := b.allocVar()
			b.actions = append(b.actions, Associate{
				Parent: out, Child: childOut,
				ParentKeyCols: p.ParentKeyCols, ChildKeyCols: p.ChildKeyCols,
				FieldIndex: p.FieldIndex, Out: merged,
			})
			out = merged
		}
	}

	b.visited[id] = true
	b.outputOf[id] = out
	return nil
}

func (b *builder) emit(id hir.StmtId, info *hir.StatementInfo) (VarRef, error) {
	if info.Stmt == nil {
		return VarRef(0), tserr.Adhoc("op: statement %d has no lowered body", id)
	}

	args := make([]VarRef, len(info.Args))
	for i, arg := range info.Args {
		args[i] = b.outputOf[arg.StmtID]
	}

	tableID, err := statementTable(info.Stmt)
	if err != nil {
		return VarRef(0), err
	}

	filter := stmt.FilterOf(info.Stmt)
	table := b.schema.Db.Table(tableID)
	if table == nil {
		return VarRef(0), tserr.Adhoc("op: unknown table %d", tableID)
	}

	out := b.allocVar()

	// SQL backends always send the full lowered statement to the driver
	// (spec §4.4 step 2); the key-based access paths below (GetByKey,
	// FindPkByIndex, QueryPk) are reserved for non-SQL (KV) backends, whose
	// drivers have no statement-level query language to render against.
	if !b.cap.Sql && info.Stmt.Query != nil && filter != nil {
		plan, err := index.Plan(table, b.cap, filter)
		if err != nil {
			return VarRef(0), err
		}
		if plan.HasPkKeys {
			b.log.Debug("plan: stmt=%d table=%d action=get_by_key", id, tableID)
			b.actions = append(b.actions, GetByKey{
				StmtID: id, Table: tableID, Keys: plan.KeyValues, Args: args, Out: out,
			})
			return out, nil
		}
		if plan.Index != nil && !isPrimaryIndex(table, plan.Index) {
			b.log.Debug("plan: stmt=%d table=%d action=find_pk_by_index index=%s", id, tableID, plan.Index.Name)
			b.actions = append(b.actions, FindPkByIndex{
				StmtID: id, Table: tableID, Index: plan.Index, Filter: plan.IndexFilter, Args: args, Out: out,
			})
			return out, nil
		}
		b.log.Debug("plan: stmt=%d table=%d action=query_pk", id, tableID)
		b.actions = append(b.actions, QueryPk{
			StmtID: id, Table: tableID, Filter: filter, Args: args, Out: out,
		})
		return out, nil
	}

	if info.Stmt.Update != nil {
		u := info.Stmt.Update
		b.log.Debug("plan: stmt=%d table=%d action=update_by_key", id, tableID)
		b.actions = append(b.actions, UpdateByKey{
			StmtID: id, Table: tableID,
			Op: driver.UpdateByKey{
				Table:       tableID,
				Filter:      u.Filter,
				Assignments: u.Assignments,
				Condition:   u.Condition,
				Returning:   u.Returning,
			},
			Args: args, Out: out,
		})
		return out, nil
	}

	// MySQL-style backends that can't natively RETURNING from an INSERT ask
	// the driver to re-SELECT the row by its auto-generated key instead
	// (spec §4.5's last_insert_id_hack).
	lastInsertIDHack := info.Stmt.Insert != nil && b.cap.AutoIncrement && !b.cap.ReturningFromMutation
	b.log.Debug("plan: stmt=%d table=%d action=exec_statement last_insert_id_hack=%v", id, tableID, lastInsertIDHack)
	b.actions = append(b.actions, ExecStatement{
		StmtID: id, Table: tableID,
		Driver: driver.QuerySql{
			Stmt: info.Stmt, Returning: stmt.ReturningOf(info.Stmt), LastInsertIdHack: lastInsertIDHack,
		},
		Args: args, Out: out,
	})
	return out, nil
}

func statementTable(s *stmt.Statement) (schema.TableId, error) {
	switch {
	case s.Query != nil:
		if sel, ok := s.Query.Body.(stmt.Select); ok {
			if t, ok := sel.Source.(stmt.SourceTable); ok {
				return schema.TableId(t.Table.Table), nil
			}
		}
	case s.Insert != nil:
		if t, ok := s.Insert.Target.(stmt.InsertTargetTable); ok {
			return schema.TableId(t.Table), nil
		}
	case s.Update != nil:
		if t, ok := s.Update.Target.(stmt.UpdateTargetTable); ok {
			return schema.TableId(t.Table), nil
		}
	case s.Delete != nil:
		if t, ok := s.Delete.From.(stmt.SourceTable); ok {
			return schema.TableId(t.Table.Table), nil
		}
	}
	return 0, tserr.Adhoc("op: statement has not been lowered to a table target")
}

func isPrimaryIndex(table *schema.Table, idx *schema.DbIndex) bool {
	if len(idx.Columns) != len(table.PrimaryKey.Columns) {
		return false
	}
	for i, c := range idx.Columns {
		if c != table.PrimaryKey.Columns[i] {
			return false
		}
	}
	return true
}
