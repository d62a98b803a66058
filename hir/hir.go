// Package hir implements the high-level intermediate representation the
// lowerer produces and the operation planner consumes: a collection of
// related statements with tracked dependencies, captured after
// model-to-table lowering but before operation-graph construction.
//
// The dependency graph may contain cycles when preloading associations
// (e.g. users -> todos -> users); breaking those cycles is the operation
// planner's job, not this package's.
//
// Grounded on original_source/crates/toasty/src/engine/hir.rs, reworked
// around a Go slice-arena (StatementInfo indexed by StmtId) in place of the
// Rust source's IndexVec, and plain mutable fields in place of Cell/OnceCell
// (Go has no aliasing discipline to protect against, so there is nothing
// those types were guarding here).
package hir

import (
	"github.com/toasty-orm/toasty/schema"
	"github.com/toasty-orm/toasty/stmt"
)

// StmtId indexes into an HirStatement's statement arena. The root statement
// is always id 0, the first one inserted.
type StmtId int

// NoNode marks an ExecStatement/Output/BatchLoadIndex slot not yet assigned
// by the planner.
const NoNode = -1

// HirStatement is the full set of statements lowering produced for one
// top-level query/insert/update/delete, plus their interdependencies.
type HirStatement struct {
	store []StatementInfo
}

func New() *HirStatement {
	return &HirStatement{}
}

// Insert appends info and returns its assigned StmtId.
func (h *HirStatement) Insert(info StatementInfo) StmtId {
	id := StmtId(len(h.store))
	h.store = append(h.store, info)
	return id
}

// NewStatementInfo inserts a fresh StatementInfo with the given dependency
// set and returns its id.
func (h *HirStatement) NewStatementInfo(deps map[StmtId]struct{}) StmtId {
	return h.Insert(StatementInfo{Deps: deps, ExecStatement: NoNode, Output: NoNode})
}

func (h *HirStatement) RootID() StmtId { return 0 }

func (h *HirStatement) Root() *StatementInfo { return &h.store[0] }

func (h *HirStatement) Get(id StmtId) *StatementInfo { return &h.store[id] }

func (h *HirStatement) Len() int { return len(h.store) }

// IDs returns every StmtId currently in the arena, in insertion order.
func (h *HirStatement) IDs() []StmtId {
	ids := make([]StmtId, len(h.store))
	for i := range h.store {
		ids[i] = StmtId(i)
	}
	return ids
}

// StatementInfo is the metadata for one statement that will execute as a
// separate database operation. Not every sub-expression of the original
// query becomes a StatementInfo -- only the root and any nested
// sub-statements (ExprStmt) extracted during lowering; include() paths stay
// on their owning statement as ArgPreload args.
type StatementInfo struct {
	// Stmt is the lowered, table-space statement to execute. nil until
	// lowering finishes populating it.
	Stmt *stmt.Statement

	// Deps are statement ids that must execute before this one, even when
	// this statement doesn't consume their result (e.g. an UPDATE that must
	// follow a prior INSERT for referential integrity).
	Deps map[StmtId]struct{}

	// Args are values that flow into this statement from other statements
	// (a Sub sub-statement result, or a Ref to a parent's columns).
	Args []Arg

	// BackRefs maps a child statement id to the set of this statement's
	// columns that child references; those columns must be included in this
	// statement's own batch-load query so NestedMerge/Associate can stitch
	// parent and child rows back together.
	BackRefs map[StmtId]*BackRef

	// ExecStatement is the planner's node id for the operation that runs
	// this statement's query. NoNode until planning sets it.
	ExecStatement int

	// Output is the planner's node id for this statement's final result,
	// which may differ from ExecStatement when post-processing (filter,
	// projection, nested merge) follows the raw exec.
	Output int
}

// AddDep records that this statement must execute after dep.
func (si *StatementInfo) AddDep(dep StmtId) {
	if si.Deps == nil {
		si.Deps = make(map[StmtId]struct{})
	}
	si.Deps[dep] = struct{}{}
}

// BackRef tracks columns a child statement references back on its parent,
// plus the planner node id of the projection that extracts them.
type BackRef struct {
	Exprs  []stmt.ExprReference
	NodeID int
}

func NewBackRef() *BackRef { return &BackRef{NodeID: NoNode} }

// AddExpr records one more referenced column, deduplicating by (Target,
// Index); Nesting is not part of the identity since a BackRef only ever
// holds references with the same nesting depth relative to its owner.
func (b *BackRef) AddExpr(ref stmt.ExprReference) {
	for _, existing := range b.Exprs {
		if existing.Target == ref.Target && existing.Index == ref.Index {
			return
		}
	}
	b.Exprs = append(b.Exprs, ref)
}

// ArgKind discriminates Arg's three forms.
type ArgKind int

const (
	ArgSub ArgKind = iota
	ArgRef
	// ArgPreload marks an include() path (spec §4.4 step 5): the operation
	// planner batch-loads ChildTable filtered by ChildKeyCols against the
	// owning statement's own ParentKeyCols, then Associates the result under
	// FieldIndex, rather than folding a scalar Sub result via NestedMerge.
	ArgPreload
)

// Arg is Sub | Ref | Preload: data flowing into a statement from a
// sub-statement's result, from a parent statement's projected columns, or
// from an include() batch load.
type Arg struct {
	Kind ArgKind

	// StmtID is the statement id supplying this argument's data (the
	// sub-statement for Sub, the parent for Ref).
	StmtID StmtId

	// Returning is meaningful for Sub: true when the sub-statement's result
	// is merged into the parent's rows via NestedMerge, false when it only
	// feeds a filter expression.
	Returning bool

	// Nesting and BatchLoadIndex are meaningful for Ref: how many scope
	// levels up the referenced parent sits, and which column of the
	// parent's batch-load result this argument reads.
	Nesting        int
	BatchLoadIndex int

	// Input is the index this argument occupies in the operation's input
	// list once the planner has wired it; NoNode until then.
	Input int

	// Preload is set only for ArgPreload args; nil otherwise.
	Preload *Preload
}

// Preload carries the key columns and target table an include() path needs
// for the operation planner to build a preload sub-select and Associate its
// rows back onto the parent.
type Preload struct {
	FieldIndex    int
	ChildTable    schema.TableId
	ParentKeyCols []schema.ColumnId
	ChildKeyCols  []schema.ColumnId
}

func NewSubArg(stmtID StmtId, returning bool) Arg {
	return Arg{Kind: ArgSub, StmtID: stmtID, Returning: returning, Input: NoNode}
}

func NewRefArg(stmtID StmtId, nesting, batchLoadIndex int) Arg {
	return Arg{Kind: ArgRef, StmtID: stmtID, Nesting: nesting, BatchLoadIndex: batchLoadIndex, Input: NoNode}
}

func NewPreloadArg(p Preload) Arg {
	return Arg{Kind: ArgPreload, StmtID: NoNode, Input: NoNode, Preload: &p}
}
